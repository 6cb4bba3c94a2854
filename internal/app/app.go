package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"nagbot/internal/backend"
	"nagbot/internal/chatsurface"
	"nagbot/internal/engage"
	"nagbot/internal/eventbus"
	"nagbot/internal/httpapi"
	"nagbot/internal/hub"
	"nagbot/internal/session"
	"nagbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store session.Store

	be    *backend.Client
	clk   *engage.Clock
	coord *engage.Coordinator
	hub   *hub.Hub
	api   *httpapi.Server

	cron *cron.Cron
	// tickSpec is the cron spec the tick was registered with; re-registering
	// on reload is not supported, so a changed spec only warns.
	tickSpec string
	httpE    chan error
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Logging service mapping.
	// logx.New() calls Apply() immediately; the event sink (the bus) doesn't
	// exist yet, so bootstrap with events disabled, install the sink, then
	// Apply() the final config.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Events: logx.EventsConfig{
			Enabled:    false, // install sink first, then enable via Apply()
			MinLevel:   cfg.Logging.Events.MinLevel,
			RatePerSec: cfg.Logging.Events.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, nil)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	logSvc.SetEventSink(busSink{bus})

	finalLogCfg := baseLogCfg
	finalLogCfg.Events.Enabled = cfg.Logging.Events.Enabled
	logSvc.Apply(finalLogCfg)

	// Session store (per-run; wiped on Start).
	sc := session.Config{Driver: "memory"}
	if cfg.Session != nil {
		busy, err := parseDurationOrDefault("session.busy_timeout", cfg.Session.BusyTimeout, 0)
		if err != nil {
			return nil, err
		}
		sc = session.Config{
			Driver:      cfg.Session.Driver,
			Path:        cfg.Session.Path,
			BusyTimeout: busy,
		}
	}
	store, err := session.Open(sc, log.With(logx.String("comp", "session")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("session store enabled", logx.String("driver", sc.Driver))
	}

	// Backend client.
	timeout, err := cfg.BackendTimeout()
	if err != nil {
		return nil, err
	}
	be := backend.New(backend.Config{
		BaseURL:    cfg.Backend.BaseURL,
		Timeout:    timeout,
		RatePerSec: cfg.Backend.RatePerSec,
	}, log.With(logx.String("comp", "backend")))

	// Engagement clock + coordinator + hub. The hub broadcasts coordinator
	// decisions to connections; connections feed events back in. Construct
	// both, then Bind.
	pol, err := cfg.EngagePolicy()
	if err != nil {
		return nil, err
	}
	popupPol, err := cfg.PopupPolicy()
	if err != nil {
		return nil, err
	}
	clk := engage.NewClock(pol, 0)
	h := hub.New(popupPol, log.With(logx.String("comp", "hub")))
	coord := engage.NewCoordinator(clk, h, be, store, bus, log.With(logx.String("comp", "engage")))
	h.Bind(coord, func(pageURL string) *chatsurface.Session {
		return chatsurface.NewSession(pageURL, be, coord, store, log.With(logx.String("comp", "chat")))
	})

	api := httpapi.New(httpapi.Config{
		Addr:            cfg.HTTP.Addr,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, h, coord, bus, log.With(logx.String("comp", "http")))

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		be:       be,
		clk:      clk,
		coord:    coord,
		hub:      h,
		api:      api,
		cron:     c,
		tickSpec: cfg.TickSpec(),
		httpE:    make(chan error, 1),
	}, nil
}

// busSink republishes rate-limited log records onto the event bus.
type busSink struct{ bus eventbus.Bus }

func (s busSink) EmitLog(level, message string) {
	eventbus.Emit(s.bus, "log."+strings.ToLower(level), message)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		return cfg.Validate()
	})

	// A fresh daemon run means a fresh browsing session; stale unread payloads
	// and transcripts from a previous run must not leak into this one.
	if a.store != nil {
		if err := a.store.Reset(a.sup.Context()); err != nil {
			return fmt.Errorf("reset session store: %w", err)
		}
	}

	a.api.SetCounters(a.sup.Counters)
	a.api.Start(a.httpE)
	a.sup.Go("http.serve", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case err := <-a.httpE:
			return err
		}
	})

	cfg := a.cfgm.Get()
	if _, err := a.cron.AddFunc(cfg.TickSpec(), func() {
		a.coord.Tick(a.sup.Context(), time.Now())
	}); err != nil {
		return fmt.Errorf("engage tick spec: %w", err)
	}
	a.cron.Start()

	// Log bus events for observability/debug. Runs under GoRestart so a panic
	// in a log hook resubscribes instead of silencing events for the run.
	a.sup.GoRestart("eventbus.log", func(c context.Context) error {
		events, unsub := a.bus.Subscribe(128)
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload config fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}

				a.applyConfig(newCfg, sections)

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated config into running services. Sections that
// can't be swapped live (listener address, backend client, session store)
// get a restart-required warning instead.
func (a *App) applyConfig(cfg *Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
				Events: logx.EventsConfig{
					Enabled:    cfg.Logging.Events.Enabled,
					MinLevel:   cfg.Logging.Events.MinLevel,
					RatePerSec: cfg.Logging.Events.RatePerSec,
				},
			})
		case "engage":
			if pol, err := cfg.EngagePolicy(); err == nil {
				a.coord.Apply(pol)
			}
			if cfg.TickSpec() != a.tickSpec {
				a.log.Warn("config changed; restart required for changes to take effect", logx.String("section", "engage.tick"))
			}
		case "popup":
			if pol, err := cfg.PopupPolicy(); err == nil {
				a.hub.Apply(pol)
			}
		case "backend", "http", "session":
			a.log.Warn("config changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("cron", 2*time.Second, func(c context.Context) error {
		stopped := a.cron.Stop()
		select {
		case <-stopped.Done():
		case <-c.Done():
		}
		return nil
	})
	step("http", 5*time.Second, func(c context.Context) error { return a.api.Stop(c) })
	step("session", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
