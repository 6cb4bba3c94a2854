// Package httpapi exposes the daemon's local HTTP surface: the websocket
// upgrade endpoints for pages and chat surfaces, a health probe, and a small
// control API for toolbar-style actions.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"nagbot/internal/engage"
	"nagbot/internal/eventbus"
	"nagbot/internal/hub"
	"nagbot/internal/runtime/supervisor"
	"nagbot/pkg/logx"
)

// Config holds the listener settings.
type Config struct {
	Addr            string `json:"addr" yaml:"addr"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

// Stater reports the coordinator's current engagement snapshot.
type Stater interface {
	Snapshot() engage.Snapshot
}

// Server is the daemon's HTTP front.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	state    Stater
	bus      eventbus.Bus
	counters func() supervisor.Counters
	log      logx.Logger

	srv *http.Server
}

func New(cfg Config, h *hub.Hub, state Stater, bus eventbus.Bus, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8731"
	}
	s := &Server{cfg: cfg, hub: h, state: state, bus: bus, log: log}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetCounters installs the goroutine-counter source for the state endpoint.
// The supervisor is built at Start time, after the server, hence a setter.
func (s *Server) SetCounters(fn func() supervisor.Counters) { s.counters = fn }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/v1/state", s.handleState)
	r.Post("/api/v1/activate", s.handleActivate)
	r.Get("/ws/page", s.hub.ServePage)
	r.Get("/ws/chat", s.hub.ServeChat)

	return r
}

// Start begins serving. It returns once the listener goroutine is launched;
// listen failures are reported through errCh exactly once.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		s.log.Info("http listener starting", logx.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
}

// Stop drains in-flight requests within the configured timeout.
func (s *Server) Stop(ctx context.Context) error {
	timeout := 5 * time.Second
	if d, err := time.ParseDuration(s.cfg.ShutdownTimeout); err == nil && d > 0 {
		timeout = d
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleState reports the engagement snapshot plus transport counters. Meant
// for local debugging and the extension's options page.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	pages, chats := s.hub.Counts()
	resp := struct {
		Engage     engage.Snapshot     `json:"engage"`
		Pages      int                 `json:"pages"`
		Chats      int                 `json:"chats"`
		Drops      uint64              `json:"event_drops"`
		Goroutines supervisor.Counters `json:"goroutines"`
	}{
		Engage: s.state.Snapshot(),
		Pages:  pages,
		Chats:  chats,
	}
	if s.bus != nil {
		resp.Drops = s.bus.Drops()
	}
	if s.counters != nil {
		resp.Goroutines = s.counters()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleActivate relays a toolbar click to connected pages. A page may still
// be mid-handshake when the click lands, so a missing page is retried once.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	err := retry.New(
		retry.Attempts(2),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(r.Context()),
	).Do(func() error {
		return s.hub.OpenChat(r.Context())
	})
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "opened"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
