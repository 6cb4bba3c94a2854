package config

import (
	"fmt"
	"strings"
	"time"

	"nagbot/internal/engage"
	"nagbot/internal/pageagent"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	HTTP    HTTPConfig    `json:"http"`

	// Engage controls the engagement clock: how often the daemon checks for
	// fresh content and how often an unread payload may be surfaced.
	Engage EngageConfig `json:"engage"`

	// Popup controls per-page bubble rendering and suppression.
	Popup PopupConfig `json:"popup,omitempty"`

	Backend BackendConfig `json:"backend"`

	// Session controls the per-run conversation store. Nil means in-memory.
	Session *SessionConfig `json:"session,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Events  LoggingEvents `json:"events"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingEvents mirrors warn-and-above log lines onto the internal event bus
// so the state endpoint and future consumers can see them.
type LoggingEvents struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type HTTPConfig struct {
	// Addr defaults to "127.0.0.1:8731". Keep it loopback; the daemon has no
	// auth surface.
	Addr            string `json:"addr,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// EngageConfig holds the clock intervals. All fields are Go duration strings
// (e.g. "30s", "1m"). Zero values fall back to defaults.
type EngageConfig struct {
	// Tick is the cron spec driving the state machine, default "@every 1s".
	Tick string `json:"tick,omitempty"`

	PopupMin        string `json:"popup_min,omitempty"`
	PopupMax        string `json:"popup_max,omitempty"`
	ContentCheckMin string `json:"content_check_min,omitempty"`
	ContentCheckMax string `json:"content_check_max,omitempty"`
	LivenessTimeout string `json:"liveness_timeout,omitempty"`
}

type PopupConfig struct {
	Cooldown    string `json:"cooldown,omitempty"`
	AutoDismiss string `json:"auto_dismiss,omitempty"`
	Margin      int    `json:"margin,omitempty"`
}

type BackendConfig struct {
	BaseURL    string `json:"base_url"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SessionConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// EngagePolicy resolves the engage section into a clock policy, validating
// each duration and the min/max ordering.
func (c *Config) EngagePolicy() (engage.Policy, error) {
	p := engage.DefaultPolicy()
	var err error
	if p.PopupMin, err = ParseDurationOrDefault("engage.popup_min", c.Engage.PopupMin, p.PopupMin); err != nil {
		return p, err
	}
	if p.PopupMax, err = ParseDurationOrDefault("engage.popup_max", c.Engage.PopupMax, p.PopupMax); err != nil {
		return p, err
	}
	if p.ContentCheckMin, err = ParseDurationOrDefault("engage.content_check_min", c.Engage.ContentCheckMin, p.ContentCheckMin); err != nil {
		return p, err
	}
	if p.ContentCheckMax, err = ParseDurationOrDefault("engage.content_check_max", c.Engage.ContentCheckMax, p.ContentCheckMax); err != nil {
		return p, err
	}
	if p.LivenessTimeout, err = ParseDurationOrDefault("engage.liveness_timeout", c.Engage.LivenessTimeout, p.LivenessTimeout); err != nil {
		return p, err
	}
	if p.PopupMax < p.PopupMin {
		return p, fmt.Errorf("engage: popup_max %s < popup_min %s", p.PopupMax, p.PopupMin)
	}
	if p.ContentCheckMax < p.ContentCheckMin {
		return p, fmt.Errorf("engage: content_check_max %s < content_check_min %s", p.ContentCheckMax, p.ContentCheckMin)
	}
	return p, nil
}

// PopupPolicy resolves the popup section into a page-agent policy.
func (c *Config) PopupPolicy() (pageagent.Policy, error) {
	p := pageagent.DefaultPolicy()
	var err error
	if p.Cooldown, err = ParseDurationOrDefault("popup.cooldown", c.Popup.Cooldown, p.Cooldown); err != nil {
		return p, err
	}
	if p.AutoDismiss, err = ParseDurationOrDefault("popup.auto_dismiss", c.Popup.AutoDismiss, p.AutoDismiss); err != nil {
		return p, err
	}
	if c.Popup.Margin > 0 {
		p.Margin = c.Popup.Margin
	}
	return p, nil
}

// TickSpec returns the cron spec for the engagement tick.
func (c *Config) TickSpec() string {
	if s := strings.TrimSpace(c.Engage.Tick); s != "" {
		return s
	}
	return "@every 1s"
}

// BackendTimeout resolves the backend request timeout.
func (c *Config) BackendTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("backend.timeout", c.Backend.Timeout, 10*time.Second)
}

// Validate checks everything a reload must not break. It is installed as the
// manager's validation hook so a bad edit never reaches running services.
func (c *Config) Validate() error {
	if _, err := c.EngagePolicy(); err != nil {
		return err
	}
	if _, err := c.PopupPolicy(); err != nil {
		return err
	}
	if _, err := c.BackendTimeout(); err != nil {
		return err
	}
	if c.Backend.RatePerSec < 0 {
		return fmt.Errorf("backend.rate_per_sec must be >= 0")
	}
	if _, err := ParseDurationField("http.shutdown_timeout", c.HTTP.ShutdownTimeout); err != nil {
		return err
	}
	if c.Session != nil {
		switch strings.TrimSpace(c.Session.Driver) {
		case "", "none", "memory":
		case "sqlite":
			if strings.TrimSpace(c.Session.Path) == "" {
				return fmt.Errorf("session: sqlite driver requires path")
			}
		default:
			return fmt.Errorf("session: unknown driver %q", c.Session.Driver)
		}
		if _, err := ParseDurationField("session.busy_timeout", c.Session.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
