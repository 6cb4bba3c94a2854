// Package session is the short-lived, session-scoped store: it holds the
// current unread-notification payload and the chat transcript so a freshly
// opened chat surface can recover what was pending. It is wiped on every
// daemon start; nothing here is meant to survive a restart.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"nagbot/pkg/logx"
)

var ErrDisabled = errors.New("session store disabled")

// Config configures the session store.
//
// Driver values:
//   - "memory": in-process store (default)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", the store is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Pending is the stored unread-notification payload.
type Pending struct {
	Message string
	SentAt  time.Time
}

// Entry is one transcript line. Keep it compact and schema-stable.
type Entry struct {
	SessionID string
	Role      string // "user" or "bot"
	Text      string
	LyricLine string
	At        time.Time
}

// Store is the minimal persistence API used by the coordinator and chat sessions.
type Store interface {
	PutPending(ctx context.Context, p Pending) error
	GetPending(ctx context.Context) (Pending, bool, error)
	ClearPending(ctx context.Context) error

	AppendEntry(ctx context.Context, e Entry) error
	Transcript(ctx context.Context, sessionID string, limit int) ([]Entry, error)

	// Reset wipes everything. Called once at daemon start so the store is
	// scoped to the current browsing session.
	Reset(ctx context.Context) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the store is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return newMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown session store driver: " + driver)
	}
}
