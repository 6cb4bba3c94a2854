package session

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.Mutex
	pending Pending
	hasPend bool
	entries []Entry
}

func newMemory() *memoryStore {
	return &memoryStore{}
}

func (m *memoryStore) PutPending(_ context.Context, p Pending) error {
	if p.SentAt.IsZero() {
		p.SentAt = time.Now()
	}
	m.mu.Lock()
	m.pending = p
	m.hasPend = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) GetPending(_ context.Context) (Pending, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending, m.hasPend, nil
}

func (m *memoryStore) ClearPending(_ context.Context) error {
	m.mu.Lock()
	m.pending = Pending{}
	m.hasPend = false
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) AppendEntry(_ context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Transcript(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.entries {
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	m.pending = Pending{}
	m.hasPend = false
	m.entries = nil
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Close() error { return nil }
