package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"nagbot/pkg/logx"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{}

	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	stores["memory"] = mem

	sq, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "session.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	stores["sqlite"] = sq

	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		s, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q) error: %v", driver, err)
		}
		if s != nil {
			t.Fatalf("Open(%q) = %T, want nil", driver, s)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must fail")
	}
}

func TestPendingLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, s := range openTestStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.GetPending(ctx); err != nil || ok {
				t.Fatalf("fresh store: ok=%v err=%v", ok, err)
			}

			sent := time.Now().Truncate(time.Millisecond)
			if err := s.PutPending(ctx, Pending{Message: "psst", SentAt: sent}); err != nil {
				t.Fatalf("PutPending: %v", err)
			}
			p, ok, err := s.GetPending(ctx)
			if err != nil || !ok {
				t.Fatalf("GetPending: ok=%v err=%v", ok, err)
			}
			if p.Message != "psst" || !p.SentAt.Equal(sent) {
				t.Fatalf("pending = %+v", p)
			}

			// Overwrite, not accumulate.
			if err := s.PutPending(ctx, Pending{Message: "newer", SentAt: sent.Add(time.Second)}); err != nil {
				t.Fatalf("PutPending overwrite: %v", err)
			}
			p, _, _ = s.GetPending(ctx)
			if p.Message != "newer" {
				t.Fatalf("pending after overwrite = %q", p.Message)
			}

			if err := s.ClearPending(ctx); err != nil {
				t.Fatalf("ClearPending: %v", err)
			}
			if _, ok, _ := s.GetPending(ctx); ok {
				t.Fatal("pending should be cleared")
			}
		})
	}
}

func TestTranscript(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, s := range openTestStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			at := time.Now()
			lines := []Entry{
				{SessionID: "s1", Role: "bot", Text: "hello", At: at},
				{SessionID: "s1", Role: "user", Text: "hi", At: at.Add(time.Second)},
				{SessionID: "s2", Role: "user", Text: "other session", At: at.Add(2 * time.Second)},
				{SessionID: "s1", Role: "bot", Text: "bye", LyricLine: "la la", At: at.Add(3 * time.Second)},
			}
			for _, e := range lines {
				if err := s.AppendEntry(ctx, e); err != nil {
					t.Fatalf("AppendEntry: %v", err)
				}
			}

			got, err := s.Transcript(ctx, "s1", 0)
			if err != nil {
				t.Fatalf("Transcript: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("len = %d, want 3", len(got))
			}
			// Conversation order: oldest first.
			if got[0].Text != "hello" || got[2].Text != "bye" {
				t.Fatalf("unexpected order: %q ... %q", got[0].Text, got[2].Text)
			}
			if got[2].LyricLine != "la la" {
				t.Fatalf("lyric line = %q", got[2].LyricLine)
			}

			// Limit keeps the newest lines.
			got, err = s.Transcript(ctx, "s1", 2)
			if err != nil {
				t.Fatalf("Transcript limited: %v", err)
			}
			if len(got) != 2 || got[0].Text != "hi" || got[1].Text != "bye" {
				t.Fatalf("limited transcript = %+v", got)
			}
		})
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, s := range openTestStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			if err := s.PutPending(ctx, Pending{Message: "x"}); err != nil {
				t.Fatalf("PutPending: %v", err)
			}
			if err := s.AppendEntry(ctx, Entry{SessionID: "s1", Role: "user", Text: "hi"}); err != nil {
				t.Fatalf("AppendEntry: %v", err)
			}

			if err := s.Reset(ctx); err != nil {
				t.Fatalf("Reset: %v", err)
			}
			if _, ok, _ := s.GetPending(ctx); ok {
				t.Fatal("pending survived reset")
			}
			entries, err := s.Transcript(ctx, "", 0)
			if err != nil {
				t.Fatalf("Transcript: %v", err)
			}
			if len(entries) != 0 {
				t.Fatalf("transcript survived reset: %+v", entries)
			}
		})
	}
}
