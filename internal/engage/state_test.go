package engage

import (
	"testing"
	"time"
)

func TestNewStateDefaults(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := NewState(now, 30*time.Second, 2*time.Minute)

	snap := st.Snapshot()
	if !snap.PageVisible {
		t.Fatal("new state should assume a visible page")
	}
	if snap.ChatOpen || snap.Unread {
		t.Fatal("new state should start with chat closed and nothing unread")
	}
	if got, want := snap.NextPopupAt, now.Add(30*time.Second); !got.Equal(want) {
		t.Fatalf("NextPopupAt = %v, want %v", got, want)
	}
	if got, want := snap.NextCheckAt, now.Add(2*time.Minute); !got.Equal(want) {
		t.Fatalf("NextCheckAt = %v, want %v", got, want)
	}
}

func TestOpenChatClearsUnreadAndIsIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := NewState(now, time.Minute, time.Minute)

	st.MarkContentChecked(now, "fresh line", time.Minute)
	if !st.Unread() {
		t.Fatal("content should raise unread")
	}

	st.OpenChat(now.Add(time.Second))
	if !st.ChatOpen() {
		t.Fatal("chat should be open")
	}
	if st.Unread() {
		t.Fatal("opening the chat must acknowledge the unread notification")
	}

	// Second open is a no-op apart from the liveness refresh.
	st.OpenChat(now.Add(2 * time.Second))
	if !st.ChatOpen() || st.Unread() {
		t.Fatal("repeated open must not change flags")
	}
}

func TestMarkContentChecked(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := NewState(now, time.Minute, time.Minute)

	if !st.MarkContentChecked(now, "a", time.Minute) {
		t.Fatal("first content must newly raise unread")
	}

	// Same content again: no new unread, but the next check still moves out.
	before := st.Snapshot().NextCheckAt
	later := now.Add(90 * time.Second)
	if st.MarkContentChecked(later, "a", time.Minute) {
		t.Fatal("identical content must not raise unread")
	}
	if after := st.Snapshot().NextCheckAt; !after.After(before) {
		t.Fatalf("next check must advance even for stale content: %v -> %v", before, after)
	}

	// Different content while still unread: flag already up, so not "newly".
	if st.MarkContentChecked(later, "b", time.Minute) {
		t.Fatal("unread was already set; no new raise expected")
	}
	if got := st.Snapshot().LastFingerprint; got != "b" {
		t.Fatalf("fingerprint = %q, want %q", got, "b")
	}

	// Acknowledge, then the same content "b" stays read.
	st.OpenChat(later)
	st.CloseChat()
	if st.MarkContentChecked(later.Add(time.Minute), "b", time.Minute) {
		t.Fatal("already-seen content must not re-raise unread")
	}
	// But genuinely new content does.
	if !st.MarkContentChecked(later.Add(2*time.Minute), "c", time.Minute) {
		t.Fatal("new content after acknowledgement must raise unread")
	}
}

func TestApplyStaleChatTimeout(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := NewState(now, time.Minute, time.Minute)

	if st.ApplyStaleChatTimeout(now.Add(time.Hour), 3*time.Second) {
		t.Fatal("closed chat can never go stale")
	}

	st.OpenChat(now)
	if st.ApplyStaleChatTimeout(now.Add(2*time.Second), 3*time.Second) {
		t.Fatal("chat within the liveness window is not stale")
	}

	st.PingChatLiveness(now.Add(2 * time.Second))
	if st.ApplyStaleChatTimeout(now.Add(4*time.Second), 3*time.Second) {
		t.Fatal("ping must extend the liveness window")
	}

	if !st.ApplyStaleChatTimeout(now.Add(10*time.Second), 3*time.Second) {
		t.Fatal("silent chat past the timeout must be closed")
	}
	if st.ChatOpen() {
		t.Fatal("stale chat should be closed")
	}
	if st.ApplyStaleChatTimeout(now.Add(11*time.Second), 3*time.Second) {
		t.Fatal("second application must report no transition")
	}
}

func TestSnapshotBadge(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := NewState(now, time.Minute, time.Minute)

	if got := st.Snapshot().Badge; got != "" {
		t.Fatalf("badge = %q, want empty", got)
	}
	st.MarkContentChecked(now, "x", time.Minute)
	if got := st.Snapshot().Badge; got != "!" {
		t.Fatalf("badge = %q, want %q", got, "!")
	}
	st.OpenChat(now)
	if got := st.Snapshot().Badge; got != "" {
		t.Fatalf("badge after acknowledge = %q, want empty", got)
	}
}
