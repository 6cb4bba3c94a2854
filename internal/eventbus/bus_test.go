package eventbus

import (
	"testing"
	"time"
)

func TestPublishDelivers(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	Emit(b, "engage.unread", "hello")

	select {
	case e := <-ch:
		if e.Type != "engage.unread" || e.Data != "hello" {
			t.Fatalf("event = %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatal("publish must stamp a time")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	b.Publish(Event{Type: "c"})

	if got := b.Drops(); got != 2 {
		t.Fatalf("Drops() = %d, want 2", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	if _, open := <-ch; open {
		t.Fatal("channel must be closed after unsubscribe")
	}
	// Must not panic or count a drop for a gone subscriber.
	b.Publish(Event{Type: "after"})
	if got := b.Drops(); got != 0 {
		t.Fatalf("Drops() = %d", got)
	}
}

func TestEmitNilBus(t *testing.T) {
	t.Parallel()
	Emit(nil, "noop", nil) // must not panic
}
