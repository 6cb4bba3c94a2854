package engage

import (
	"testing"
	"time"
)

func TestPopupDueGates(t *testing.T) {
	t.Parallel()
	now := time.Now()
	clk := NewClock(DefaultPolicy(), 1)

	tests := []struct {
		name  string
		setup func(st *State)
		at    time.Time
		want  bool
	}{
		{
			name:  "not yet due",
			setup: func(st *State) { st.MarkContentChecked(now, "x", time.Minute) },
			at:    now.Add(10 * time.Second),
			want:  false,
		},
		{
			name:  "due with unread",
			setup: func(st *State) { st.MarkContentChecked(now, "x", time.Minute) },
			at:    now.Add(time.Minute),
			want:  true,
		},
		{
			name:  "nothing unread",
			setup: func(*State) {},
			at:    now.Add(time.Minute),
			want:  false,
		},
		{
			name: "chat open",
			setup: func(st *State) {
				st.MarkContentChecked(now, "x", time.Minute)
				st.OpenChat(now)
				st.MarkContentChecked(now, "y", time.Minute)
			},
			at:   now.Add(time.Minute),
			want: false,
		},
		{
			name: "page hidden",
			setup: func(st *State) {
				st.MarkContentChecked(now, "x", time.Minute)
				st.SetPageVisible(false)
			},
			at:   now.Add(time.Minute),
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			st := NewState(now, 30*time.Second, time.Hour)
			tt.setup(st)
			if got := clk.PopupDue(st, tt.at); got != tt.want {
				t.Fatalf("PopupDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContentCheckDueGates(t *testing.T) {
	t.Parallel()
	now := time.Now()
	clk := NewClock(DefaultPolicy(), 1)
	st := NewState(now, time.Hour, time.Minute)

	if clk.ContentCheckDue(st, now.Add(30*time.Second)) {
		t.Fatal("check must wait for its due time")
	}
	if !clk.ContentCheckDue(st, now.Add(time.Minute)) {
		t.Fatal("check should be due")
	}

	st.OpenChat(now)
	if clk.ContentCheckDue(st, now.Add(time.Minute)) {
		t.Fatal("no checks while the chat is open")
	}
	st.CloseChat()

	st.SetPageVisible(false)
	if clk.ContentCheckDue(st, now.Add(time.Minute)) {
		t.Fatal("no checks while the page is hidden")
	}
}

func TestIntervalDrawsStayInRange(t *testing.T) {
	t.Parallel()
	pol := Policy{
		PopupMin:        30 * time.Second,
		PopupMax:        60 * time.Second,
		ContentCheckMin: time.Minute,
		ContentCheckMax: 3 * time.Minute,
		LivenessTimeout: 3 * time.Second,
	}
	clk := NewClock(pol, 42)

	for i := 0; i < 1000; i++ {
		if d := clk.NextPopupInterval(); d < pol.PopupMin || d > pol.PopupMax {
			t.Fatalf("popup interval %v outside [%v, %v]", d, pol.PopupMin, pol.PopupMax)
		}
		if d := clk.NextContentCheckInterval(); d < pol.ContentCheckMin || d > pol.ContentCheckMax {
			t.Fatalf("check interval %v outside [%v, %v]", d, pol.ContentCheckMin, pol.ContentCheckMax)
		}
	}
}

func TestFixedSeedIsReproducible(t *testing.T) {
	t.Parallel()
	a := NewClock(DefaultPolicy(), 7)
	b := NewClock(DefaultPolicy(), 7)
	for i := 0; i < 32; i++ {
		if da, db := a.NextPopupInterval(), b.NextPopupInterval(); da != db {
			t.Fatalf("draw %d differs: %v vs %v", i, da, db)
		}
	}
}

func TestPolicyNormalization(t *testing.T) {
	t.Parallel()
	def := DefaultPolicy()

	got := Policy{}.normalized()
	if got != def {
		t.Fatalf("zero policy should normalize to defaults, got %+v", got)
	}

	// A policy with only the mins set keeps a randomized window: the unset
	// maxes fall back to the defaults instead of collapsing onto the min.
	partial := Policy{PopupMin: 10 * time.Second, ContentCheckMin: 90 * time.Second}.normalized()
	if partial.PopupMax != def.PopupMax {
		t.Fatalf("PopupMax = %v, want default %v", partial.PopupMax, def.PopupMax)
	}
	if partial.ContentCheckMax != def.ContentCheckMax {
		t.Fatalf("ContentCheckMax = %v, want default %v", partial.ContentCheckMax, def.ContentCheckMax)
	}

	// A min past the default max still collapses to a point at min.
	wide := Policy{PopupMin: 2 * time.Minute}.normalized()
	if wide.PopupMax != 2*time.Minute {
		t.Fatalf("PopupMax = %v, want %v", wide.PopupMax, 2*time.Minute)
	}

	// Inverted range collapses to a point at min.
	inv := Policy{
		PopupMin:        time.Minute,
		PopupMax:        time.Second,
		ContentCheckMin: time.Minute,
		ContentCheckMax: time.Second,
		LivenessTimeout: time.Second,
	}.normalized()
	if inv.PopupMax != inv.PopupMin {
		t.Fatalf("PopupMax = %v, want %v", inv.PopupMax, inv.PopupMin)
	}
	if inv.ContentCheckMax != inv.ContentCheckMin {
		t.Fatalf("ContentCheckMax = %v, want %v", inv.ContentCheckMax, inv.ContentCheckMin)
	}
}

func TestApplySwapsPolicy(t *testing.T) {
	t.Parallel()
	clk := NewClock(DefaultPolicy(), 1)
	clk.Apply(Policy{
		PopupMin:        time.Second,
		PopupMax:        time.Second,
		ContentCheckMin: time.Second,
		ContentCheckMax: time.Second,
		LivenessTimeout: time.Second,
	})
	if d := clk.NextPopupInterval(); d != time.Second {
		t.Fatalf("after Apply, popup interval = %v, want 1s", d)
	}
	if got := clk.Policy().LivenessTimeout; got != time.Second {
		t.Fatalf("LivenessTimeout = %v, want 1s", got)
	}
}

func TestChatStale(t *testing.T) {
	t.Parallel()
	now := time.Now()
	clk := NewClock(DefaultPolicy(), 1)
	st := NewState(now, time.Hour, time.Hour)

	if clk.ChatStale(st, now.Add(time.Hour)) {
		t.Fatal("closed chat is never stale")
	}
	st.OpenChat(now)
	if clk.ChatStale(st, now.Add(2*time.Second)) {
		t.Fatal("fresh chat is not stale")
	}
	if !clk.ChatStale(st, now.Add(5*time.Second)) {
		t.Fatal("silent chat past the timeout is stale")
	}
}
