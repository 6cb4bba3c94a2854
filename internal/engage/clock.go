package engage

import (
	"math/rand"
	"sync"
	"time"
)

// Policy holds the scheduling knobs for the engagement loop.
//
// All intervals are drawn uniformly from [Min, Max] so the cadence never
// becomes perfectly predictable. The exact bounds are configuration, not
// load-bearing constants.
type Policy struct {
	// PopupMin/PopupMax bound the delay between proactive popup bubbles.
	PopupMin time.Duration
	PopupMax time.Duration

	// ContentCheckMin/ContentCheckMax bound the delay between checks for new
	// content at the backend. Typically a longer range than the popup one.
	ContentCheckMin time.Duration
	ContentCheckMax time.Duration

	// LivenessTimeout is how long a chat surface may stay silent (no ping)
	// before it is presumed dead and force-closed.
	LivenessTimeout time.Duration
}

// DefaultPolicy mirrors the shipped extension behavior.
func DefaultPolicy() Policy {
	return Policy{
		PopupMin:        30 * time.Second,
		PopupMax:        60 * time.Second,
		ContentCheckMin: 1 * time.Minute,
		ContentCheckMax: 3 * time.Minute,
		LivenessTimeout: 3 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.PopupMin <= 0 {
		p.PopupMin = def.PopupMin
	}
	// An unset max means "use the default max", not "collapse to min";
	// otherwise a partially-specified policy loses its randomized cadence.
	if p.PopupMax <= 0 {
		p.PopupMax = def.PopupMax
	}
	if p.PopupMax < p.PopupMin {
		p.PopupMax = p.PopupMin
	}
	if p.ContentCheckMin <= 0 {
		p.ContentCheckMin = def.ContentCheckMin
	}
	if p.ContentCheckMax <= 0 {
		p.ContentCheckMax = def.ContentCheckMax
	}
	if p.ContentCheckMax < p.ContentCheckMin {
		p.ContentCheckMax = p.ContentCheckMin
	}
	if p.LivenessTimeout <= 0 {
		p.LivenessTimeout = def.LivenessTimeout
	}
	return p
}

// Clock is the pure scheduling primitive: given "now" and a state snapshot it
// decides whether an action is due, and draws randomized next intervals.
// It performs no I/O and never reads the wall clock itself.
type Clock struct {
	mu     sync.Mutex
	policy Policy
	rng    *rand.Rand
}

// NewClock builds a Clock with its own RNG. Pass seed 0 for a time-derived
// seed; tests pass a fixed seed for reproducible draws.
func NewClock(policy Policy, seed int64) *Clock {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Clock{
		policy: policy.normalized(),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Apply swaps the policy at runtime (config hot reload).
func (c *Clock) Apply(policy Policy) {
	c.mu.Lock()
	c.policy = policy.normalized()
	c.mu.Unlock()
}

// Policy returns the currently effective (normalized) policy.
func (c *Clock) Policy() Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// PopupDue reports whether a proactive popup should fire now.
// Popups are gated on an unread notification, a visible page, and no open chat.
func (c *Clock) PopupDue(st *State, now time.Time) bool {
	return !st.chatOpen && st.pageVisible && st.unread && !now.Before(st.nextPopupAt)
}

// ContentCheckDue reports whether a new-content check should fire now.
func (c *Clock) ContentCheckDue(st *State, now time.Time) bool {
	return !st.chatOpen && st.pageVisible && !now.Before(st.nextCheckAt)
}

// ChatStale reports whether an open chat surface has stopped pinging for
// longer than the liveness timeout and should be presumed dead.
func (c *Clock) ChatStale(st *State, now time.Time) bool {
	c.mu.Lock()
	timeout := c.policy.LivenessTimeout
	c.mu.Unlock()
	return st.chatOpen && now.Sub(st.lastChatPing) > timeout
}

// NextPopupInterval draws a uniform random delay from the popup range.
func (c *Clock) NextPopupInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draw(c.policy.PopupMin, c.policy.PopupMax)
}

// NextContentCheckInterval draws a uniform random delay from the content-check range.
func (c *Clock) NextContentCheckInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draw(c.policy.ContentCheckMin, c.policy.ContentCheckMax)
}

func (c *Clock) draw(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(c.rng.Int63n(int64(max-min)+1))
}
