// Package pageagent holds the per-tab popup policy: local cooldown, the
// shadow copy of the chat-open flag, the tab-lifetime opt-out, and random
// viewport placement. The hub keeps one Agent per page connection and runs
// every broadcast popup through it before anything reaches the page.
package pageagent

import (
	"math/rand"
	"sync"
	"time"

	"nagbot/internal/protocol"
)

// Popup bubble footprint assumed for placement clamping. The bubble is
// max-width constrained on the page side, so these are upper bounds.
const (
	bubbleWidth  = 280
	bubbleHeight = 100
)

type Policy struct {
	// Cooldown is the minimum gap between two popups in the same tab.
	Cooldown time.Duration
	// AutoDismiss is how long a bubble lives if the user never touches it.
	// Dwelling is intentional, so this is minutes, not seconds.
	AutoDismiss time.Duration
	// Margin keeps the bubble clear of the viewport edges.
	Margin int
}

func DefaultPolicy() Policy {
	return Policy{
		Cooldown:    3 * time.Second,
		AutoDismiss: 5 * time.Minute,
		Margin:      40,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.Cooldown <= 0 {
		p.Cooldown = def.Cooldown
	}
	if p.AutoDismiss <= 0 {
		p.AutoDismiss = def.AutoDismiss
	}
	if p.Margin <= 0 {
		p.Margin = def.Margin
	}
	return p
}

// Agent is the suppression gate for one tab.
//
// Dismissal policy (enforced page-side, instructed from here): the bubble is
// soft-dismissed when the pointer enters it, auto-dismissed after AutoDismiss,
// and a click opens the chat surface. A click does not count as a close for
// cooldown purposes; only showing a bubble arms the cooldown.
type Agent struct {
	mu       sync.Mutex
	policy   Policy
	viewport protocol.Viewport
	chatOpen bool
	optedOut bool
	lastShow time.Time
	rng      *rand.Rand
}

func New(policy Policy, viewport protocol.Viewport, seed int64) *Agent {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Agent{
		policy:   policy.normalized(),
		viewport: viewport,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Apply swaps the policy at runtime.
func (a *Agent) Apply(policy Policy) {
	a.mu.Lock()
	a.policy = policy.normalized()
	a.mu.Unlock()
}

// SetViewport updates the tab's reported drawing area.
func (a *Agent) SetViewport(v protocol.Viewport) {
	a.mu.Lock()
	a.viewport = v
	a.mu.Unlock()
}

// SetChatOpen updates the local shadow of the coordinator's chat-open belief.
// Shadows may be briefly stale; the next broadcast corrects them.
func (a *Agent) SetChatOpen(open bool) {
	a.mu.Lock()
	a.chatOpen = open
	a.mu.Unlock()
}

// DisablePopups opts this tab out for its lifetime.
func (a *Agent) DisablePopups() {
	a.mu.Lock()
	a.optedOut = true
	a.mu.Unlock()
}

// Render applies local suppression to a broadcast popup. When the popup is
// allowed it returns the concrete render instruction (message, clamped random
// position, dismissal timeout) and arms the cooldown.
func (a *Agent) Render(now time.Time, message string) (protocol.ShowNotification, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.optedOut || a.chatOpen {
		return protocol.ShowNotification{}, false
	}
	if !a.lastShow.IsZero() && now.Sub(a.lastShow) < a.policy.Cooldown {
		return protocol.ShowNotification{}, false
	}
	a.lastShow = now

	x, y := a.placeLocked()
	return protocol.ShowNotification{
		Message:       message,
		X:             x,
		Y:             y,
		AutoDismissMS: a.policy.AutoDismiss.Milliseconds(),
	}, true
}

// placeLocked picks a uniformly random on-screen position, clamped so the
// bubble never clips off the viewport. Callers hold a.mu.
func (a *Agent) placeLocked() (int, int) {
	margin := a.policy.Margin

	maxX := a.viewport.Width - bubbleWidth - margin
	maxY := a.viewport.Height - bubbleHeight - margin

	spanX := maxX - margin
	if spanX < 100 {
		spanX = 100
	}
	spanY := maxY - margin
	if spanY < 100 {
		spanY = 100
	}

	return a.rng.Intn(spanX) + margin, a.rng.Intn(spanY) + margin
}
