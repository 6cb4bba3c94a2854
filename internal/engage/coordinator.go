package engage

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"nagbot/internal/eventbus"
	"nagbot/internal/session"
	"nagbot/pkg/logx"
)

// Event types published on the bus.
const (
	EventUnread     = "engage.unread"
	EventPopup      = "engage.popup"
	EventChatOpened = "engage.chat_opened"
	EventChatClosed = "engage.chat_closed"
	EventChatStale  = "engage.chat_stale"
)

// Broadcaster delivers coordinator effects to the connected surfaces.
// Implementations are best-effort: a dead connection is skipped, never reported.
type Broadcaster interface {
	// ShowPopup asks every eligible page to render a popup bubble. Per-tab
	// suppression and placement are the receiver's business.
	ShowPopup(ctx context.Context, message string)
	// ChatStatusChanged syncs the pages' shadow copy of the chat-open flag.
	ChatStatusChanged(ctx context.Context, open bool)
	// BadgeChanged mirrors the unread badge to chat/control surfaces.
	BadgeChanged(ctx context.Context, unread bool)
}

// ContentSource produces the proactive content checked for newness.
type ContentSource interface {
	RandomMessage(ctx context.Context) (string, error)
}

// Coordinator owns the engagement State exclusively and runs the tick loop
// described by the extension's background worker: correct stale chat state,
// fetch new content when due, fire a popup when due. All inbound surface
// events funnel through it, so State is never mutated concurrently.
type Coordinator struct {
	clk   *Clock
	bc    Broadcaster
	src   ContentSource
	store session.Store
	bus   eventbus.Bus
	log   logx.Logger

	nowFn        func() time.Time
	fetchTimeout time.Duration

	sf singleflight.Group

	mu sync.Mutex
	st *State
}

func NewCoordinator(clk *Clock, bc Broadcaster, src ContentSource, store session.Store, bus eventbus.Bus, log logx.Logger) *Coordinator {
	now := time.Now()
	return &Coordinator{
		clk:          clk,
		bc:           bc,
		src:          src,
		store:        store,
		bus:          bus,
		log:          log,
		nowFn:        time.Now,
		fetchTimeout: 8 * time.Second,
		st:           NewState(now, clk.NextPopupInterval(), clk.NextContentCheckInterval()),
	}
}

// Apply swaps the scheduling policy at runtime.
func (c *Coordinator) Apply(p Policy) {
	c.clk.Apply(p)
}

// Snapshot returns a read-only copy of the engagement state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.Snapshot()
}

// Tick runs one scheduler pass. now is a parameter so tests can simulate
// time; production calls it from a 1s cron trigger with the wall clock.
//
// Order matters: the stale-chat correction runs first because the popup and
// content-check gates depend on an accurate chatOpen flag.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) {
	var (
		staleClosed bool
		startCheck  bool
		popupMsg    string
		firePopup   bool
	)

	c.mu.Lock()
	if c.clk.ChatStale(c.st, now) {
		c.st.CloseChat()
		staleClosed = true
	}
	if c.clk.ContentCheckDue(c.st, now) {
		// Reschedule immediately: on failure the retry happens at the next
		// natural interval, not on the next tick.
		c.st.DeferContentCheck(now, c.clk.NextContentCheckInterval())
		startCheck = true
	}
	if c.clk.PopupDue(c.st, now) {
		popupMsg = c.popupMessageLocked()
		c.st.MarkPopupShown(now, c.clk.NextPopupInterval())
		firePopup = true
	}
	c.mu.Unlock()

	if staleClosed {
		c.log.Debug("chat surface went silent; presumed closed")
		c.bc.ChatStatusChanged(ctx, false)
		eventbus.Emit(c.bus, EventChatStale, nil)
	}
	if startCheck {
		go c.checkContent(ctx)
	}
	if firePopup {
		c.bc.ShowPopup(ctx, popupMsg)
		eventbus.Emit(c.bus, EventPopup, popupMsg)
	}
}

// popupMessageLocked picks the bubble text: the pending unread payload when
// there is one, otherwise a canned line. Callers hold c.mu.
func (c *Coordinator) popupMessageLocked() string {
	if c.st.fingerprintSet && c.st.fingerprint != "" {
		return c.st.fingerprint
	}
	return lo.Sample(proactiveMessages)
}

// proactiveMessages are the canned bubble lines used before any content has
// been fetched. The page side may still swap in a fresher line of its own.
var proactiveMessages = []string{
	"Yo, what's happening?",
	"Forgot about me already?",
	"I've got new stuff to share!",
	"Studio session's over, let me help you out!",
	"Heyyo, need help with anything?",
}

// checkContent performs the asynchronous new-content fetch. Overlapping
// fetches collapse via singleflight; a fetch started at tick N may complete
// after tick N+1, which is benign because the resulting mutation is
// last-write-wins on simple fields.
func (c *Coordinator) checkContent(ctx context.Context) {
	v, err, _ := c.sf.Do("content-check", func() (any, error) {
		fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
		return c.src.RandomMessage(fctx)
	})
	if err != nil {
		// Swallowed on purpose: the next due time is already scheduled.
		c.log.Debug("content check failed", logx.Err(err))
		return
	}
	msg, _ := v.(string)
	if msg == "" {
		return
	}
	c.ContentFetched(ctx, c.nowFn(), msg)
}

// ContentFetched records a successful content fetch. Exposed for tests and
// for the async fetch callback.
func (c *Coordinator) ContentFetched(ctx context.Context, now time.Time, msg string) {
	c.mu.Lock()
	newUnread := c.st.MarkContentChecked(now, msg, c.clk.NextContentCheckInterval())
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.PutPending(ctx, session.Pending{Message: msg, SentAt: now}); err != nil {
			c.log.Warn("failed to store pending notification", logx.Err(err))
		}
	}
	if newUnread {
		c.bc.BadgeChanged(ctx, true)
		eventbus.Emit(c.bus, EventUnread, msg)
	}
}

// ---- inbound surface events ----
// Each handler is idempotent: replaying the same event never corrupts state.

// RecordActivity notes user interaction.
func (c *Coordinator) RecordActivity(now time.Time) {
	c.mu.Lock()
	c.st.RecordActivity(now)
	c.mu.Unlock()
}

// ChatOpened handles a chat surface reporting itself open. The unread flag
// is cleared exactly here.
func (c *Coordinator) ChatOpened(ctx context.Context, now time.Time) {
	c.mu.Lock()
	wasOpen := c.st.ChatOpen()
	hadUnread := c.st.Unread()
	c.st.OpenChat(now)
	c.mu.Unlock()

	if !wasOpen {
		c.bc.ChatStatusChanged(ctx, true)
		eventbus.Emit(c.bus, EventChatOpened, nil)
	}
	if hadUnread {
		c.bc.BadgeChanged(ctx, false)
	}
}

// ChatClosed handles an explicit close from a chat surface.
func (c *Coordinator) ChatClosed(ctx context.Context) {
	c.mu.Lock()
	wasOpen := c.st.ChatOpen()
	c.st.CloseChat()
	c.mu.Unlock()

	if wasOpen {
		c.bc.ChatStatusChanged(ctx, false)
		eventbus.Emit(c.bus, EventChatClosed, nil)
	}
}

// ChatPing refreshes the liveness window of an open chat surface.
func (c *Coordinator) ChatPing(now time.Time) {
	c.mu.Lock()
	c.st.PingChatLiveness(now)
	c.mu.Unlock()
}

// PageVisibility records the reporting page's visibility.
func (c *Coordinator) PageVisibility(visible bool) {
	c.mu.Lock()
	c.st.SetPageVisible(visible)
	c.mu.Unlock()
}
