package engage

import "time"

// State is the authoritative engagement record owned by the Coordinator.
//
// It is ephemeral: created with defaults at process start, mutated only by the
// Coordinator (under its lock), and gone when the process exits. There is no
// durability and none is wanted; a restart simply re-seeds the timers.
type State struct {
	lastActiveAt time.Time
	chatOpen     bool
	lastChatPing time.Time
	pageVisible  bool
	unread       bool

	// fingerprint is the last fetched message's content; new content is
	// detected by content equality, not by an identifier.
	fingerprint    string
	fingerprintSet bool

	nextPopupAt time.Time
	nextCheckAt time.Time
}

// NewState seeds a fresh record. The first popup/content-check times are
// offset from now by the given (randomized) delays.
func NewState(now time.Time, popupDelay, checkDelay time.Duration) *State {
	return &State{
		lastActiveAt: now,
		lastChatPing: now,
		pageVisible:  true,
		nextPopupAt:  now.Add(popupDelay),
		nextCheckAt:  now.Add(checkDelay),
	}
}

// RecordActivity notes that the user did something, anywhere.
func (s *State) RecordActivity(now time.Time) {
	s.lastActiveAt = now
}

// OpenChat marks a chat surface open and acknowledges any unread notification.
// Calling it twice in a row is equivalent to once (the liveness ping advances).
func (s *State) OpenChat(now time.Time) {
	s.chatOpen = true
	s.lastChatPing = now
	s.lastActiveAt = now
	s.unread = false
}

// CloseChat marks the chat surface closed.
func (s *State) CloseChat() {
	s.chatOpen = false
}

// PingChatLiveness records a keep-alive from an open chat surface.
func (s *State) PingChatLiveness(now time.Time) {
	s.lastChatPing = now
}

// SetPageVisible records the visibility of the most recently reporting page.
// Best-effort: this is not tracked per tab.
func (s *State) SetPageVisible(visible bool) {
	s.pageVisible = visible
}

// MarkContentChecked records a successful content fetch. When the fetched
// content differs from the last seen fingerprint it raises the unread flag.
// The next content check is always rescheduled, new content or not.
// Returns true when the unread flag was newly raised.
func (s *State) MarkContentChecked(now time.Time, fingerprint string, next time.Duration) bool {
	s.nextCheckAt = now.Add(next)
	if s.fingerprintSet && s.fingerprint == fingerprint {
		return false
	}
	s.fingerprint = fingerprint
	s.fingerprintSet = true
	wasUnread := s.unread
	s.unread = true
	return !wasUnread
}

// DeferContentCheck pushes the next content check out without touching
// anything else. Used when a check is initiated (or fails): the retry happens
// at the next natural interval, never sooner.
func (s *State) DeferContentCheck(now time.Time, next time.Duration) {
	s.nextCheckAt = now.Add(next)
}

// MarkPopupShown reschedules the next popup after one fired.
func (s *State) MarkPopupShown(now time.Time, next time.Duration) {
	s.nextPopupAt = now.Add(next)
}

// ApplyStaleChatTimeout force-closes the chat if it has been silent longer
// than timeout. Returns true only on the transition open->closed, so repeated
// calls are idempotent.
func (s *State) ApplyStaleChatTimeout(now time.Time, timeout time.Duration) bool {
	if !s.chatOpen || now.Sub(s.lastChatPing) <= timeout {
		return false
	}
	s.chatOpen = false
	return true
}

// ChatOpen reports whether a chat surface is currently believed open.
func (s *State) ChatOpen() bool { return s.chatOpen }

// Unread reports whether there is an unacknowledged notification.
func (s *State) Unread() bool { return s.unread }

// Snapshot is a read-only copy of the engagement state for the control API.
type Snapshot struct {
	LastActiveAt    time.Time `json:"last_active_at"`
	ChatOpen        bool      `json:"chat_open"`
	LastChatPing    time.Time `json:"last_chat_ping"`
	PageVisible     bool      `json:"page_visible"`
	Unread          bool      `json:"unread"`
	Badge           string    `json:"badge"`
	NextPopupAt     time.Time `json:"next_popup_at"`
	NextCheckAt     time.Time `json:"next_content_check_at"`
	LastFingerprint string    `json:"last_fingerprint,omitempty"`
}

// Snapshot copies the current state. Badge mirrors the extension's toolbar
// badge: "!" while an unread notification is pending, empty otherwise.
func (s *State) Snapshot() Snapshot {
	badge := ""
	if s.unread {
		badge = "!"
	}
	return Snapshot{
		LastActiveAt:    s.lastActiveAt,
		ChatOpen:        s.chatOpen,
		LastChatPing:    s.lastChatPing,
		PageVisible:     s.pageVisible,
		Unread:          s.unread,
		Badge:           badge,
		NextPopupAt:     s.nextPopupAt,
		NextCheckAt:     s.nextCheckAt,
		LastFingerprint: s.fingerprint,
	}
}
