// Package protocol defines the action-tagged messages exchanged between the
// coordinator and its page/chat connections.
//
// The wire form is a single JSON object per frame with an "action" field plus
// the variant's payload fields inline. The action set is closed: unknown
// actions fail Decode and are dropped at the transport boundary.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Role identifies what kind of surface a connection represents.
type Role string

const (
	RolePage Role = "page"
	RoleChat Role = "chat"
)

// Message is implemented by every wire variant.
type Message interface {
	Action() string
}

// Viewport carries a page's usable drawing area, so popup placement can be
// clamped server-side.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ---- inbound (surface -> coordinator) ----

// Hello is the first frame on every connection.
type Hello struct {
	Role     Role     `json:"role"`
	TabID    string   `json:"tab_id,omitempty"`
	PageURL  string   `json:"page_url,omitempty"`
	Viewport Viewport `json:"viewport,omitzero"`
}

func (Hello) Action() string { return "hello" }

// UpdateActivity reports user interaction anywhere on the page.
type UpdateActivity struct{}

func (UpdateActivity) Action() string { return "updateActivity" }

// PopupOpened signals a chat surface became visible.
type PopupOpened struct{}

func (PopupOpened) Action() string { return "popupOpened" }

// PopupClosed signals the chat surface was explicitly closed.
type PopupClosed struct{}

func (PopupClosed) Action() string { return "popupClosed" }

// PopupPing is the chat surface keep-alive. It is acked with Pong.
type PopupPing struct{}

func (PopupPing) Action() string { return "popupPing" }

// PageVisibilityChanged reports document visibility of the sending page.
type PageVisibilityChanged struct {
	IsVisible bool `json:"isVisible"`
}

func (PageVisibilityChanged) Action() string { return "pageVisibilityChanged" }

// DisablePopups opts the sending tab out of popup bubbles for its lifetime.
type DisablePopups struct{}

func (DisablePopups) Action() string { return "disablePopups" }

// ChatMessage is a user utterance relayed to the backend.
type ChatMessage struct {
	Text    string `json:"text"`
	PageURL string `json:"page_url,omitempty"`
}

func (ChatMessage) Action() string { return "chatMessage" }

// ---- outbound (coordinator -> surface) ----

// ShowNotification instructs a page to render a popup bubble.
type ShowNotification struct {
	Message       string `json:"message"`
	X             int    `json:"x"`
	Y             int    `json:"y"`
	AutoDismissMS int64  `json:"autoDismissMs"`
}

func (ShowNotification) Action() string { return "showNotification" }

// PopupStatusChanged syncs the pages' shadow copy of the chat-open flag.
type PopupStatusChanged struct {
	IsOpen bool `json:"isOpen"`
}

func (PopupStatusChanged) Action() string { return "popupStatusChanged" }

// OpenChat asks a page to open its chat surface (toolbar click or bubble click).
type OpenChat struct{}

func (OpenChat) Action() string { return "openChat" }

// BadgeChanged mirrors the unread badge state.
type BadgeChanged struct {
	Unread bool `json:"unread"`
}

func (BadgeChanged) Action() string { return "badgeChanged" }

// ChatResponse carries the backend's reply to a ChatMessage.
type ChatResponse struct {
	Text      string `json:"text"`
	LyricLine string `json:"lyric_line,omitempty"`
}

func (ChatResponse) Action() string { return "chatResponse" }

// Greeting is the once-per-session opening line.
type Greeting struct {
	Text string `json:"text"`
}

func (Greeting) Action() string { return "greeting" }

// Pending delivers the stored unread payload to a freshly opened chat surface.
type Pending struct {
	Message string `json:"message"`
	SentAt  int64  `json:"sent_at_ms"`
}

func (Pending) Action() string { return "pending" }

// Pong acknowledges a PopupPing.
type Pong struct{}

func (Pong) Action() string { return "pong" }

// Encode renders a message as a single wire frame.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	action, err := json.Marshal(m.Action())
	if err != nil {
		return nil, err
	}
	obj["action"] = action
	return json.Marshal(obj)
}

// Decode parses a wire frame into its typed variant.
func Decode(data []byte) (Message, error) {
	var env struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: bad frame: %w", err)
	}

	var m Message
	switch env.Action {
	case "hello":
		m = &Hello{}
	case "updateActivity":
		m = &UpdateActivity{}
	case "popupOpened":
		m = &PopupOpened{}
	case "popupClosed":
		m = &PopupClosed{}
	case "popupPing":
		m = &PopupPing{}
	case "pageVisibilityChanged":
		m = &PageVisibilityChanged{}
	case "disablePopups":
		m = &DisablePopups{}
	case "chatMessage":
		m = &ChatMessage{}
	case "showNotification":
		m = &ShowNotification{}
	case "popupStatusChanged":
		m = &PopupStatusChanged{}
	case "openChat":
		m = &OpenChat{}
	case "badgeChanged":
		m = &BadgeChanged{}
	case "chatResponse":
		m = &ChatResponse{}
	case "greeting":
		m = &Greeting{}
	case "pending":
		m = &Pending{}
	case "pong":
		m = &Pong{}
	case "":
		return nil, fmt.Errorf("protocol: missing action")
	default:
		return nil, fmt.Errorf("protocol: unknown action %q", env.Action)
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("protocol: bad %s payload: %w", env.Action, err)
	}
	return m, nil
}
