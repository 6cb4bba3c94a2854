// Package hub owns the websocket side of the daemon. Pages and chat surfaces
// connect here, identify themselves with a hello frame, and are fanned
// engagement frames from the coordinator. Each page connection carries its own
// suppression agent so popup gating stays per tab.
package hub

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"nagbot/internal/chatsurface"
	"nagbot/internal/pageagent"
	"nagbot/internal/protocol"
	"nagbot/pkg/logx"
)

const (
	helloTimeout = 5 * time.Second
	writeTimeout = 2 * time.Second
)

// ErrNoPages is returned by OpenChat when no page is connected.
var ErrNoPages = errors.New("hub: no page connections")

// Engager is the slice of the coordinator that page connections feed. Pages
// report chat open/close too: the content script sees the popup before the
// chat surface's own connection comes up.
type Engager interface {
	RecordActivity(now time.Time)
	PageVisibility(visible bool)
	ChatOpened(ctx context.Context, now time.Time)
	ChatClosed(ctx context.Context)
}

// SessionFactory builds the server-side session for a freshly connected chat
// surface.
type SessionFactory func(pageURL string) *chatsurface.Session

type pageConn struct {
	agent *pageagent.Agent
	tabID string
}

// Hub tracks live connections and implements the coordinator's broadcaster.
type Hub struct {
	eng        Engager
	newSession SessionFactory
	log        logx.Logger

	mu          sync.Mutex
	agentPolicy pageagent.Policy
	pages       map[*websocket.Conn]*pageConn
	chats       map[*websocket.Conn]struct{}
}

func New(agentPolicy pageagent.Policy, log logx.Logger) *Hub {
	return &Hub{
		log:         log,
		agentPolicy: agentPolicy,
		pages:       make(map[*websocket.Conn]*pageConn),
		chats:       make(map[*websocket.Conn]struct{}),
	}
}

// Bind installs the coordinator side and the chat session factory. The hub
// broadcasts into the coordinator and the coordinator broadcasts back through
// the hub, so both are constructed before either is wired. Must be called
// before the listener starts.
func (h *Hub) Bind(eng Engager, newSession SessionFactory) {
	h.eng = eng
	h.newSession = newSession
}

// Apply swaps the suppression policy for current and future page agents.
func (h *Hub) Apply(p pageagent.Policy) {
	h.mu.Lock()
	h.agentPolicy = p
	for _, pc := range h.pages {
		pc.agent.Apply(p)
	}
	h.mu.Unlock()
}

// Counts reports live connections per role.
func (h *Hub) Counts() (pages, chats int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pages), len(h.chats)
}

// ShowPopup runs the message through every page's agent and delivers a bubble
// to the pages whose suppression rules allow one.
func (h *Hub) ShowPopup(ctx context.Context, message string) {
	now := time.Now()
	h.mu.Lock()
	type target struct {
		conn  *websocket.Conn
		frame protocol.ShowNotification
	}
	targets := make([]target, 0, len(h.pages))
	for conn, pc := range h.pages {
		if frame, ok := pc.agent.Render(now, message); ok {
			targets = append(targets, target{conn: conn, frame: frame})
		}
	}
	h.mu.Unlock()

	for _, t := range targets {
		h.send(ctx, t.conn, &t.frame)
	}
}

// ChatStatusChanged syncs every page's shadow copy of the chat-open flag.
func (h *Hub) ChatStatusChanged(ctx context.Context, open bool) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.pages))
	for conn, pc := range h.pages {
		pc.agent.SetChatOpen(open)
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	frame := &protocol.PopupStatusChanged{IsOpen: open}
	for _, conn := range conns {
		h.send(ctx, conn, frame)
	}
}

// BadgeChanged mirrors the unread badge onto every page.
func (h *Hub) BadgeChanged(ctx context.Context, unread bool) {
	frame := &protocol.BadgeChanged{Unread: unread}
	for _, conn := range h.pageConns() {
		h.send(ctx, conn, frame)
	}
}

// OpenChat asks connected pages to open their chat surface.
func (h *Hub) OpenChat(ctx context.Context) error {
	conns := h.pageConns()
	if len(conns) == 0 {
		return ErrNoPages
	}
	frame := &protocol.OpenChat{}
	for _, conn := range conns {
		h.send(ctx, conn, frame)
	}
	return nil
}

// ServePage upgrades a page connection and runs its read loop until it drops.
func (h *Hub) ServePage(w http.ResponseWriter, r *http.Request) {
	conn, hello, ok := h.accept(w, r, protocol.RolePage)
	if !ok {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	pc := &pageConn{
		agent: pageagent.New(h.currentPolicy(), hello.Viewport, 0),
		tabID: hello.TabID,
	}
	h.mu.Lock()
	h.pages[conn] = pc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pages, conn)
		h.mu.Unlock()
	}()

	h.log.Debug("page connected", logx.String("tab_id", pc.tabID))
	h.readPage(r.Context(), conn, pc)
	h.log.Debug("page disconnected", logx.String("tab_id", pc.tabID))
}

// ServeChat upgrades a chat-surface connection, opens its session, and runs
// it until the surface goes away.
func (h *Hub) ServeChat(w http.ResponseWriter, r *http.Request) {
	conn, hello, ok := h.accept(w, r, protocol.RoleChat)
	if !ok {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	h.mu.Lock()
	h.chats[conn] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.chats, conn)
		h.mu.Unlock()
	}()

	ctx := r.Context()
	sess := h.newSession(hello.PageURL)
	defer sess.Close(context.WithoutCancel(ctx))

	h.log.Debug("chat surface connected", logx.String("session_id", sess.ID))
	for _, frame := range sess.Open(ctx) {
		h.send(ctx, conn, frame)
	}
	h.readChat(ctx, conn, sess)
	h.log.Debug("chat surface disconnected", logx.String("session_id", sess.ID))
}

func (h *Hub) accept(w http.ResponseWriter, r *http.Request, want protocol.Role) (*websocket.Conn, *protocol.Hello, bool) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local daemon, extension origins vary
	})
	if err != nil {
		h.log.Warn("websocket accept failed", logx.Err(err))
		return nil, nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), helloTimeout)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return nil, nil, false
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "bad hello")
		return nil, nil, false
	}
	hello, isHello := msg.(*protocol.Hello)
	if !isHello || hello.Role != want {
		_ = conn.Close(websocket.StatusPolicyViolation, "wrong role")
		return nil, nil, false
	}
	return conn, hello, true
}

func (h *Hub) readPage(ctx context.Context, conn *websocket.Conn, pc *pageConn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			h.log.Debug("dropping bad page frame", logx.Err(err))
			continue
		}
		switch m := msg.(type) {
		case *protocol.Hello:
			pc.agent.SetViewport(m.Viewport)
		case *protocol.UpdateActivity:
			h.eng.RecordActivity(time.Now())
		case *protocol.PageVisibilityChanged:
			h.eng.PageVisibility(m.IsVisible)
		case *protocol.PopupOpened:
			h.eng.ChatOpened(ctx, time.Now())
		case *protocol.PopupClosed:
			h.eng.ChatClosed(ctx)
		case *protocol.DisablePopups:
			pc.agent.DisablePopups()
		default:
			h.log.Debug("ignoring page frame", logx.String("action", msg.Action()))
		}
	}
}

func (h *Hub) readChat(ctx context.Context, conn *websocket.Conn, sess *chatsurface.Session) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			h.log.Debug("dropping bad chat frame", logx.Err(err))
			continue
		}
		switch m := msg.(type) {
		case *protocol.PopupPing:
			h.send(ctx, conn, sess.Ping())
		case *protocol.ChatMessage:
			h.send(ctx, conn, sess.HandleMessage(ctx, m))
		case *protocol.UpdateActivity:
			h.eng.RecordActivity(time.Now())
		default:
			h.log.Debug("ignoring chat frame", logx.String("action", msg.Action()))
		}
	}
}

func (h *Hub) pageConns() []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := make([]*websocket.Conn, 0, len(h.pages))
	for conn := range h.pages {
		conns = append(conns, conn)
	}
	return conns
}

func (h *Hub) currentPolicy() pageagent.Policy {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.agentPolicy
}

func (h *Hub) send(ctx context.Context, conn *websocket.Conn, m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		h.log.Error("failed to encode frame", logx.String("action", m.Action()), logx.Err(err))
		return
	}
	if err := writeWithTimeout(ctx, conn, data); err != nil {
		h.remove(conn)
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.pages, conn)
	delete(h.chats, conn)
	h.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func writeWithTimeout(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
