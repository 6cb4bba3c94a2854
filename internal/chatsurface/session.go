// Package chatsurface runs one conversation per connected chat surface: it
// reports the open/ping/close lifecycle to the coordinator, produces the
// opening greeting, relays utterances to the backend, and keeps the
// transcript in the session store so a reopened surface can pick up where
// the last one left off.
package chatsurface

import (
	"context"
	"time"

	"github.com/google/uuid"

	"nagbot/internal/backend"
	"nagbot/internal/protocol"
	"nagbot/internal/session"
	"nagbot/pkg/logx"
)

// historyLimit caps how much transcript is replayed to the backend per
// request. The backend prompt is short-form; old context stops helping fast.
const historyLimit = 20

// Backend is the slice of the remote API a session needs.
type Backend interface {
	Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatResponse, error)
	AnalyzeWebpage(ctx context.Context, pageURL string) (string, error)
}

// Lifecycle is the slice of the coordinator a session reports into.
type Lifecycle interface {
	ChatOpened(ctx context.Context, now time.Time)
	ChatClosed(ctx context.Context)
	ChatPing(now time.Time)
	RecordActivity(now time.Time)
}

// Session is one chat surface's server-side state. It lives exactly as long
// as the surface's connection.
type Session struct {
	ID      string
	pageURL string

	be    Backend
	lc    Lifecycle
	store session.Store
	log   logx.Logger

	nowFn func() time.Time
}

func NewSession(pageURL string, be Backend, lc Lifecycle, store session.Store, log logx.Logger) *Session {
	return &Session{
		ID:      uuid.NewString(),
		pageURL: pageURL,
		be:      be,
		lc:      lc,
		store:   store,
		log:     log,
		nowFn:   time.Now,
	}
}

// Open reports the surface open (clearing the unread badge, per the
// coordinator) and returns the frames a fresh surface should render first:
// the pending unread payload, if any, then the opening greeting.
func (s *Session) Open(ctx context.Context) []protocol.Message {
	now := s.nowFn()
	s.lc.ChatOpened(ctx, now)

	var out []protocol.Message

	if s.store != nil {
		if p, ok, err := s.store.GetPending(ctx); err == nil && ok {
			out = append(out, &protocol.Pending{Message: p.Message, SentAt: p.SentAt.UnixMilli()})
			if err := s.store.ClearPending(ctx); err != nil {
				s.log.Warn("failed to clear pending notification", logx.Err(err))
			}
		}
	}

	greeting, err := s.be.AnalyzeWebpage(ctx, s.pageURL)
	if err != nil {
		s.log.Debug("greeting fetch failed", logx.Err(err))
		greeting = backend.FallbackGreeting
	}
	s.record(ctx, "bot", greeting, "")
	out = append(out, &protocol.Greeting{Text: greeting})

	return out
}

// Ping refreshes the liveness window. Returns the ack frame.
func (s *Session) Ping() protocol.Message {
	s.lc.ChatPing(s.nowFn())
	return &protocol.Pong{}
}

// HandleMessage relays a user utterance and returns the reply frame. Backend
// failures fall back to a single canned apology, never an error frame.
func (s *Session) HandleMessage(ctx context.Context, msg *protocol.ChatMessage) *protocol.ChatResponse {
	now := s.nowFn()
	s.lc.RecordActivity(now)

	pageURL := msg.PageURL
	if pageURL == "" {
		pageURL = s.pageURL
	}

	// History is the conversation so far, not including the new utterance.
	req := backend.ChatRequest{
		Message:             msg.Text,
		WebpageContext:      pageURL,
		ConversationHistory: s.history(ctx),
	}
	s.record(ctx, "user", msg.Text, "")
	resp, err := s.be.Chat(ctx, req)
	if err != nil {
		s.log.Debug("chat relay failed", logx.Err(err))
		resp = backend.ChatResponse{Response: backend.FallbackApology}
	}

	s.record(ctx, "bot", resp.Response, resp.LyricLine)
	return &protocol.ChatResponse{Text: resp.Response, LyricLine: resp.LyricLine}
}

// Close reports the surface closed (explicit close, unload, visibility loss).
func (s *Session) Close(ctx context.Context) {
	s.lc.ChatClosed(ctx)
}

func (s *Session) history(ctx context.Context) []backend.HistoryItem {
	if s.store == nil {
		return nil
	}
	entries, err := s.store.Transcript(ctx, s.ID, historyLimit)
	if err != nil {
		return nil
	}
	items := make([]backend.HistoryItem, 0, len(entries))
	for _, e := range entries {
		role := "assistant"
		if e.Role == "user" {
			role = "user"
		}
		items = append(items, backend.HistoryItem{Role: role, Content: e.Text})
	}
	return items
}

func (s *Session) record(ctx context.Context, role, text, lyric string) {
	if s.store == nil || text == "" {
		return
	}
	err := s.store.AppendEntry(ctx, session.Entry{
		SessionID: s.ID,
		Role:      role,
		Text:      text,
		LyricLine: lyric,
		At:        s.nowFn(),
	})
	if err != nil {
		s.log.Warn("failed to append transcript entry", logx.Err(err))
	}
}
