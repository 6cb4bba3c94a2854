package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nagbot/pkg/logx"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:    srv.URL,
		Timeout:    2 * time.Second,
		RatePerSec: 100,
	}, logx.Nop())
}

func TestRandomMessage(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/random-message" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "new drop incoming"})
	}))

	msg, err := c.RandomMessage(context.Background())
	if err != nil {
		t.Fatalf("RandomMessage: %v", err)
	}
	if msg != "new drop incoming" {
		t.Fatalf("message = %q", msg)
	}
}

func TestRandomMessageEmptyBody(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "  "})
	}))

	if _, err := c.RandomMessage(context.Background()); err == nil {
		t.Fatal("blank message must be an error")
	}
}

func TestChatSendsContextAndHistory(t *testing.T) {
	t.Parallel()
	var got ChatRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ChatResponse{
			Response:      "sure thing",
			IncludesLyric: true,
			LyricLine:     "started from the bottom",
		})
	}))

	resp, err := c.Chat(context.Background(), ChatRequest{
		Message:        "help me out",
		WebpageContext: "https://example.com/article",
		ConversationHistory: []HistoryItem{
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Response != "sure thing" || !resp.IncludesLyric || resp.LyricLine == "" {
		t.Fatalf("response = %+v", resp)
	}
	if got.WebpageContext != "https://example.com/article" {
		t.Fatalf("webpage_context = %q", got.WebpageContext)
	}
	if len(got.ConversationHistory) != 2 {
		t.Fatalf("history = %+v", got.ConversationHistory)
	}
}

func TestAnalyzeWebpagePutsURLInHTMLContent(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["html_content"] != "https://example.com" {
			t.Errorf("html_content = %q", body["html_content"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"greeting": "reading about Go, nice"})
	}))

	greeting, err := c.AnalyzeWebpage(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("AnalyzeWebpage: %v", err)
	}
	if greeting != "reading about Go, nice" {
		t.Fatalf("greeting = %q", greeting)
	}
}

func TestErrorIncludesStatusAndSnippet(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusBadGateway)
	}))

	_, err := c.RandomMessage(context.Background())
	if err == nil {
		t.Fatal("non-2xx must be an error")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("error = %v", err)
	}
}

func TestFallbacks(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		line := FallbackProactive()
		if line == "" {
			t.Fatal("empty fallback line")
		}
		seen[line] = true
	}
	if len(seen) < 2 {
		t.Fatal("fallback lines should vary")
	}
	if FallbackGreeting == "" || FallbackApology == "" {
		t.Fatal("canned lines must not be empty")
	}
}
