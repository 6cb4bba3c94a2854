// Package backend consumes the remote chat API. The daemon treats it as an
// unreliable collaborator: every call is best-effort, failures degrade to
// canned fallback lines and are never surfaced as user-visible errors.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"nagbot/pkg/logx"
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec int
}

type Client struct {
	base    string
	httpc   *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}
}

// ChatRequest mirrors the backend's POST /chat body.
type ChatRequest struct {
	Message             string        `json:"message"`
	WebpageContext      string        `json:"webpage_context,omitempty"`
	ConversationHistory []HistoryItem `json:"conversation_history,omitempty"`
}

type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse mirrors the backend's POST /chat reply.
type ChatResponse struct {
	Response      string `json:"response"`
	IncludesLyric bool   `json:"includes_lyric"`
	LyricLine     string `json:"lyric_line,omitempty"`
}

// RandomMessage fetches one proactive line (GET /random-message).
func (c *Client) RandomMessage(ctx context.Context) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/random-message", nil, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Message) == "" {
		return "", fmt.Errorf("backend: empty message")
	}
	return out.Message, nil
}

// Chat relays a user utterance (POST /chat).
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var out ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat", req, &out); err != nil {
		return ChatResponse{}, err
	}
	return out, nil
}

// AnalyzeWebpage asks for a session-opening greeting (POST /analyze-webpage).
// The backend's contract puts the page URL in the html_content field.
func (c *Client) AnalyzeWebpage(ctx context.Context, pageURL string) (string, error) {
	body := struct {
		HTMLContent string `json:"html_content"`
	}{HTMLContent: pageURL}
	var out struct {
		Greeting string `json:"greeting"`
	}
	if err := c.do(ctx, http.MethodPost, "/analyze-webpage", body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Greeting) == "" {
		return "", fmt.Errorf("backend: empty greeting")
	}
	return out.Greeting, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little for the log line, then discard.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("backend: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}

// ---- canned fallbacks ----

// proactiveFallbacks are used when the backend is unreachable and a popup is
// due anyway. Failures never cancel an engagement action, they just get a
// less fresh line.
var proactiveFallbacks = []string{
	"Yo, still there?",
	"Forgot about me already?",
	"Need a hand with anything?",
	"So what are you actually up to here?",
	"Back from the studio, what can I fix for you?",
	"Heyyo, anything I can help with?",
}

// FallbackProactive returns a random canned proactive line.
func FallbackProactive() string {
	return lo.Sample(proactiveFallbacks)
}

// FallbackGreeting is the opening line used when /analyze-webpage fails.
const FallbackGreeting = "Heyyo! What can I help you with today?"

// FallbackApology is the single in-chat line shown when /chat fails.
const FallbackApology = "Ah, my connection is acting up. Say that again?"
