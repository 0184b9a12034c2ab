// Package agent wraps the external conversational-agent HTTP endpoint. Every
// call is a single attempt with a fixed timeout; all failure modes are
// normalized into a Response carrying a user-facing fallback text, never
// propagated as an error or a crash.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// replyFields is the priority order of JSON field names probed for the
// agent's reply text.
var replyFields = []string{"response", "reply", "message", "answer", "text"}

// User-facing fallback texts per failure mode.
const (
	FallbackUnavailable = "Sorry, the chatbot service is currently unavailable. Please try again later."
	FallbackHTTPError   = "Sorry, there was an error processing your request."
	FallbackUnexpected  = "Sorry, an unexpected error occurred."
)

// errorDetailUnreachable is the fixed detail recorded for transport-level
// failures (connection refused, timeout).
const errorDetailUnreachable = "connection timeout or server unreachable"

// maxBodySummary caps how much of an error response body is copied into
// ErrorDetail.
const maxBodySummary = 512

// Config holds the agent endpoint settings.
type Config struct {
	BaseURL    string        // e.g. http://localhost:5000
	ChatPath   string        // chat endpoint path
	HealthPath string        // health probe path
	Timeout    time.Duration // per-request timeout
}

// DefaultConfig returns the agent defaults matching the chatbot service's
// local deployment.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:5000",
		ChatPath:   "/chat",
		HealthPath: "/health",
		Timeout:    5000 * time.Millisecond,
	}
}

// Response is the normalized outcome of a bridge call. Exactly one of Reply
// and ErrorDetail is set; Fallback carries the user-facing substitute text
// when the call failed.
type Response struct {
	Success         bool      `json:"success"`
	Reply           string    `json:"reply,omitempty"`
	ErrorDetail     string    `json:"error,omitempty"`
	Fallback        string    `json:"-"`
	OriginalMessage string    `json:"original_message"`
	RespondedAt     time.Time `json:"responded_at"`
}

// Text returns what should be shown to end users: the agent's reply on
// success, the fallback otherwise.
func (r *Response) Text() string {
	if r.Success {
		return r.Reply
	}
	return r.Fallback
}

// Bridge forwards user messages to the external agent over HTTP.
type Bridge struct {
	config Config
	client *http.Client
}

// NewBridge creates a Bridge with the given configuration.
func NewBridge(config Config) *Bridge {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Bridge{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Forward sends the user's message text to the agent and returns the
// normalized outcome. It performs at most one attempt: chat UX favors a fast
// fallback over blocking retries. The fixed request timeout is the only
// cancellation mechanism; callers run Forward off the dispatch path.
func (b *Bridge) Forward(text string) *Response {
	resp := &Response{
		OriginalMessage: text,
		RespondedAt:     time.Now(),
	}

	body, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		// Marshalling a map of strings cannot fail in practice; handled the
		// same as any other unexpected error.
		return failure(resp, err.Error(), FallbackUnexpected)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.config.Timeout)
	defer cancel()

	url := b.config.BaseURL + b.config.ChatPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return failure(resp, err.Error(), FallbackUnexpected)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := b.client.Do(req)
	if err != nil {
		log.Printf("agent: endpoint unreachable url=%s: %v", url, err)
		return failure(resp, errorDetailUnreachable, FallbackUnavailable)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		log.Printf("agent: reading response body failed: %v", err)
		return failure(resp, errorDetailUnreachable, FallbackUnavailable)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		detail := fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode, summarize(raw))
		log.Printf("agent: http error from endpoint: %s", detail)
		return failure(resp, detail, FallbackHTTPError)
	}

	reply, err := extractReply(raw)
	if err != nil {
		log.Printf("agent: unexpected response payload: %v", err)
		return failure(resp, err.Error(), FallbackUnexpected)
	}

	resp.Success = true
	resp.Reply = reply
	resp.RespondedAt = time.Now()
	return resp
}

// IsAlive probes the agent's health endpoint. It returns false on any
// failure and is used only for diagnostics; it never gates Forward.
func (b *Bridge) IsAlive() bool {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.Timeout)
	defer cancel()

	url := b.config.BaseURL + b.config.HealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := b.client.Do(req)
	if err != nil {
		log.Printf("agent: health check failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// extractReply pulls the reply string out of the agent's JSON body by probing
// a fixed priority order of field names. When none match, the raw body is
// returned verbatim; that is degraded behavior, not an error.
func extractReply(raw []byte) (string, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("agent: malformed response body: %w", err)
	}

	for _, field := range replyFields {
		rawField, ok := payload[field]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(rawField, &value); err == nil {
			return value, nil
		}
	}

	log.Printf("agent: no known reply field in response, using raw body")
	return string(raw), nil
}

// summarize truncates an error response body for inclusion in ErrorDetail.
func summarize(raw []byte) string {
	if len(raw) > maxBodySummary {
		return string(raw[:maxBodySummary]) + "..."
	}
	return string(raw)
}

func failure(resp *Response, detail, fallback string) *Response {
	resp.Success = false
	resp.ErrorDetail = detail
	resp.Fallback = fallback
	resp.RespondedAt = time.Now()
	return resp
}
