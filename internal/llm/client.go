// Package llm provides the Claude API client and the market-news narrator
// built on it, plus the deterministic template used when no model is
// available.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
	model      = "claude-haiku-4-5-20251001"

	defaultCallsPerMinute = 20
)

var (
	// ErrDisabled is returned by a nil or keyless client.
	ErrDisabled = errors.New("llm client not configured")
	// ErrRateLimited is returned when the per-minute call budget is spent.
	ErrRateLimited = errors.New("llm rate limit exceeded")
)

// APIError is a non-200 reply from the Messages API.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

// Client calls the Messages API on behalf of the narrator.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client

	mu          sync.Mutex
	calls       int
	windowEnds  time.Time
	callsPerMin int
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithEndpoint points the client at a different Messages API URL.
func WithEndpoint(url string) ClientOption {
	return func(c *Client) { c.endpoint = url }
}

// WithRateLimit caps calls per minute.
func WithRateLimit(perMinute int) ClientOption {
	return func(c *Client) { c.callsPerMin = perMinute }
}

// NewClient returns nil if apiKey is empty; narration then uses the template.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	if apiKey == "" {
		return nil
	}
	c := &Client{
		apiKey:      apiKey,
		endpoint:    apiURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		callsPerMin: defaultCallsPerMinute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Messages    []message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// take reserves one call from the current minute's budget.
func (c *Client) take(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.After(c.windowEnds) {
		c.calls = 0
		c.windowEnds = now.Add(time.Minute)
	}
	if c.calls >= c.callsPerMin {
		return false
	}
	c.calls++
	return true
}

// Complete sends one user prompt and returns the concatenated text blocks
// of the reply.
func (c *Client) Complete(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	if !c.take(time.Now()) {
		return "", fmt.Errorf("%w (%d calls/min)", ErrRateLimited, c.callsPerMin)
	}

	body, err := json.Marshal(request{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      system,
		Temperature: 0.7,
		Messages:    []message{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("API call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			apiErr.Type, apiErr.Message = eb.Error.Type, eb.Error.Message
		}
		return "", apiErr
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", errors.New("empty response")
	}

	slog.Debug("narration call",
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
		"stop_reason", out.StopReason,
	)
	return text.String(), nil
}
