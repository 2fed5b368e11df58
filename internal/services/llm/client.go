package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	defaultTimeout  = 60 * time.Second
)

// Config holds the endpoint and credentials of a chat completion API.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// Client sends JSON-mode chat completions.
type Client struct {
	cfg     Config
	http    *http.Client
	backoff backoff
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithRetryMaxAttempts sets the total number of attempts per request.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) { c.backoff.attempts = attempts }
}

// WithRetryBackoff sets the first retry delay and the delay ceiling.
func WithRetryBackoff(base, ceiling time.Duration) Option {
	return func(c *Client) {
		c.backoff.base = base
		c.backoff.ceiling = ceiling
	}
}

// WithSleeper replaces the wait between attempts. Tests use it to record delays.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(c *Client) { c.backoff.sleep = sleep }
}

// NewClient builds a client; blank fields fall back to OpenRouter defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.Referer = strings.TrimSpace(cfg.Referer)
	cfg.Title = strings.TrimSpace(cfg.Title)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEndpoint
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		backoff: defaultBackoff(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.cfg.Model
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: http %d: %s", e.Code, e.Body)
}

// IsAuthError reports whether the API rejected the credentials.
func IsAuthError(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden
}

// errEmptyContent marks a well-formed answer that carried no text.
var errEmptyContent = errors.New("llm: empty completion")

// CompleteJSON sends the two prompts at temperature 0 in JSON mode and returns
// the raw content of the first non-empty choice.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	systemPrompt = strings.TrimSpace(systemPrompt)
	userPrompt = strings.TrimSpace(userPrompt)
	switch {
	case systemPrompt == "":
		return "", errors.New("llm: system prompt required")
	case userPrompt == "":
		return "", errors.New("llm: user prompt required")
	case c.cfg.APIKey == "":
		return "", errors.New("llm: api key required")
	}
	return c.complete(ctx, systemPrompt, userPrompt)
}

// CompleteInto is CompleteJSON followed by DecodeJSON into target.
func (c *Client) CompleteInto(ctx context.Context, systemPrompt, userPrompt string, target any) error {
	content, err := c.CompleteJSON(ctx, systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	if err := DecodeJSON(content, target); err != nil {
		return fmt.Errorf("llm: decode completion: %w", err)
	}
	return nil
}

// HealthCheck asks for a fixed JSON answer to confirm the key and model work.
func (c *Client) HealthCheck(ctx context.Context) error {
	var reply struct {
		OK bool `json:"ok"`
	}
	if err := c.CompleteInto(ctx, "Reply with JSON only.", `Reply with {"ok":true}`, &reply); err != nil {
		return err
	}
	if !reply.OK {
		return errors.New("llm: health check answered without ok")
	}
	return nil
}

type request struct {
	Model          string            `json:"model"`
	Messages       []message         `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		// Some providers answer non-streaming requests with the streaming shape.
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (r response) content() (string, string) {
	reason := ""
	for _, choice := range r.Choices {
		if reason == "" {
			reason = choice.FinishReason
		}
		for _, candidate := range []string{choice.Message.Content, choice.Delta.Content, choice.Text} {
			if text := strings.TrimSpace(candidate); text != "" {
				return text, reason
			}
		}
	}
	return "", reason
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(request{
		Model: c.cfg.Model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("llm: encode request: %w", err)
	}

	for attempt := 1; ; attempt++ {
		content, err := c.post(ctx, body)
		if err == nil {
			return content, nil
		}
		delay, retry := c.backoff.next(ctx, err, attempt)
		if !retry {
			if attempt > 1 {
				return "", fmt.Errorf("llm: failed after %d attempts: %w", attempt, err)
			}
			return "", err
		}
		if err := c.backoff.wait(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: send request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{
			Code:       resp.StatusCode,
			Body:       snippet(string(raw)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm: api error: %s", strings.TrimSpace(parsed.Error.Message))
	}
	content, reason := parsed.content()
	if content == "" {
		return "", fmt.Errorf("%w (finish_reason=%q, body=%s)", errEmptyContent, reason, snippet(string(raw)))
	}
	return content, nil
}
