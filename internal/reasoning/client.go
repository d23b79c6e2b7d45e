// Package reasoning wraps the external LLM reasoning backend with rate
// limiting, retry, cost tracking, and structured-response decoding.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moltstore/appreview/internal/models"
)

// ErrDecode marks a malformed structured response from the backend. It is
// distinct from backend failures and never silently coerced to an empty
// result.
var ErrDecode = errors.New("malformed structured response")

// BackendError carries the backend's HTTP status so the retry policy can
// distinguish rate-limit and overload responses from everything else.
type BackendError struct {
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("reasoning backend: status %d: %v", e.StatusCode, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// TokenUsage is the token accounting for one call.
type TokenUsage struct {
	Input  int
	Output int
	Total  int
}

// Options tunes a single backend call.
type Options struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Response is the outcome of one backend call.
type Response struct {
	Content   string
	Tokens    TokenUsage
	Cost      float64
	LatencyMs int64
}

// Backend is the capability interface over the external reasoning service.
// The pipeline depends only on this, enabling test doubles.
type Backend interface {
	CreateMessage(ctx context.Context, prompt string, opts Options) (content string, usage TokenUsage, err error)
}

// pricing is USD per 1M tokens per model.
type pricing struct {
	input  float64
	output float64
}

var modelPricing = map[string]pricing{
	"claude-opus-4-20250514":    {input: 15, output: 75},
	"claude-sonnet-4-20250514":  {input: 3, output: 15},
	"claude-haiku-3-5-20241022": {input: 0.25, output: 1.25},
}

// fallbackPricing is used for models absent from the table.
var fallbackPricing = modelPricing["claude-sonnet-4-20250514"]

// CalculateCost converts token usage to dollars for the given model.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := modelPricing[model]
	if !ok {
		p = fallbackPricing
	}
	return float64(inputTokens)/1e6*p.input + float64(outputTokens)/1e6*p.output
}

// EstimateTokens approximates the token count of text (~4 chars/token).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

const maxAttempts = 3

// Client is the rate-limited, retrying, cost-tracked reasoning client.
type Client struct {
	backend Backend
	budget  *Budget
	model   string

	// sleep is replaceable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client over the given backend, charging the given
// budget. model selects the pricing row.
func NewClient(backend Backend, budget *Budget, model string) *Client {
	return &Client{
		backend: backend,
		budget:  budget,
		model:   model,
		sleep:   sleepCtx,
	}
}

// Budget exposes the injected tracker so callers can check ceilings
// between stages.
func (c *Client) Budget() *Budget { return c.budget }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Send issues one backend call. Rate limiting fails fast; backend
// rate-limit (429) and overload (529) responses are retried with
// exponential backoff; all other errors propagate immediately.
func (c *Client) Send(ctx context.Context, prompt string, opts Options) (*Response, error) {
	if err := c.budget.Reserve(); err != nil {
		return nil, err
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		content, usage, err := c.backend.CreateMessage(ctx, prompt, opts)
		if err == nil {
			cost := CalculateCost(c.model, usage.Input, usage.Output)
			c.budget.AddCost(cost)
			return &Response{
				Content:   content,
				Tokens:    usage,
				Cost:      cost,
				LatencyMs: time.Since(start).Milliseconds(),
			}, nil
		}

		lastErr = err
		var backendErr *BackendError
		if !errors.As(err, &backendErr) {
			return nil, err
		}
		var wait time.Duration
		switch backendErr.StatusCode {
		case 429:
			wait = time.Duration(1<<attempt) * time.Second
		case 529:
			wait = time.Duration(1<<attempt) * 2 * time.Second
		default:
			return nil, err
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// SendJSON issues a call and decodes the response into v after stripping
// markdown fences and extracting the first well-formed JSON array/object.
// Decode failures are reported as ErrDecode, never as empty results.
func (c *Client) SendJSON(ctx context.Context, prompt string, opts Options, v any) (*Response, error) {
	resp, err := c.Send(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}

	raw, err := ExtractJSON(resp.Content)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("%w: %v (content: %s)", ErrDecode, err, snippet(resp.Content, 200))
	}
	return resp, nil
}

// ExtractJSON strips markdown code fences and returns the first
// well-formed JSON array or object in content.
func ExtractJSON(content string) (json.RawMessage, error) {
	s := strings.ReplaceAll(strings.TrimSpace(content), "\r\n", "\n")

	// Strip a leading ```/```json fence and its closing fence.
	if strings.HasPrefix(s, "```") {
		if nl := strings.Index(s, "\n"); nl >= 0 {
			s = s[nl+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON value found (content: %s)", ErrDecode, snippet(s, 200))
	}

	dec := json.NewDecoder(strings.NewReader(s[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v (content: %s)", ErrDecode, err, snippet(s, 200))
	}
	return raw, nil
}

// ValidateFindings enforces the finding schema on decoded backend output.
// Enum violations are schema drift and surface as ErrDecode.
func ValidateFindings(findings []models.Finding) error {
	for i, f := range findings {
		if !f.Severity.Valid() {
			return fmt.Errorf("%w: finding %d: unknown severity %q", ErrDecode, i, f.Severity)
		}
		if !f.Category.Valid() {
			return fmt.Errorf("%w: finding %d: unknown category %q", ErrDecode, i, f.Category)
		}
		if f.Title == "" {
			return fmt.Errorf("%w: finding %d: missing title", ErrDecode, i)
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			return fmt.Errorf("%w: finding %d: confidence %v out of range", ErrDecode, i, f.Confidence)
		}
	}
	return nil
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
