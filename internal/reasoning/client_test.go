package reasoning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltstore/appreview/internal/models"
)

// fakeBackend scripts per-call results for the client.
type fakeBackend struct {
	responses []fakeCall
	calls     int
	prompts   []string
}

type fakeCall struct {
	content string
	usage   TokenUsage
	err     error
}

func (f *fakeBackend) CreateMessage(ctx context.Context, prompt string, opts Options) (string, TokenUsage, error) {
	f.prompts = append(f.prompts, prompt)
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	c := f.responses[idx]
	return c.content, c.usage, c.err
}

func newTestClient(backend Backend) *Client {
	c := NewClient(backend, NewBudget(10.0, 100), "claude-sonnet-4-20250514")
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestCalculateCost(t *testing.T) {
	// sonnet: $3/M input, $15/M output
	cost := CalculateCost("claude-sonnet-4-20250514", 1_000_000, 1_000_000)
	assert.InDelta(t, 18.0, cost, 1e-9)

	// Unknown models use the fallback pricing row.
	assert.InDelta(t, cost, CalculateCost("claude-nonexistent", 1_000_000, 1_000_000), 1e-9)

	// opus: $15/M input, $75/M output
	assert.InDelta(t, 0.09, CalculateCost("claude-opus-4-20250514", 1000, 1000), 1e-9)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestSend_Success(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{
		{content: "hello", usage: TokenUsage{Input: 1000, Output: 500, Total: 1500}},
	}}
	c := newTestClient(backend)

	resp, err := c.Send(context.Background(), "prompt", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 1500, resp.Tokens.Total)
	assert.InDelta(t, 1000.0/1e6*3+500.0/1e6*15, resp.Cost, 1e-9)
	assert.InDelta(t, resp.Cost, c.Budget().Cost(), 1e-9)
}

func TestSend_RetriesOn429(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{
		{err: &BackendError{StatusCode: 429, Err: errors.New("rate limited")}},
		{err: &BackendError{StatusCode: 429, Err: errors.New("rate limited")}},
		{content: "ok", usage: TokenUsage{Input: 10, Output: 10, Total: 20}},
	}}
	c := newTestClient(backend)

	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	resp, err := c.Send(context.Background(), "prompt", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, backend.calls)
	// Exponential backoff: 1s then 2s.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestSend_OverloadBackoffDoubled(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{
		{err: &BackendError{StatusCode: 529, Err: errors.New("overloaded")}},
		{content: "ok"},
	}}
	c := newTestClient(backend)

	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := c.Send(context.Background(), "prompt", Options{})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, waits)
}

func TestSend_ExhaustsRetries(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{
		{err: &BackendError{StatusCode: 429, Err: errors.New("rate limited")}},
	}}
	c := newTestClient(backend)

	_, err := c.Send(context.Background(), "prompt", Options{})
	require.Error(t, err)
	assert.Equal(t, 3, backend.calls)

	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, 429, backendErr.StatusCode)
}

func TestSend_NonRetryableStatusPropagates(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{
		{err: &BackendError{StatusCode: 401, Err: errors.New("unauthorized")}},
	}}
	c := newTestClient(backend)

	_, err := c.Send(context.Background(), "prompt", Options{})
	require.Error(t, err)
	assert.Equal(t, 1, backend.calls)
}

func TestSend_RateLimitFailsFast(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{{content: "ok"}}}
	c := NewClient(backend, NewBudget(10.0, 0), "claude-sonnet-4-20250514")

	_, err := c.Send(context.Background(), "prompt", Options{})
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 0, backend.calls)
}

func TestSendJSON_DecodesFindings(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{
		{content: "```json\n[{\"severity\":\"high\",\"category\":\"secrets\",\"title\":\"Leaked key\",\"confidence\":0.9}]\n```"},
	}}
	c := newTestClient(backend)

	var findings []models.Finding
	_, err := c.SendJSON(context.Background(), "prompt", Options{}, &findings)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, models.SeverityHigh, findings[0].Severity)
	assert.Equal(t, "Leaked key", findings[0].Title)
}

func TestSendJSON_MalformedIsErrDecode(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{
		{content: "I could not produce JSON, sorry."},
	}}
	c := newTestClient(backend)

	var findings []models.Finding
	_, err := c.SendJSON(context.Background(), "prompt", Options{}, &findings)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{name: "bare object", content: `{"a":1}`, want: `{"a":1}`},
		{name: "bare array", content: `[1,2]`, want: `[1,2]`},
		{name: "fenced", content: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose prefix", content: "Here are the findings:\n[{\"a\":1}]", want: `[{"a":1}]`},
		{name: "trailing prose", content: `{"a":1} hope that helps`, want: `{"a":1}`},
		{name: "no json", content: "nothing here", wantErr: true},
		{name: "truncated", content: `{"a": [1, 2`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := ExtractJSON(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrDecode)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestValidateFindings(t *testing.T) {
	valid := models.Finding{
		Severity:   models.SeverityLow,
		Category:   models.CategoryCodeQuality,
		Title:      "x",
		Confidence: 0.5,
	}
	require.NoError(t, ValidateFindings([]models.Finding{valid}))

	bad := valid
	bad.Severity = "urgent"
	assert.ErrorIs(t, ValidateFindings([]models.Finding{bad}), ErrDecode)

	bad = valid
	bad.Category = "spam"
	assert.ErrorIs(t, ValidateFindings([]models.Finding{bad}), ErrDecode)

	bad = valid
	bad.Title = ""
	assert.ErrorIs(t, ValidateFindings([]models.Finding{bad}), ErrDecode)

	bad = valid
	bad.Confidence = 1.5
	assert.ErrorIs(t, ValidateFindings([]models.Finding{bad}), ErrDecode)
}
