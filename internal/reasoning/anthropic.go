package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend implements Backend over the Anthropic Messages API.
type AnthropicBackend struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewAnthropicBackend creates a backend for the given API key and model.
func NewAnthropicBackend(apiKey, model string) *AnthropicBackend {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicBackend{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// CreateMessage sends one message and returns the concatenated text blocks.
// API errors are wrapped in BackendError so the client can classify them.
func (b *AnthropicBackend) CreateMessage(ctx context.Context, prompt string, opts Options) (string, TokenUsage, error) {
	params := anthropic.MessageNewParams{
		Model:       b.model,
		MaxTokens:   int64(opts.MaxTokens),
		Temperature: anthropic.Float(opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}

	msg, err := b.api.Messages.New(ctx, params)
	if err != nil {
		var apierr *anthropic.Error
		if errors.As(err, &apierr) {
			return "", TokenUsage{}, &BackendError{StatusCode: apierr.StatusCode, Err: err}
		}
		return "", TokenUsage{}, fmt.Errorf("anthropic API call: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", TokenUsage{}, fmt.Errorf("no text content in API response")
	}

	usage := TokenUsage{
		Input:  int(msg.Usage.InputTokens),
		Output: int(msg.Usage.OutputTokens),
	}
	usage.Total = usage.Input + usage.Output
	return sb.String(), usage, nil
}
