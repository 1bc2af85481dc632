package generation

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider answers with the Anthropic Messages API.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicProvider creates an Anthropic client. SDK retries are disabled;
// the generator owns fallback.
func NewAnthropicProvider(apiKey, model string, opts ...anthropicopt.RequestOption) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: anthropic api key is required", ErrInvalidConfig)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: anthropic model is required", ErrInvalidConfig)
	}
	base := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(apiKey),
		anthropicopt.WithMaxRetries(0),
	}
	client := anthropic.NewClient(append(base, opts...)...)
	return &AnthropicProvider{client: &client, model: model}, nil
}

func (a *AnthropicProvider) Name() string { return "anthropic" }

// Complete sends prompt as a single user message.
func (a *AnthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	rsp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("anthropic: %w: no text content", ErrMalformedResponse)
	}
	return b.String(), nil
}
