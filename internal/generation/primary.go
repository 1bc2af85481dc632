package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are ScreenPilot, an enterprise research copilot."

// PrimaryConfig configures the OpenAI-compatible primary provider.
type PrimaryConfig struct {
	Name        string
	APIKey      string
	Model       string
	Temperature float32
	// HTTPClient is used for every call. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// PrimaryProvider calls an OpenAI-compatible chat completions API. One
// client is kept per resolved base URL.
type PrimaryProvider struct {
	config  PrimaryConfig
	clients sync.Map // base URL -> *openai.Client
}

// NewPrimaryProvider validates cfg and returns a provider.
func NewPrimaryProvider(cfg PrimaryConfig) (*PrimaryProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: primary model is required", ErrInvalidConfig)
	}
	if cfg.Name == "" {
		cfg.Name = "friendliai"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &PrimaryProvider{config: cfg}, nil
}

func (p *PrimaryProvider) Name() string { return p.config.Name }

// CompleteAt sends prompt to baseURL + "/v1/chat/completions".
func (p *PrimaryProvider) CompleteAt(ctx context.Context, baseURL, prompt string) (string, error) {
	rsp, err := p.client(baseURL).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: p.config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.config.Name, err)
	}

	if len(rsp.Choices) == 0 || strings.TrimSpace(rsp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s: %w: no choices or empty content", p.config.Name, ErrMalformedResponse)
	}
	return rsp.Choices[0].Message.Content, nil
}

func (p *PrimaryProvider) client(baseURL string) *openai.Client {
	baseURL = strings.TrimRight(baseURL, "/") + "/v1"
	if c, ok := p.clients.Load(baseURL); ok {
		return c.(*openai.Client)
	}
	cfg := openai.DefaultConfig(p.config.APIKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = p.config.HTTPClient
	c, _ := p.clients.LoadOrStore(baseURL, openai.NewClientWithConfig(cfg))
	return c.(*openai.Client)
}
