package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	genaiopt "google.golang.org/api/option"
)

// GeminiProvider answers with Google's Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini client. Extra client options are
// appended after the API key.
func NewGeminiProvider(ctx context.Context, apiKey, model string, opts ...genaiopt.ClientOption) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", ErrInvalidConfig)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, append([]genaiopt.ClientOption{genaiopt.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (g *GeminiProvider) Name() string { return "gemini" }

// Complete returns the concatenated text parts of the first candidate.
func (g *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	rsp, err := g.client.GenerativeModel(g.model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if len(rsp.Candidates) == 0 || rsp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini: %w: no candidates", ErrMalformedResponse)
	}

	var b strings.Builder
	for _, part := range rsp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("gemini: %w: no text parts", ErrMalformedResponse)
	}
	return b.String(), nil
}

// Close releases the gRPC connection.
func (g *GeminiProvider) Close() error {
	return g.client.Close()
}
