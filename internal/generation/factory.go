package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/screenpilot/internal/config"
)

// defaultAnthropicModel is used when secondary.model still names a Gemini model.
const defaultAnthropicModel = "claude-sonnet-4-5"

// NewPrimaryFromConfig builds the primary provider from settings.
func NewPrimaryFromConfig(s config.PrimaryConfig) (*PrimaryProvider, error) {
	return NewPrimaryProvider(PrimaryConfig{
		APIKey:      s.APIKey.Value(),
		Model:       s.Model,
		Temperature: s.Temperature,
	})
}

// NewSecondaryFromConfig builds the fallback provider. It returns nil, nil
// when no API key is configured, which disables fallback.
func NewSecondaryFromConfig(ctx context.Context, s config.SecondaryConfig) (Provider, error) {
	if !s.APIKey.IsSet() {
		return nil, nil
	}
	switch s.Provider {
	case "gemini", "":
		p, err := NewGeminiProvider(ctx, s.APIKey.Value(), s.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "anthropic":
		model := s.Model
		if model == "" || strings.HasPrefix(model, "gemini") {
			model = defaultAnthropicModel
		}
		p, err := NewAnthropicProvider(s.APIKey.Value(), model)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown secondary provider %q", ErrInvalidConfig, s.Provider)
	}
}
