package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/config"
)

var (
	// ErrInvalidConfig indicates a provider cannot be built from its config.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrInputTooLarge is returned when a text exceeds the provider's input limit.
	ErrInputTooLarge = errors.New("input exceeds maximum embedding size")

	// ErrEmbeddingFailed indicates the provider returned an unusable response.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder produces vectors for documents and queries.
type Embedder interface {
	// EmbedDocuments returns one vector per text, in the same order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder that owns resources.
type Provider interface {
	Embedder
	// Dimension returns the vector size, or 0 if not yet known.
	Dimension() int
	Close() error
}

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		c, err := NewClient(ClientConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey.Value(),
			Model:             cfg.Model,
			Dimension:         cfg.Dimension,
			BatchSize:         cfg.BatchSize,
			MaxInputChars:     cfg.MaxInputChars,
			Timeout:           cfg.Timeout.Duration(),
			MaxRetries:        cfg.MaxRetries,
			InitialBackoff:    200 * time.Millisecond,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "fastembed":
		p, err := NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
