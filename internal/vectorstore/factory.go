package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/config"
)

// NewStore creates the Store selected by cfg.Provider:
//   - "chromem" (default): embedded chromem-go, in memory unless chromem.path is set
//   - "qdrant": a Qdrant server over gRPC
func NewStore(cfg config.VectorStoreConfig, logger *zap.Logger) (Store, error) {
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch cfg.Provider {
	case "chromem", "":
		store, err := NewChromemStore(ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "qdrant":
		store, err := NewQdrantStore(QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey.Value(),
			UseTLS: cfg.Qdrant.UseTLS,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
