//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	fastembed "github.com/anush008/fastembed-go"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
)

// FastEmbedConfig configures the local ONNX provider.
type FastEmbedConfig struct {
	// Model is a HuggingFace name such as BAAI/bge-small-en-v1.5.
	Model string
	// CacheDir holds downloaded model files. Defaults to ~/.cache/screenpilot/models.
	CacheDir string
	// MaxLength is the token limit per input. Defaults to 512.
	MaxLength int
}

// FastEmbedProvider embeds text locally with fastembed-go.
type FastEmbedProvider struct {
	model     *fastembed.FlagEmbedding
	dimension int
	mu        sync.RWMutex
}

var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// NewFastEmbedProvider loads the model, downloading it on first use.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "BAAI/bge-small-en-v1.5"
	}
	model, ok := fastEmbedModels[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported fastembed model %q", ErrInvalidConfig, cfg.Model)
	}
	dim, _ := FastEmbedDimension(cfg.Model)

	if cfg.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.CacheDir = filepath.Join(home, ".cache", "screenpilot", "models")
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 512
	}

	// fastembed-go reads the runtime location from ONNX_PATH.
	if os.Getenv("ONNX_PATH") == "" {
		if path := managedONNXLibrary(); path != "" {
			if err := os.Setenv("ONNX_PATH", path); err != nil {
				return nil, fmt.Errorf("setting ONNX_PATH: %w", err)
			}
		}
	}

	showProgress := false
	fe, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cfg.CacheDir,
		MaxLength:            cfg.MaxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed: %w", err)
	}

	return &FastEmbedProvider{model: fe, dimension: dim}, nil
}

// managedONNXLibrary returns the runtime installed under
// ~/.config/screenpilot/lib, or "".
func managedONNXLibrary() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	name := "libonnxruntime.so"
	if runtime.GOOS == "darwin" {
		name = "libonnxruntime.dylib"
	}
	path := filepath.Join(home, ".config", "screenpilot", "lib", name)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// EmbedDocuments embeds texts with the "passage: " prefix BGE models expect.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vecs, err := p.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, apperr.Wrap(apperr.ProviderUnavailable, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err), "local embedding failed")
	}
	return vecs, nil
}

// EmbedQuery embeds text with the "query: " prefix.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, apperr.New(apperr.InvalidArgument, "query text is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vec, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, apperr.Wrap(apperr.ProviderUnavailable, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err), "local embedding failed")
	}
	return vec, nil
}

func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Close releases the ONNX session.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Destroy()
	p.model = nil
	return err
}
