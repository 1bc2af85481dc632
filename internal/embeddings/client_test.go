package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
	"github.com/fyrsmithlabs/screenpilot/internal/config"
)

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingItem struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// vectorFor derives a deterministic vector from the text so tests can check
// that each output lines up with its input.
func vectorFor(text string) []float32 {
	return []float32{float32(len(text)), float32(strings.Count(text, "a")), 1}
}

type batchRecorder struct {
	mu    sync.Mutex
	sizes []int
}

func (b *batchRecorder) add(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sizes = append(b.sizes, n)
}

func (b *batchRecorder) get() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.sizes...)
}

// fakeEmbeddingServer answers /v1/embeddings, returning items in reverse
// order to exercise index-based placement.
func fakeEmbeddingServer(t *testing.T, calls *atomic.Int32, batches *batchRecorder) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingsRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if batches != nil {
			batches.add(len(req.Input))
		}

		data := make([]embeddingItem, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, embeddingItem{Object: "embedding", Embedding: vectorFor(req.Input[i]), Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}))
}

func newTestClient(t *testing.T, url string, mutate func(*ClientConfig)) *Client {
	t.Helper()
	cfg := ClientConfig{
		BaseURL:        url + "/v1",
		APIKey:         "test-key",
		Model:          "BAAI/bge-small-en-v1.5",
		BatchSize:      2,
		MaxInputChars:  100,
		Timeout:        time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestClient_EmbedDocuments_PreservesOrderAcrossBatches(t *testing.T) {
	var calls atomic.Int32
	batches := &batchRecorder{}
	srv := fakeEmbeddingServer(t, &calls, batches)
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	texts := []string{"a", "bb", "aaa", "cccc", "aaaaa"}

	vecs, err := c.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.Equal(t, vectorFor(text), vecs[i], "vector %d", i)
	}

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []int{2, 2, 1}, batches.get())
	assert.Equal(t, 3, c.Dimension())
}

func TestClient_BatchBoundariesDoNotChangeValues(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddingServer(t, &calls, nil)
	defer srv.Close()

	texts := []string{"alpha", "beta", "gamma", "delta"}
	small := newTestClient(t, srv.URL, func(c *ClientConfig) { c.BatchSize = 1 })
	large := newTestClient(t, srv.URL, func(c *ClientConfig) { c.BatchSize = 64 })

	a, err := small.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	b, err := large.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestClient_EmbedDocuments_Empty(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddingServer(t, &calls, nil)
	defer srv.Close()

	vecs, err := newTestClient(t, srv.URL, nil).EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Zero(t, calls.Load())
}

func TestClient_InputTooLarge_NoNetworkCall(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddingServer(t, &calls, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.EmbedDocuments(context.Background(), []string{"ok", strings.Repeat("x", 101)})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
	assert.ErrorIs(t, err, ErrInputTooLarge)
	assert.Zero(t, calls.Load())
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   []embeddingItem{{Object: "embedding", Embedding: []float32{1, 2}, Index: 0}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	vec, err := c.EmbedQuery(context.Background(), "what color is the sky")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(c *ClientConfig) { c.MaxRetries = 2 })
	_, err := c.EmbedDocuments(context.Background(), []string{"x"})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ProviderUnavailable))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, nil).EmbedDocuments(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ProviderUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_TimeoutIsProviderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(c *ClientConfig) {
		c.Timeout = 20 * time.Millisecond
		c.MaxRetries = 0
	})
	_, err := c.EmbedDocuments(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ProviderUnavailable))
}

func TestClient_CountMismatchIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   []embeddingItem{{Object: "embedding", Embedding: []float32{1}, Index: 0}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(c *ClientConfig) { c.BatchSize = 10 })
	_, err := c.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestClient_EmbedQuery_Empty(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0", nil)
	_, err := c.EmbedQuery(context.Background(), "  ")
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{Model: "m"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewClient(ClientConfig{BaseURL: "http://x"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider(t *testing.T) {
	cfg := config.NewDefaultConfig().Embeddings

	p, err := NewProvider(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Client{}, p)
	assert.NoError(t, p.Close())

	cfg.Provider = "tei"
	_, err = NewProvider(cfg, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFastEmbedDimension(t *testing.T) {
	dim, ok := FastEmbedDimension("BAAI/bge-base-en-v1.5")
	assert.True(t, ok)
	assert.Equal(t, 768, dim)

	_, ok = FastEmbedDimension("unknown")
	assert.False(t, ok)
}
