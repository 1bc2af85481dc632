package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
)

// ClientConfig configures an OpenAI-compatible embeddings client.
type ClientConfig struct {
	// BaseURL includes the version segment, e.g. https://api.friendli.ai/v1.
	BaseURL string
	APIKey  string
	Model   string

	// Dimension is the expected vector size. 0 learns it from the first response.
	Dimension int

	BatchSize     int
	MaxInputChars int // runes

	// Timeout bounds each HTTP attempt.
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration

	// RequestsPerSecond throttles outgoing requests. 0 disables throttling.
	RequestsPerSecond float64

	HTTPClient *http.Client
}

func (c *ClientConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = 8192
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
}

// Client calls an OpenAI-compatible /embeddings endpoint.
type Client struct {
	cfg       ClientConfig
	api       *openai.Client
	limiter   *rate.Limiter
	metrics   *Metrics
	logger    *zap.Logger
	dimension atomic.Int64
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}

	c := &Client{
		cfg:     cfg,
		api:     openai.NewClientWithConfig(apiCfg),
		metrics: NewMetrics(logger),
		logger:  logger,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	c.dimension.Store(int64(cfg.Dimension))
	return c, nil
}

// EmbedDocuments embeds texts in batches of at most BatchSize. Any text
// longer than MaxInputChars fails the whole call before a request is sent.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, t := range texts {
		if n := utf8.RuneCountInString(t); n > c.cfg.MaxInputChars {
			return nil, apperr.Wrap(apperr.InvalidArgument,
				fmt.Errorf("%w: text %d has %d runes (max %d)", ErrInputTooLarge, i, n, c.cfg.MaxInputChars),
				"document chunk is too large to embed")
		}
	}

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		copy(out[start:end], vecs)
	}
	return out, nil
}

// EmbedQuery embeds a single query text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.InvalidArgument, "query text is empty")
	}
	vecs, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimension returns the configured or learned vector size.
func (c *Client) Dimension() int {
	return int(c.dimension.Load())
}

// Close is a no-op; the HTTP client holds no dedicated resources.
func (c *Client) Close() error {
	return nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	start := time.Now()
	attempt := 0

	op := func() ([][]float32, error) {
		if attempt > 0 {
			c.metrics.RecordRetry(ctx, c.cfg.Model)
		}
		attempt++

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.api.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(c.cfg.Model),
		})
		if err != nil {
			if ctx.Err() != nil || isPermanent(err) {
				return nil, backoff.Permanent(err)
			}
			c.logger.Debug("embedding request failed, retrying",
				zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}

		vecs, err := c.order(resp, len(batch))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return vecs, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff

	vecs, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
	)
	c.metrics.RecordCall(ctx, c.cfg.Model, time.Since(start), len(batch), err)
	if err != nil {
		return nil, c.classify(err, attempt)
	}
	return vecs, nil
}

// order places each returned vector by its index field and checks the
// response covers the batch exactly once with a consistent dimension.
func (c *Client) order(resp openai.EmbeddingResponse, n int) ([][]float32, error) {
	if len(resp.Data) != n {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(resp.Data), n)
	}

	want := c.Dimension()
	out := make([][]float32, n)
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= n || out[item.Index] != nil {
			return nil, fmt.Errorf("%w: invalid or duplicate index %d", ErrEmbeddingFailed, item.Index)
		}
		if len(item.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty vector at index %d", ErrEmbeddingFailed, item.Index)
		}
		if want == 0 {
			want = len(item.Embedding)
			c.dimension.CompareAndSwap(0, int64(want))
		}
		if len(item.Embedding) != want {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, expected %d",
				ErrEmbeddingFailed, item.Index, len(item.Embedding), want)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}

func (c *Client) classify(err error, attempts int) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if code := statusCode(err); code == http.StatusRequestEntityTooLarge {
		return apperr.Wrap(apperr.InvalidArgument, fmt.Errorf("%w: %v", ErrInputTooLarge, err),
			"document chunk is too large to embed")
	}
	if errors.Is(err, ErrEmbeddingFailed) {
		return apperr.Wrap(apperr.ProviderUnavailable, err, "embedding service returned an invalid response")
	}
	return apperr.Wrap(apperr.ProviderUnavailable,
		fmt.Errorf("after %d attempt(s): %w", attempts, err),
		"embedding service is unavailable")
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// isPermanent reports 4xx responses other than 429.
func isPermanent(err error) bool {
	code := statusCode(err)
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}
