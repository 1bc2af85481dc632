// Package endpoint decides which base URL the primary provider is called on.
//
// A dedicated deployment is preferred when one is configured and answers a
// lightweight authenticated probe. Every other outcome falls back to the
// shared default endpoint; resolution never fails.
package endpoint

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/screenpilot/internal/config"
)

var tracer = otel.Tracer("screenpilot.endpoint")

// Decision is the outcome of one resolution.
type Decision struct {
	BaseURL   string
	Dedicated bool
	ProbedAt  time.Time
}

// Config configures a Resolver.
type Config struct {
	DefaultURL   string
	DedicatedURL string
	APIKey       string
	// ProbePath is appended to DedicatedURL. It must be a read-only request.
	ProbePath    string
	ProbeTimeout time.Duration
	// CacheTTL is how long a decision is reused. 0 probes on every call.
	CacheTTL time.Duration
}

// FromSettings builds a Config from the primary provider settings.
func FromSettings(s config.PrimaryConfig) Config {
	return Config{
		DefaultURL:   s.DefaultURL,
		DedicatedURL: s.DedicatedURL,
		APIKey:       s.APIKey.Value(),
		ProbePath:    s.ProbePath,
		ProbeTimeout: s.ProbeTimeout.Duration(),
		CacheTTL:     s.CacheTTL.Duration(),
	}
}

type cacheEntry struct {
	decision Decision
	expires  time.Time
}

// Resolver probes the dedicated endpoint and caches the decision. It is
// safe for concurrent use; concurrent resolutions share one probe.
type Resolver struct {
	config Config
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used for probes.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithClock overrides time.Now, for cache expiry tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver. Unset probe settings take their defaults:
// ProbePath /v1/models, ProbeTimeout 5s.
func NewResolver(cfg Config, opts ...Option) *Resolver {
	if cfg.ProbePath == "" {
		cfg.ProbePath = "/v1/models"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	r := &Resolver{
		config: cfg,
		client: http.DefaultClient,
		logger: zap.NewNop(),
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the base URL to use for the next primary call.
func (r *Resolver) Resolve(ctx context.Context) Decision {
	ctx, span := tracer.Start(ctx, "endpoint.Resolve")
	defer span.End()

	dedicated := strings.TrimSpace(r.config.DedicatedURL)
	if dedicated == "" {
		span.SetAttributes(attribute.Bool("dedicated", false), attribute.Bool("cached", false))
		return Decision{BaseURL: r.config.DefaultURL, ProbedAt: r.now()}
	}

	if d, ok := r.cached(dedicated); ok {
		span.SetAttributes(attribute.Bool("dedicated", d.Dedicated), attribute.Bool("cached", true))
		return d
	}

	// The probe outlives a cancelled caller so the shared result stays valid
	// for everyone waiting on it; ProbeTimeout still bounds it.
	probeCtx := context.WithoutCancel(ctx)
	v, _, shared := r.group.Do(dedicated, func() (interface{}, error) {
		if d, ok := r.cached(dedicated); ok {
			return d, nil
		}
		d := r.probe(probeCtx, dedicated)
		r.store(dedicated, d)
		return d, nil
	})
	d := v.(Decision)

	span.SetAttributes(
		attribute.Bool("dedicated", d.Dedicated),
		attribute.Bool("cached", false),
		attribute.Bool("shared", shared),
	)
	return d
}

// Invalidate drops any cached decision so the next Resolve probes again.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cacheEntry)
}

func (r *Resolver) cached(key string) (Decision, bool) {
	if r.config.CacheTTL <= 0 {
		return Decision{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[key]
	if !ok || !r.now().Before(e.expires) {
		return Decision{}, false
	}
	return e.decision, true
}

func (r *Resolver) store(key string, d Decision) {
	if r.config.CacheTTL <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cacheEntry{decision: d, expires: d.ProbedAt.Add(r.config.CacheTTL)}
}

func (r *Resolver) probe(ctx context.Context, dedicated string) Decision {
	now := r.now()
	fallback := Decision{BaseURL: r.config.DefaultURL, ProbedAt: now}

	if err := r.check(ctx, dedicated); err != nil {
		r.logger.Warn("dedicated endpoint unavailable, using default",
			zap.String("dedicated_url", dedicated),
			zap.String("default_url", r.config.DefaultURL),
			zap.Error(err),
		)
		return fallback
	}

	r.logger.Debug("dedicated endpoint reachable", zap.String("dedicated_url", dedicated))
	return Decision{BaseURL: dedicated, Dedicated: true, ProbedAt: now}
}

func (r *Resolver) check(ctx context.Context, dedicated string) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.ProbeTimeout)
	defer cancel()

	url := strings.TrimRight(dedicated, "/") + r.config.ProbePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}
