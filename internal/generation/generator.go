package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
	"github.com/fyrsmithlabs/screenpilot/internal/endpoint"
	"github.com/fyrsmithlabs/screenpilot/internal/logging"
)

var tracer = otel.Tracer("screenpilot.generation")

// Resolver picks the primary provider's base URL.
type Resolver interface {
	Resolve(ctx context.Context) endpoint.Decision
}

// Generator answers questions with the primary provider and falls back to
// the secondary one at most once.
type Generator struct {
	resolver         Resolver
	primary          EndpointProvider
	secondary        Provider
	primaryTimeout   time.Duration
	secondaryTimeout time.Duration
	logger           *logging.Logger
	metrics          *Metrics
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithSecondary enables fallback to p. A nil p leaves fallback disabled.
func WithSecondary(p Provider) GeneratorOption {
	return func(g *Generator) { g.secondary = p }
}

// WithTimeouts bounds each provider call. Zero keeps the 30s default.
func WithTimeouts(primary, secondary time.Duration) GeneratorOption {
	return func(g *Generator) {
		if primary > 0 {
			g.primaryTimeout = primary
		}
		if secondary > 0 {
			g.secondaryTimeout = secondary
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a Generator.
func NewGenerator(resolver Resolver, primary EndpointProvider, opts ...GeneratorOption) *Generator {
	g := &Generator{
		resolver:         resolver,
		primary:          primary,
		primaryTimeout:   30 * time.Second,
		secondaryTimeout: 30 * time.Second,
		logger:           logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.metrics = NewMetrics(g.logger.Underlying())
	return g
}

// HasSecondary reports whether a fallback provider is configured.
func (g *Generator) HasSecondary() bool {
	return g.secondary != nil
}

// SecondaryName returns the fallback provider's name, or "".
func (g *Generator) SecondaryName() string {
	if g.secondary == nil {
		return ""
	}
	return g.secondary.Name()
}

// PrimaryName returns the primary provider's name.
func (g *Generator) PrimaryName() string {
	return g.primary.Name()
}

// Generate answers req. With useSecondary and a secondary configured the
// secondary is called directly; otherwise the primary is tried first and
// any failure triggers exactly one secondary attempt. The trace ID is the
// same whichever provider answers.
func (g *Generator) Generate(ctx context.Context, req Request, useSecondary bool) (Response, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Response{}, apperr.New(apperr.InvalidArgument, "question is required")
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	ctx = logging.WithAnswerTraceID(ctx, traceID)

	ctx, span := tracer.Start(ctx, "generation.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("trace_id", traceID),
		attribute.Int("excerpts", len(req.Context)),
		attribute.Bool("use_secondary", useSecondary),
	)

	prompt := BuildPrompt(req.Question, req.Context)
	resp := Response{TraceID: traceID, Sources: sourcesOf(req.Context)}

	if useSecondary && g.secondary != nil {
		answer, err := g.callSecondary(ctx, prompt)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			g.logger.Error(ctx, "secondary provider failed", zap.String("provider", g.secondary.Name()), zap.Error(err))
			return Response{}, apperr.Wrap(apperr.GenerationFailed, err, "answer generation failed")
		}
		span.SetAttributes(attribute.String("provider", g.secondary.Name()), attribute.Bool("fallback", false))
		resp.Answer, resp.Provider = answer, g.secondary.Name()
		return resp, nil
	}
	if useSecondary {
		g.logger.Warn(ctx, "secondary provider requested but not configured, using primary")
	}

	answer, primaryErr := g.callPrimary(ctx, prompt)
	if primaryErr == nil {
		span.SetAttributes(attribute.String("provider", g.primary.Name()), attribute.Bool("fallback", false))
		resp.Answer, resp.Provider = answer, g.primary.Name()
		return resp, nil
	}

	g.logger.Warn(ctx, "primary provider failed",
		zap.String("provider", g.primary.Name()),
		zap.Bool("fallback_available", g.secondary != nil),
		zap.Error(primaryErr),
	)
	span.RecordError(primaryErr)

	if g.secondary == nil {
		span.SetStatus(codes.Error, primaryErr.Error())
		return Response{}, apperr.Wrap(apperr.GenerationFailed, primaryErr, "answer generation failed")
	}

	g.metrics.RecordFallback(ctx, g.primary.Name(), g.secondary.Name())
	answer, secondaryErr := g.callSecondary(ctx, prompt)
	if secondaryErr != nil {
		err := errors.Join(primaryErr, secondaryErr)
		span.RecordError(secondaryErr)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Error(ctx, "all providers failed", zap.Error(err))
		return Response{}, apperr.Wrap(apperr.GenerationFailed, err, "answer generation failed")
	}

	span.SetAttributes(attribute.String("provider", g.secondary.Name()), attribute.Bool("fallback", true))
	g.logger.Info(ctx, "answered by fallback provider", zap.String("provider", g.secondary.Name()))
	resp.Answer, resp.Provider = answer, g.secondary.Name()
	return resp, nil
}

func (g *Generator) callPrimary(ctx context.Context, prompt string) (string, error) {
	decision := g.resolver.Resolve(ctx)

	ctx, cancel := context.WithTimeout(ctx, g.primaryTimeout)
	defer cancel()

	start := time.Now()
	answer, err := g.primary.CompleteAt(ctx, decision.BaseURL, prompt)
	g.metrics.RecordCall(ctx, g.primary.Name(), time.Since(start), err)
	if err == nil {
		g.logger.Debug(ctx, "primary provider answered",
			zap.String("base_url", decision.BaseURL),
			zap.Bool("dedicated", decision.Dedicated),
		)
	}
	return answer, err
}

func (g *Generator) callSecondary(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.secondaryTimeout)
	defer cancel()

	start := time.Now()
	answer, err := g.secondary.Complete(ctx, prompt)
	g.metrics.RecordCall(ctx, g.secondary.Name(), time.Since(start), err)
	return answer, err
}

func sourcesOf(excerpts []Excerpt) []Source {
	sources := make([]Source, len(excerpts))
	for i, e := range excerpts {
		sources[i] = Source{ID: e.ID, Text: e.Text, SourceRef: e.SourceRef, Score: e.Score}
	}
	return sources
}
