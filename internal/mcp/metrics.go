package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
)

const meterName = "github.com/fyrsmithlabs/screenpilot/internal/mcp"

// toolMetrics instruments tool calls. Nil instruments are skipped.
type toolMetrics struct {
	calls    metric.Int64Counter
	latency  metric.Float64Histogram
	failures metric.Int64Counter
	inFlight metric.Int64UpDownCounter
	answers  metric.Int64Counter
}

func newToolMetrics(meter metric.Meter, logger *zap.Logger) *toolMetrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		m    toolMetrics
		err  error
		errs []error
	)
	m.calls, err = meter.Int64Counter("screenpilot.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls by tool"),
		metric.WithUnit("{invocation}"))
	errs = append(errs, err)

	m.latency, err = meter.Float64Histogram("screenpilot.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency by tool"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60))
	errs = append(errs, err)

	m.failures, err = meter.Int64Counter("screenpilot.mcp.tool.errors_total",
		metric.WithDescription("Failed MCP tool calls by tool and reason"),
		metric.WithUnit("{error}"))
	errs = append(errs, err)

	m.inFlight, err = meter.Int64UpDownCounter("screenpilot.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	m.answers, err = meter.Int64Counter("screenpilot.mcp.answers_total",
		metric.WithDescription("Answers returned by the ask tool, by answering provider"),
		metric.WithUnit("{answer}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		logger.Warn("some mcp instruments could not be registered", zap.Error(err))
	}
	return &m
}

// start marks a call to tool as in flight. The returned func finishes it.
func (m *toolMetrics) start(ctx context.Context, tool string) func(error) {
	began := time.Now()
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, attrs)
	}

	return func(err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, attrs)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, attrs)
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(began).Seconds(), attrs)
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", failureReason(err)),
			))
		}
	}
}

func (m *toolMetrics) answered(ctx context.Context, provider string) {
	if m.answers != nil {
		m.answers.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
	}
}

// failureReason maps err to a low-cardinality label: the error kind, or
// timeout and canceled for context errors.
func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return string(apperr.KindOf(err))
	}
}
