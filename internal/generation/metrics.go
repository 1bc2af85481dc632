package generation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/screenpilot/internal/generation"

// Metrics records provider latency, outcomes and fallbacks.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	duration  metric.Float64Histogram
	calls     metric.Int64Counter
	fallbacks metric.Int64Counter
}

// NewMetrics creates Metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{meter: otel.Meter(instrumentationName), logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"screenpilot.generation.duration_seconds",
		metric.WithDescription("Duration of provider calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.25, 0.5, 1, 2, 5, 10, 20, 30),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.calls, err = m.meter.Int64Counter(
		"screenpilot.generation.calls_total",
		metric.WithDescription("Provider calls by outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		m.logger.Warn("failed to create calls counter", zap.Error(err))
	}

	m.fallbacks, err = m.meter.Int64Counter(
		"screenpilot.generation.fallbacks_total",
		metric.WithDescription("Requests retried on the secondary provider"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		m.logger.Warn("failed to create fallbacks counter", zap.Error(err))
	}
}

// RecordCall records one provider call.
func (m *Metrics) RecordCall(ctx context.Context, provider string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if m.calls != nil {
		m.calls.Add(ctx, 1, attrs)
	}
}

// RecordFallback records a switch from one provider to another.
func (m *Metrics) RecordFallback(ctx context.Context, from, to string) {
	if m.fallbacks != nil {
		m.fallbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		))
	}
}
