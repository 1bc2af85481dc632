package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/screenpilot/internal/embeddings"

// Metrics records embedding call duration, batch sizes, retries and errors.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	retries   metric.Int64Counter
	errors    metric.Int64Counter
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
		"screenpilot.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding calls, including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"screenpilot.embedding.batch_size",
		metric.WithDescription("Texts per embedding request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64, 128),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.retries, err = m.meter.Int64Counter(
		"screenpilot.embedding.retries_total",
		metric.WithDescription("Embedding request retries after a transient failure"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		m.logger.Warn("failed to create retries counter", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"screenpilot.embedding.errors_total",
		metric.WithDescription("Embedding calls that failed after all retries"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordCall records one batch request.
func (m *Metrics) RecordCall(ctx context.Context, model string, d time.Duration, batch int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if m.batchSize != nil && batch > 0 {
		m.batchSize.Record(ctx, int64(batch), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordRetry counts one retry.
func (m *Metrics) RecordRetry(ctx context.Context, model string) {
	if m.retries != nil {
		m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
	}
}
