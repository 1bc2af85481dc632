package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/fyrsmithlabs/screenpilot/internal/http"

// errorKindKey is the echo context key under which handleError leaves the
// error kind it answered with.
const errorKindKey = "screenpilot.error_kind"

// requestMetrics records per-route request counts, latency, response size
// and the error kinds returned to clients.
type requestMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
	failures metric.Int64Counter
}

// newRequestMetrics registers the instruments on meter. Instruments that
// fail to register are left nil and skipped.
func newRequestMetrics(meter metric.Meter, logger *zap.Logger) *requestMetrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		m    requestMetrics
		err  error
		errs []error
	)
	m.requests, err = meter.Int64Counter("screenpilot.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	m.latency, err = meter.Float64Histogram("screenpilot.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status"),
		metric.WithUnit("s"),
		// /ask spends most of its time in the language model.
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60))
	errs = append(errs, err)

	m.size, err = meter.Int64Histogram("screenpilot.http.response_size_bytes",
		metric.WithDescription("HTTP response body size by method, route and status"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 1024, 4096, 16384, 65536, 262144))
	errs = append(errs, err)

	m.inFlight, err = meter.Int64UpDownCounter("screenpilot.http.active_requests",
		metric.WithDescription("HTTP requests currently being served"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	m.failures, err = meter.Int64Counter("screenpilot.http.errors_total",
		metric.WithDescription("Error responses by route and error kind"),
		metric.WithUnit("{error}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		logger.Warn("some http instruments could not be registered", zap.Error(err))
	}
	return &m
}

// middleware must run outside the error-handling request logger so the
// final status is visible.
func (m *requestMetrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		start := time.Now()
		if m.inFlight != nil {
			m.inFlight.Add(ctx, 1)
			defer m.inFlight.Add(ctx, -1)
		}

		err := next(c)

		route := routeLabel(c.Path())
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request().Method),
			attribute.String("endpoint", route),
			attribute.Int("status", c.Response().Status),
		)
		if m.requests != nil {
			m.requests.Add(ctx, 1, attrs)
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if m.size != nil {
			m.size.Record(ctx, c.Response().Size, attrs)
		}
		if kind, ok := c.Get(errorKindKey).(string); ok && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("endpoint", route),
				attribute.String("kind", kind),
			))
		}
		return err
	}
}

// routeLabel returns the matched route pattern. Echo reports patterns such
// as /documents/:source_ref, so document refs never become label values.
func routeLabel(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
