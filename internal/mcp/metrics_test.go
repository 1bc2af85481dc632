package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
)

func newTestMetrics(t *testing.T) (*toolMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return newToolMetrics(mp.Meter(meterName), zap.NewNop()), reader
}

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestToolMetrics_Start(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.start(ctx, "ask")(nil)
	m.start(ctx, "ask")(apperr.New(apperr.InvalidArgument, "question is required"))

	got := collect(t, reader)
	require.Contains(t, got, "screenpilot.mcp.tool.invocations_total")
	require.Contains(t, got, "screenpilot.mcp.tool.duration_seconds")
	require.Contains(t, got, "screenpilot.mcp.tool.errors_total")

	assert.Equal(t, int64(2), sumOf(t, got["screenpilot.mcp.tool.invocations_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["screenpilot.mcp.tool.errors_total"]))
	assert.Equal(t, int64(0), sumOf(t, got["screenpilot.mcp.tool.active_requests"]))
}

func TestToolMetrics_InFlight(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	finish := m.start(ctx, "ingest")
	m.start(ctx, "ingest")(nil)

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, got["screenpilot.mcp.tool.active_requests"]))

	finish(nil)
	got = collect(t, reader)
	assert.Equal(t, int64(0), sumOf(t, got["screenpilot.mcp.tool.active_requests"]))
}

func TestToolMetrics_Answered(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.answered(ctx, "friendliai")
	m.answered(ctx, "gemini")

	got := collect(t, reader)
	require.Contains(t, got, "screenpilot.mcp.answers_total")
	assert.Equal(t, int64(2), sumOf(t, got["screenpilot.mcp.answers_total"]))
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"invalid argument", apperr.New(apperr.InvalidArgument, "bad"), "invalid_argument"},
		{"provider down", apperr.New(apperr.ProviderUnavailable, "down"), "provider_unavailable"},
		{"wrapped generation failure", fmt.Errorf("ask: %w", apperr.New(apperr.GenerationFailed, "boom")), "generation_failed"},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"unclassified", errors.New("something went wrong"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, failureReason(tt.err))
		})
	}
}
