package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
)

func TestPointID_Deterministic(t *testing.T) {
	assert.Equal(t, PointID("page:abc:0"), PointID("page:abc:0"))
	assert.NotEqual(t, PointID("page:abc:0"), PointID("page:abc:1"))
	assert.Len(t, PointID("x"), 36)
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"unavailable", status.Error(grpccodes.Unavailable, "down"), true},
		{"deadline", status.Error(grpccodes.DeadlineExceeded, "slow"), true},
		{"exhausted", status.Error(grpccodes.ResourceExhausted, "busy"), true},
		{"wrapped unavailable", fmt.Errorf("upsert: %w", status.Error(grpccodes.Unavailable, "down")), true},
		{"not found", status.Error(grpccodes.NotFound, "missing"), false},
		{"invalid", status.Error(grpccodes.InvalidArgument, "bad"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestQdrantConfig_Defaults(t *testing.T) {
	var c QdrantConfig
	c.ApplyDefaults()
	assert.Equal(t, "localhost", c.Host)
	assert.Equal(t, 6334, c.Port)
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, 5, c.CircuitBreakerThreshold)
	assert.NoError(t, c.Validate())

	c.Port = 70000
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
}

func newOfflineQdrantStore() *QdrantStore {
	cfg := QdrantConfig{RetryBackoff: time.Millisecond, CircuitBreakerThreshold: 2}
	cfg.ApplyDefaults()
	return &QdrantStore{config: cfg, logger: zap.NewNop()}
}

func TestQdrantStore_RetryOperation(t *testing.T) {
	s := newOfflineQdrantStore()
	s.config.CircuitBreakerThreshold = 100

	calls := 0
	err := s.retryOperation(t.Context(), "op", func() error {
		calls++
		if calls < 3 {
			return status.Error(grpccodes.Unavailable, "down")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = s.retryOperation(t.Context(), "op", func() error {
		calls++
		return status.Error(grpccodes.InvalidArgument, "bad")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors are not retried")

	calls = 0
	err = s.retryOperation(t.Context(), "op", func() error {
		calls++
		return status.Error(grpccodes.Unavailable, "down")
	})
	assert.Error(t, err)
	assert.Equal(t, s.config.MaxRetries+1, calls, "retries are bounded")
}

func TestQdrantStore_CircuitBreaker(t *testing.T) {
	s := newOfflineQdrantStore()

	calls := 0
	err := s.retryOperation(t.Context(), "op", func() error {
		calls++
		return status.Error(grpccodes.Unavailable, "down")
	})
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, 2, calls)
	assert.True(t, s.isCircuitOpen())

	err = s.retryOperation(t.Context(), "op", func() error {
		t.Fatal("operation must not run while the circuit is open")
		return nil
	})
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.True(t, apperr.Is(s.classify(err, "x"), apperr.ProviderUnavailable))

	s.config.CircuitBreakerCooldown = time.Nanosecond
	time.Sleep(time.Millisecond)
	assert.False(t, s.isCircuitOpen())
}

func TestQdrantStore_Classify(t *testing.T) {
	s := newOfflineQdrantStore()
	assert.True(t, apperr.Is(s.classify(status.Error(grpccodes.Unavailable, "x"), "m"), apperr.ProviderUnavailable))
	assert.True(t, apperr.Is(s.classify(errors.New("x"), "m"), apperr.Internal))

	classified := apperr.New(apperr.InvalidArgument, "bad")
	assert.Same(t, classified, s.classify(classified, "m"))
}

func TestStaleFilter(t *testing.T) {
	f := staleFilter("notes.md", 42)

	assert.Len(t, f.GetMust(), 1)
	assert.Equal(t, keySourceRef, f.GetMust()[0].GetField().GetKey())
	assert.Equal(t, "notes.md", f.GetMust()[0].GetField().GetMatch().GetKeyword())

	assert.Len(t, f.GetMustNot(), 1)
	assert.Equal(t, keyIngestedAt, f.GetMustNot()[0].GetField().GetKey())
	assert.Equal(t, int64(42), f.GetMustNot()[0].GetField().GetMatch().GetInteger())
}

func TestQdrantStore_DeleteStaleValidation(t *testing.T) {
	s := newOfflineQdrantStore()
	err := s.DeleteStale(context.Background(), testCollection, "", 1)
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}
