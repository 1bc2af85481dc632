package vectorstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeChecker struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *fakeChecker) Health(ctx context.Context) error {
	f.calls.Add(1)
	if f.fail.Load() {
		return errors.New("store down")
	}
	return nil
}

func TestHealthMonitor_InitialCheck(t *testing.T) {
	checker := &fakeChecker{}
	checker.fail.Store(true)

	hm := NewHealthMonitor(context.Background(), checker, time.Hour, zap.NewNop())
	defer hm.Stop()

	assert.False(t, hm.IsHealthy())
	assert.Equal(t, "store down", hm.LastError())
	assert.False(t, hm.LastCheck().IsZero())
	assert.Equal(t, int32(1), checker.calls.Load())
}

func TestHealthMonitor_Check(t *testing.T) {
	checker := &fakeChecker{}
	hm := NewHealthMonitor(context.Background(), checker, time.Hour, zap.NewNop())
	defer hm.Stop()
	assert.True(t, hm.IsHealthy())

	checker.fail.Store(true)
	assert.False(t, hm.Check())

	checker.fail.Store(false)
	assert.True(t, hm.Check())
	assert.Empty(t, hm.LastError())
}

func TestHealthMonitor_Periodic(t *testing.T) {
	checker := &fakeChecker{}
	hm := NewHealthMonitor(context.Background(), checker, 5*time.Millisecond, zap.NewNop())
	hm.Start()
	defer hm.Stop()

	checker.fail.Store(true)
	assert.Eventually(t, func() bool { return !hm.IsHealthy() }, time.Second, 5*time.Millisecond)
}
