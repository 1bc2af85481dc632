package vectorstore

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HealthChecker is the part of Store the monitor probes.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthMonitor probes a store periodically and caches the result so
// /health never blocks on the backend.
type HealthMonitor struct {
	checker       HealthChecker
	healthy       atomic.Bool
	lastCheck     atomic.Value // time.Time
	lastErr       atomic.Value // string
	checkInterval time.Duration
	checkTimeout  time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *zap.Logger
}

// NewHealthMonitor creates a monitor and runs one check synchronously.
func NewHealthMonitor(ctx context.Context, checker HealthChecker, checkInterval time.Duration, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	hm := &HealthMonitor{
		checker:       checker,
		checkInterval: checkInterval,
		checkTimeout:  5 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
	}
	hm.lastErr.Store("")
	hm.healthy.Store(true)
	hm.check()
	return hm
}

// Start begins periodic checks until Stop or the parent context ends.
func (hm *HealthMonitor) Start() {
	go hm.runPeriodicCheck()
}

func (hm *HealthMonitor) runPeriodicCheck() {
	ticker := time.NewTicker(hm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			hm.check()
		}
	}
}

// Check runs one probe immediately and returns the new status.
func (hm *HealthMonitor) Check() bool {
	hm.check()
	return hm.IsHealthy()
}

func (hm *HealthMonitor) check() {
	ctx, cancel := context.WithTimeout(hm.ctx, hm.checkTimeout)
	defer cancel()

	err := hm.checker.Health(ctx)
	healthy := err == nil
	RecordHealthCheckResult(healthy)

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	hm.lastErr.Store(msg)
	hm.lastCheck.Store(time.Now())

	old := hm.healthy.Swap(healthy)
	if old != healthy {
		hm.logger.Info("vector store health changed",
			zap.Bool("healthy", healthy),
			zap.Bool("previous", old),
			zap.String("error", msg),
		)
	}
}

// IsHealthy returns the result of the most recent check.
func (hm *HealthMonitor) IsHealthy() bool {
	return hm.healthy.Load()
}

// LastError returns the most recent check's error text, or "".
func (hm *HealthMonitor) LastError() string {
	return hm.lastErr.Load().(string)
}

// LastCheck returns the time of the last health check.
func (hm *HealthMonitor) LastCheck() time.Time {
	v := hm.lastCheck.Load()
	if v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}

// Stop ends periodic checks.
func (hm *HealthMonitor) Stop() {
	hm.cancel()
}
