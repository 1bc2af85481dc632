package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: backend (chromem, qdrant), operation, status (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screenpilot",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// OperationDuration tracks how long store operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "screenpilot",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation", "status"},
	)

	// HealthCheckTotal counts health checks.
	// Labels: result (success, error)
	HealthCheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screenpilot",
			Subsystem: "vectorstore",
			Name:      "health_checks_total",
			Help:      "Total number of health check operations",
		},
		[]string{"result"},
	)

	// HealthStatus is 1 while the store is healthy and 0 while degraded.
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "screenpilot",
			Subsystem: "vectorstore",
			Name:      "health_status",
			Help:      "Current health status (1=healthy, 0=degraded)",
		},
	)
)

// observe records one operation. Call it deferred with a pointer to the
// operation's named error result.
func observe(backend, operation string, start time.Time, err *error) {
	status := "success"
	if err != nil && *err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(backend, operation, status).Inc()
	OperationDuration.WithLabelValues(backend, operation, status).Observe(time.Since(start).Seconds())
}

// RecordHealthCheckResult records the outcome of a health check.
func RecordHealthCheckResult(success bool) {
	if success {
		HealthCheckTotal.WithLabelValues("success").Inc()
		HealthStatus.Set(1)
		return
	}
	HealthCheckTotal.WithLabelValues("error").Inc()
	HealthStatus.Set(0)
}
