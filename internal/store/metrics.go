package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpsTotal counts store operations.
	// Labels: operation (add_experience, persist_run, ...), result (success, error)
	OpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of store operations",
		},
		[]string{"operation", "result"},
	)

	// OpDuration tracks store operation latency.
	// Labels: operation (add_experience, persist_run, ...)
	OpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "engramd",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// recordOp is deferred at the top of each SQLite method with the named
// error return, so the result label reflects the final outcome.
func recordOp(operation string, start time.Time, err *error) {
	result := "success"
	if err != nil && *err != nil {
		result = "error"
	}
	OpsTotal.WithLabelValues(operation, result).Inc()
	OpDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
