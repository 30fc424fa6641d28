package textsvc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts text service calls.
	// Labels: operation (embed, similarity, summarize), result (success, error)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "textsvc",
			Name:      "requests_total",
			Help:      "Total number of text service calls",
		},
		[]string{"operation", "result"},
	)

	// RequestDuration tracks text service call latency.
	// Labels: operation (embed, similarity, summarize)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "engramd",
			Subsystem: "textsvc",
			Name:      "request_duration_seconds",
			Help:      "Duration of text service calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func recordRequest(operation string, elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	RequestsTotal.WithLabelValues(operation, result).Inc()
	RequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
