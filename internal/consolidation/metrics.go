package consolidation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsStarted counts consolidation runs accepted for execution.
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "consolidation",
			Name:      "runs_started_total",
			Help:      "Total number of consolidation runs started",
		},
	)

	// RunsFinished counts runs reaching a terminal state.
	// Labels: result (completed, failed, cancelled)
	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "consolidation",
			Name:      "runs_finished_total",
			Help:      "Total number of consolidation runs reaching a terminal state",
		},
		[]string{"result"},
	)

	// StageDuration observes per-stage wall time.
	// Labels: stage
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "engramd",
			Subsystem: "consolidation",
			Name:      "stage_duration_seconds",
			Help:      "Duration of consolidation pipeline stages in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// ScoredTotal counts experiences pushed through saliency scoring.
	ScoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "consolidation",
			Name:      "experiences_scored_total",
			Help:      "Total number of experiences scored during consolidation",
		},
	)
)
