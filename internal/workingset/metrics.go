package workingset

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InsertsTotal counts working set insertions.
	InsertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "workingset",
			Name:      "inserts_total",
			Help:      "Total number of working set insertions",
		},
	)

	// EvictionsTotal counts capacity evictions.
	EvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "workingset",
			Name:      "evictions_total",
			Help:      "Total number of working set evictions",
		},
	)

	// Members tracks current working set size.
	// Labels: scope
	Members = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "engramd",
			Subsystem: "workingset",
			Name:      "members",
			Help:      "Current number of working set members",
		},
		[]string{"scope"},
	)
)
