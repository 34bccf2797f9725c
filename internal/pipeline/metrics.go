package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kreditbee_pipeline_runs_total",
		Help: "Pipeline runs by mode and result.",
	}, []string{"mode", "result"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kreditbee_pipeline_run_duration_seconds",
		Help:    "Wall-clock duration of pipeline runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"mode"})

	schemesSynced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kreditbee_pipeline_schemes_synced_total",
		Help: "Schemes successfully synced, by sync type.",
	}, []string{"sync_type"})

	navRowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kreditbee_pipeline_nav_rows_written_total",
		Help: "NAV rows written to storage.",
	})
)
