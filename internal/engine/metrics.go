package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// RunsTotal counts finished computation runs by type and final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fifo_engine_runs_total",
			Help: "Total number of computation runs by type and final status",
		},
		[]string{"type", "status"},
	)

	// RunsRejectedTotal counts run requests rejected because the symbol's lock was held.
	RunsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fifo_engine_runs_rejected_total",
		Help: "Total number of run requests rejected due to a run already in progress",
	})

	// RunDurationSeconds tracks end-to-end run duration.
	RunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fifo_engine_run_duration_seconds",
		Help:    "Duration of computation runs",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~80s
	})

	// TradesPerRun tracks how many trades a run replayed.
	TradesPerRun = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fifo_engine_trades_per_run",
		Help:    "Number of trades processed per computation run",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	// SnapshotFallbacksTotal counts incremental runs that escalated to full.
	SnapshotFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fifo_engine_snapshot_fallbacks_total",
			Help: "Total number of incremental runs escalated to full recomputation",
		},
		[]string{"reason"},
	)

	// RetriesTotal counts transient-error retries by operation.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fifo_engine_retries_total",
			Help: "Total number of transient-error retries",
		},
		[]string{"operation"},
	)
)
