package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fifo_engine_scheduler_sweeps_total",
		Help: "Total number of scheduled computation sweeps",
	}, []string{"run_type"})

	SweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fifo_engine_scheduler_sweep_errors_total",
		Help: "Total number of sweeps that returned an error",
	})

	SweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fifo_engine_scheduler_sweep_duration_seconds",
		Help:    "Duration of scheduled computation sweeps",
		Buckets: prometheus.DefBuckets,
	})
)
