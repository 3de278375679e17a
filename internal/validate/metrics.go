package validate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// ViolationsTotal counts invariant violations by check name.
	ViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fifo_engine_invariant_violations_total",
			Help: "Total number of invariant violations found during batch validation",
		},
		[]string{"check"},
	)
)
