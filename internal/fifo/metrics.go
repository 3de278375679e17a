package fifo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// AllocationsProducedTotal counts allocation drafts produced by the matcher.
	AllocationsProducedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fifo_engine_allocations_produced_total",
		Help: "Total number of allocation drafts produced by the FIFO matcher",
	})

	// UnmatchedRemaindersTotal counts sells that exceeded known inventory.
	UnmatchedRemaindersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fifo_engine_unmatched_remainders_total",
		Help: "Total number of unmatched sell remainders flagged by the matcher",
	})
)
