package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// BatchesCommittedTotal counts committed allocation batches.
	BatchesCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fifo_engine_batches_committed_total",
		Help: "Total number of allocation batches committed",
	})

	// AllocationsStoredTotal counts allocation rows written.
	AllocationsStoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fifo_engine_allocations_stored_total",
		Help: "Total number of allocation rows written to storage",
	})
)
