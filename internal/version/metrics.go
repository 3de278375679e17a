package version

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	VersionsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fifo_engine_versions_published_total",
		Help: "Total number of version pointer advances",
	})

	PartialBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fifo_engine_partial_batches_total",
		Help: "Total number of partial batches committed without a pointer advance",
	})
)
