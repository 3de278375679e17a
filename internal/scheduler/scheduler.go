package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/engine"
)

// Computer drives computation runs across symbols.
type Computer interface {
	ComputeAll(ctx context.Context, full bool) ([]*engine.Run, error)
}

// Scheduler triggers incremental runs on a short interval and full replays on
// a long one. Symbols whose lock is held are skipped by the orchestrator, so
// a slow run never queues work behind itself.
type Scheduler struct {
	computer            Computer
	incrementalInterval time.Duration
	fullInterval        time.Duration
	logger              *zap.Logger
}

// Config holds scheduler configuration.
type Config struct {
	Computer            Computer
	IncrementalInterval time.Duration
	FullInterval        time.Duration
	Logger              *zap.Logger
}

// New creates a new scheduler.
func New(cfg *Config) *Scheduler {
	return &Scheduler{
		computer:            cfg.Computer,
		incrementalInterval: cfg.IncrementalInterval,
		fullInterval:        cfg.FullInterval,
		logger:              cfg.Logger,
	}
}

// Run starts the scheduling loop. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler-starting",
		zap.Duration("incremental-interval", s.incrementalInterval),
		zap.Duration("full-interval", s.fullInterval))

	incremental := time.NewTicker(s.incrementalInterval)
	defer incremental.Stop()

	full := time.NewTicker(s.fullInterval)
	defer full.Stop()

	// Initial incremental sweep
	s.sweep(ctx, false)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler-stopping")
			return ctx.Err()
		case <-full.C:
			s.sweep(ctx, true)
		case <-incremental.C:
			s.sweep(ctx, false)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context, full bool) {
	start := time.Now()
	runType := "incremental"
	if full {
		runType = "full"
	}

	runs, err := s.computer.ComputeAll(ctx, full)
	if err != nil && !errors.Is(err, context.Canceled) {
		SweepErrorsTotal.Inc()
		s.logger.Error("sweep-failed",
			zap.String("run-type", runType),
			zap.Error(err))
	}

	SweepsTotal.WithLabelValues(runType).Inc()
	SweepDurationSeconds.Observe(time.Since(start).Seconds())
	s.logger.Info("sweep-finished",
		zap.String("run-type", runType),
		zap.Int("runs", len(runs)),
		zap.Duration("elapsed", time.Since(start)))
}
