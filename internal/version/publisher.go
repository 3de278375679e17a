package version

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/engine"
)

// Committer is the transactional write path the publisher drives. The
// implementation must make the whole request visible atomically, including
// the pointer advance when requested.
type Committer interface {
	CommitBatch(ctx context.Context, req *engine.CommitRequest, advancePointer bool) error
}

// Invalidator drops cached pointer entries after publication.
type Invalidator interface {
	Invalidate(symbol string)
}

// Publisher commits validated batches. Completed runs advance the
// current-version pointer; partial runs commit their rows for review but
// leave the pointer where it was; failed runs never reach this path.
type Publisher struct {
	committer   Committer
	invalidator Invalidator
	logger      *zap.Logger
}

// PublisherConfig holds publisher dependencies.
type PublisherConfig struct {
	Committer   Committer
	Invalidator Invalidator // optional
	Logger      *zap.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(cfg *PublisherConfig) *Publisher {
	return &Publisher{
		committer:   cfg.Committer,
		invalidator: cfg.Invalidator,
		logger:      cfg.Logger,
	}
}

// Publish commits req in one transaction and, for completed runs, advances
// the pointer and invalidates its cache entry.
func (p *Publisher) Publish(ctx context.Context, req *engine.CommitRequest) error {
	if req.Run == nil {
		return fmt.Errorf("publish: nil run")
	}

	switch req.Run.Status {
	case engine.RunStatusCompleted, engine.RunStatusPartial:
	default:
		return fmt.Errorf("publish: run %s has non-terminal status %s", req.Run.BatchID, req.Run.Status)
	}

	advance := req.Run.Status == engine.RunStatusCompleted

	err := p.committer.CommitBatch(ctx, req, advance)
	if err != nil {
		return fmt.Errorf("commit batch %s: %w", req.Run.BatchID, err)
	}

	if advance {
		if p.invalidator != nil {
			p.invalidator.Invalidate(req.Run.Symbol)
		}
		VersionsPublishedTotal.Inc()
		p.logger.Info("version-published",
			zap.String("symbol", req.Run.Symbol),
			zap.Int64("version", req.Run.Version),
			zap.String("batch-id", req.Run.BatchID))
	} else {
		PartialBatchesTotal.Inc()
		p.logger.Warn("partial-batch-committed",
			zap.String("symbol", req.Run.Symbol),
			zap.Int64("version", req.Run.Version),
			zap.String("batch-id", req.Run.BatchID),
			zap.Int("unmatched", req.Run.UnmatchedCount))
	}

	return nil
}
