package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/corefin/fifo-engine/internal/fifo"
	"github.com/corefin/fifo-engine/internal/snapshot"
)

// RunStatus is the lifecycle state of a computation run.
type RunStatus string

const (
	RunStatusRunning    RunStatus = "running"
	RunStatusValidating RunStatus = "validating"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusPartial    RunStatus = "partial"
	RunStatusFailed     RunStatus = "failed"
)

// RunType distinguishes full replays from incremental continuations.
type RunType string

const (
	RunTypeFull        RunType = "full"
	RunTypeIncremental RunType = "incremental"
)

// Run is one row of the computation log.
type Run struct {
	BatchID             string
	Symbol              string
	Type                RunType
	Version             int64
	Status              RunStatus
	TradesProcessed     int
	AllocationsProduced int
	UnmatchedCount      int
	ErrorDetail         string
	StartedAt           time.Time
	FinishedAt          time.Time
}

// NewRun creates a running run with a fresh batch id.
func NewRun(symbol string, runType RunType, version int64) *Run {
	return &Run{
		BatchID:   uuid.New().String(),
		Symbol:    symbol,
		Type:      runType,
		Version:   version,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// RunStore persists the computation log.
type RunStore interface {
	// CreateRun inserts the run with status running.
	CreateRun(ctx context.Context, run *Run) error

	// MarkRunFailed finalizes a run as failed with error detail. It must leave
	// no partial allocation rows visible.
	MarkRunFailed(ctx context.Context, batchID, detail string) error

	// NextVersion allocates the next version for a symbol from the computation
	// log (never from allocation rows).
	NextVersion(ctx context.Context, symbol string) (int64, error)
}

// VersionStore resolves the current published version for a symbol.
type VersionStore interface {
	// Current returns (version, true, nil) when a version has been published
	// for the symbol, and (0, false, nil) when none has.
	Current(ctx context.Context, symbol string) (int64, bool, error)
}

// CommitRequest carries everything one run publishes atomically: the final run
// row, the batch's allocation rows, and the refreshed inventory snapshot.
type CommitRequest struct {
	Run         *Run
	Allocations []*fifo.Allocation
	Snapshot    *snapshot.Snapshot
}

// Publisher commits a validated batch. Implementations must make the run's
// final status, its allocation rows, the snapshot, and (for completed runs)
// the current-version pointer visible in a single transaction.
type Publisher interface {
	Publish(ctx context.Context, req *CommitRequest) error
}
