package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/corefin/fifo-engine/internal/fifo"
)

// ErrNoSnapshot is returned by Load when no snapshot exists for (symbol, version).
// Callers must fall back to full computation.
var ErrNoSnapshot = errors.New("no inventory snapshot")

// Snapshot captures the open inventory for one symbol at a specific version and
// watermark. It is written once per successful run by the orchestrator and is
// only ever read by later runs.
type Snapshot struct {
	Symbol      string
	Version     int64
	Watermark   time.Time // trade_time of the last trade folded into the snapshot
	LastOrderID string    // order id at the watermark, for the tie-break frontier
	CreatedAt   time.Time
	Lots        []*fifo.Lot
}

// Inventory materializes the snapshot's lots as an ordered inventory.
func (s *Snapshot) Inventory() *fifo.Inventory {
	return fifo.NewInventoryFromLots(s.Lots)
}

// Store persists inventory snapshots keyed by (symbol, version).
type Store interface {
	// Load returns the snapshot for (symbol, version), or ErrNoSnapshot.
	Load(ctx context.Context, symbol string, version int64) (*Snapshot, error)

	// Save replaces the snapshot rows for (symbol, version).
	Save(ctx context.Context, snap *Snapshot) error
}
