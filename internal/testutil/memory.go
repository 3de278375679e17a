package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/corefin/fifo-engine/internal/engine"
	"github.com/corefin/fifo-engine/internal/fifo"
	"github.com/corefin/fifo-engine/internal/ledger"
	"github.com/corefin/fifo-engine/internal/snapshot"
)

// MemoryLedger is an in-memory ledger.Reader for orchestrator tests.
type MemoryLedger struct {
	mu     sync.Mutex
	trades []*ledger.Trade

	// FetchErrs is consumed one per FetchTrades call to simulate transient
	// failures; a nil entry means success.
	FetchErrs []error
}

// NewMemoryLedger creates a ledger seeded with trades.
func NewMemoryLedger(trades ...*ledger.Trade) *MemoryLedger {
	l := &MemoryLedger{}
	l.Append(trades...)
	return l
}

// Append ingests trades, stamping IngestedAt when unset.
func (l *MemoryLedger) Append(trades ...*ledger.Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range trades {
		if t.IngestedAt.IsZero() {
			t.IngestedAt = time.Now().UTC()
		}
		l.trades = append(l.trades, t)
	}
}

func (l *MemoryLedger) FetchTrades(_ context.Context, symbol string, since *time.Time) ([]*ledger.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.FetchErrs) > 0 {
		err := l.FetchErrs[0]
		l.FetchErrs = l.FetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	var out []*ledger.Trade
	for _, t := range l.trades {
		if t.Symbol != symbol {
			continue
		}
		if since != nil && t.TradeTime.Before(*since) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (l *MemoryLedger) Symbols(_ context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]bool)
	var symbols []string
	for _, t := range l.trades {
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			symbols = append(symbols, t.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (l *MemoryLedger) CountBackfilled(_ context.Context, symbol string, watermark time.Time, lastOrderID string, ingestedAfter time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, t := range l.trades {
		if t.Symbol != symbol || !t.IngestedAt.After(ingestedAfter) {
			continue
		}
		if t.TradeTime.Before(watermark) ||
			(t.TradeTime.Equal(watermark) && t.OrderID <= lastOrderID) {
			count++
		}
	}
	return count, nil
}

func (l *MemoryLedger) TradeExists(_ context.Context, orderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, t := range l.trades {
		if t.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (l *MemoryLedger) Close() error { return nil }

// MemorySnapshotStore is an in-memory snapshot.Store.
type MemorySnapshotStore struct {
	mu    sync.Mutex
	snaps map[string]*snapshot.Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]*snapshot.Snapshot)}
}

func snapKey(symbol string, version int64) string {
	return fmt.Sprintf("%s@%d", symbol, version)
}

func (s *MemorySnapshotStore) Load(_ context.Context, symbol string, version int64) (*snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snaps[snapKey(symbol, version)]
	if !ok {
		return nil, snapshot.ErrNoSnapshot
	}
	return snap, nil
}

func (s *MemorySnapshotStore) Save(_ context.Context, snap *snapshot.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snapKey(snap.Symbol, snap.Version)] = snap
	return nil
}

// MemoryRunStore is an in-memory engine.RunStore.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs []*engine.Run

	// CreateErrs is consumed one per CreateRun call.
	CreateErrs []error
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{}
}

func (s *MemoryRunStore) CreateRun(_ context.Context, run *engine.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.CreateErrs) > 0 {
		err := s.CreateErrs[0]
		s.CreateErrs = s.CreateErrs[1:]
		if err != nil {
			return err
		}
	}

	c := *run
	s.runs = append(s.runs, &c)
	return nil
}

func (s *MemoryRunStore) MarkRunFailed(_ context.Context, batchID, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.runs {
		if r.BatchID == batchID {
			r.Status = engine.RunStatusFailed
			r.ErrorDetail = detail
			return nil
		}
	}
	return fmt.Errorf("run %s not found", batchID)
}

func (s *MemoryRunStore) NextVersion(_ context.Context, symbol string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max int64
	for _, r := range s.runs {
		if r.Symbol == symbol && r.Version > max {
			max = r.Version
		}
	}
	return max + 1, nil
}

// Runs returns a copy of the stored runs.
func (s *MemoryRunStore) Runs() []*engine.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*engine.Run, len(s.runs))
	copy(out, s.runs)
	return out
}

// MemoryPublisher implements engine.Publisher and engine.VersionStore,
// mirroring the transactional semantics: a commit makes the run row, the
// batch's allocations, the snapshot, and (on completed) the pointer visible
// together.
type MemoryPublisher struct {
	mu        sync.Mutex
	pointers  map[string]int64
	allocs    map[string][]*fifo.Allocation // key symbol@version
	runs      *MemoryRunStore
	snapshots *MemorySnapshotStore

	// PublishErrs is consumed one per Publish call.
	PublishErrs []error
}

func NewMemoryPublisher(runs *MemoryRunStore, snapshots *MemorySnapshotStore) *MemoryPublisher {
	return &MemoryPublisher{
		pointers:  make(map[string]int64),
		allocs:    make(map[string][]*fifo.Allocation),
		runs:      runs,
		snapshots: snapshots,
	}
}

func (p *MemoryPublisher) Publish(ctx context.Context, req *engine.CommitRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.PublishErrs) > 0 {
		err := p.PublishErrs[0]
		p.PublishErrs = p.PublishErrs[1:]
		if err != nil {
			return err
		}
	}

	key := snapKey(req.Run.Symbol, req.Run.Version)
	p.allocs[key] = append(p.allocs[key], req.Allocations...)

	if p.snapshots != nil && req.Snapshot != nil {
		err := p.snapshots.Save(ctx, req.Snapshot)
		if err != nil {
			return err
		}
	}

	if p.runs != nil {
		p.runs.mu.Lock()
		for _, r := range p.runs.runs {
			if r.BatchID == req.Run.BatchID {
				r.Status = req.Run.Status
				r.TradesProcessed = req.Run.TradesProcessed
				r.AllocationsProduced = req.Run.AllocationsProduced
				r.UnmatchedCount = req.Run.UnmatchedCount
				r.FinishedAt = req.Run.FinishedAt
			}
		}
		p.runs.mu.Unlock()
	}

	if req.Run.Status == engine.RunStatusCompleted {
		p.pointers[req.Run.Symbol] = req.Run.Version
	}

	return nil
}

func (p *MemoryPublisher) Current(_ context.Context, symbol string) (int64, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.pointers[symbol]
	return v, ok, nil
}

// Allocations returns the committed rows for (symbol, version).
func (p *MemoryPublisher) Allocations(symbol string, version int64) []*fifo.Allocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocs[snapKey(symbol, version)]
}
