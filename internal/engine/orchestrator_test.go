package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/engine"
	"github.com/corefin/fifo-engine/internal/fifo"
	"github.com/corefin/fifo-engine/internal/ledger"
	"github.com/corefin/fifo-engine/internal/precision"
	"github.com/corefin/fifo-engine/internal/testutil"
	"github.com/corefin/fifo-engine/internal/validate"
)

type harness struct {
	ledger    *testutil.MemoryLedger
	snapshots *testutil.MemorySnapshotStore
	runs      *testutil.MemoryRunStore
	publisher *testutil.MemoryPublisher
	orch      *engine.Orchestrator
}

func newHarness(t *testing.T, trades ...*ledger.Trade) *harness {
	t.Helper()

	logger := zap.NewNop()
	policies := precision.NewSet(precision.DefaultPolicy(), nil)

	memLedger := testutil.NewMemoryLedger(trades...)
	snapshots := testutil.NewMemorySnapshotStore()
	runs := testutil.NewMemoryRunStore()
	publisher := testutil.NewMemoryPublisher(runs, snapshots)

	orch := engine.New(
		engine.Config{
			MaxRetries:        3,
			RetryInitialDelay: time.Millisecond,
			RetryMaxDelay:     5 * time.Millisecond,
			RetryBackoffMult:  2,
			Logger:            logger,
		},
		memLedger,
		fifo.NewMatcher(policies, logger),
		validate.New(policies, memLedger, logger),
		snapshots,
		runs,
		publisher,
		publisher,
	)

	return &harness{
		ledger:    memLedger,
		snapshots: snapshots,
		runs:      runs,
		publisher: publisher,
		orch:      orch,
	}
}

func TestComputeFull_HappyPath(t *testing.T) {
	h := newHarness(t,
		testutil.Buy("buy-1", "BTC-USD", "0.5", "30000", "0", 0),
		testutil.Buy("buy-2", "BTC-USD", "0.3", "31000", "0", 5*time.Minute),
		testutil.Sell("sell-1", "BTC-USD", "0.7", "32000", "0", 10*time.Minute),
	)

	run, err := h.orch.ComputeFull(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusCompleted, run.Status)
	assert.Equal(t, int64(1), run.Version)
	assert.Equal(t, 3, run.TradesProcessed)
	assert.Equal(t, 2, run.AllocationsProduced)

	version, found, err := h.publisher.Current(context.Background(), "BTC-USD")
	require.NoError(t, err)
	require.True(t, found, "pointer should advance on completed run")
	assert.Equal(t, int64(1), version)

	allocs := h.publisher.Allocations("BTC-USD", 1)
	require.Len(t, allocs, 2)
	assert.True(t, allocs[0].PnL.Decimal.Equal(decimal.RequireFromString("1000")))
	assert.True(t, allocs[1].PnL.Decimal.Equal(decimal.RequireFromString("200")))
}

// Scenario C: a sell with zero prior inventory produces a partial run and
// leaves the current-version pointer untouched.
func TestComputeFull_UnmatchedRemainder_Partial(t *testing.T) {
	h := newHarness(t,
		testutil.Sell("sell-1", "BTC-USD", "5", "20000", "0", 0),
	)

	run, err := h.orch.ComputeFull(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.UnmatchedCount)

	_, found, err := h.publisher.Current(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.False(t, found, "pointer must not advance on partial run")

	// The flagged row is still committed for manual review.
	allocs := h.publisher.Allocations("BTC-USD", 1)
	require.Len(t, allocs, 1)
	assert.False(t, allocs[0].Matched())
	assert.False(t, allocs[0].PnL.Valid)
}

// Idempotence: two full runs over an unchanged trade set yield identical
// content; only version and batch id differ.
func TestComputeFull_Idempotence(t *testing.T) {
	h := newHarness(t,
		testutil.Buy("buy-1", "BTC-USD", "1.5", "100", "0.6", 0),
		testutil.Buy("buy-2", "BTC-USD", "2.5", "102", "1", time.Minute),
		testutil.Sell("sell-1", "BTC-USD", "3", "105", "1.2", 2*time.Minute),
	)

	first, err := h.orch.ComputeFull(context.Background(), "BTC-USD")
	require.NoError(t, err)
	second, err := h.orch.ComputeFull(context.Background(), "BTC-USD")
	require.NoError(t, err)

	require.NotEqual(t, first.Version, second.Version)
	require.NotEqual(t, first.BatchID, second.BatchID)

	a := h.publisher.Allocations("BTC-USD", first.Version)
	b := h.publisher.Allocations("BTC-USD", second.Version)
	require.Equal(t, len(a), len(b))

	for i := range a {
		assert.Equal(t, a[i].BuyOrderID, b[i].BuyOrderID)
		assert.Equal(t, a[i].SellOrderID, b[i].SellOrderID)
		assert.True(t, a[i].AllocatedSize.Equal(b[i].AllocatedSize))
		assert.True(t, a[i].PnL.Decimal.Equal(b[i].PnL.Decimal))
	}

	version, found, err := h.publisher.Current(context.Background(), "BTC-USD")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second.Version, version)
}

// Incremental equivalence: full over [t0,t1] then incremental to t2 matches a
// single full run over [t0,t2].
func TestComputeIncremental_Equivalence(t *testing.T) {
	early := []*ledger.Trade{
		testutil.Buy("buy-1", "BTC-USD", "2", "100", "0.4", 0),
		testutil.Sell("sell-1", "BTC-USD", "0.5", "110", "0.1", 10*time.Minute),
	}
	late := []*ledger.Trade{
		testutil.Buy("buy-2", "BTC-USD", "1", "105", "0.2", 20*time.Minute),
		testutil.Sell("sell-2", "BTC-USD", "2", "120", "0.5", 30*time.Minute),
	}

	// Path A: full, then incremental.
	h := newHarness(t, early...)
	full1, err := h.orch.ComputeFull(context.Background(), "BTC-USD")
	require.NoError(t, err)
	require.Equal(t, engine.RunStatusCompleted, full1.Status)

	h.ledger.Append(late...)
	inc, err := h.orch.ComputeIncremental(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, engine.RunTypeIncremental, inc.Type)
	assert.Equal(t, full1.Version, inc.Version, "incremental extends the same version")

	pathA := h.publisher.Allocations("BTC-USD", full1.Version)

	// Path B: one full run over everything.
	all := append(append([]*ledger.Trade{}, early...), late...)
	ref := newHarness(t, all...)
	fullAll, err := ref.orch.ComputeFull(context.Background(), "BTC-USD")
	require.NoError(t, err)
	pathB := ref.publisher.Allocations("BTC-USD", fullAll.Version)

	require.Equal(t, len(pathB), len(pathA))
	for i := range pathB {
		assert.Equal(t, pathB[i].BuyOrderID, pathA[i].BuyOrderID, "row %d", i)
		assert.Equal(t, pathB[i].SellOrderID, pathA[i].SellOrderID, "row %d", i)
		assert.True(t, pathB[i].AllocatedSize.Equal(pathA[i].AllocatedSize), "row %d size", i)
		assert.True(t, pathB[i].PnL.Decimal.Equal(pathA[i].PnL.Decimal), "row %d pnl", i)
	}
}

// A late-arriving historical trade behind the watermark invalidates the
// snapshot and escalates to a full recomputation on a new version.
func TestComputeIncremental_BackfillFallsBackToFull(t *testing.T) {
	h := newHarness(t,
		testutil.Buy("buy-1", "BTC-USD", "1", "100", "0", 0),
		testutil.Sell("sell-1", "BTC-USD", "0.5", "110", "0", 10*time.Minute),
	)

	full, err := h.orch.ComputeFull(context.Background(), "BTC-USD")
	require.NoError(t, err)

	// Backfill: trade_time before the watermark, ingested after the snapshot.
	backfill := testutil.Buy("buy-0", "BTC-USD", "1", "90", "0", 5*time.Minute)
	backfill.IngestedAt = time.Now().UTC().Add(time.Minute)
	h.ledger.Append(backfill)

	run, err := h.orch.ComputeIncremental(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, engine.RunTypeFull, run.Type, "backfill must escalate to full")
	assert.Greater(t, run.Version, full.Version)
}

// An explicit lower bound never overrides the snapshot watermark; the result
// matches a plain incremental run.
func TestComputeIncrementalSince_WatermarkGoverns(t *testing.T) {
	h := newHarness(t,
		testutil.Buy("buy-1", "BTC-USD", "2", "100", "0", 0),
		testutil.Sell("sell-1", "BTC-USD", "0.5", "110", "0", 10*time.Minute),
	)

	full, err := h.orch.ComputeFull(context.Background(), "BTC-USD")
	require.NoError(t, err)

	h.ledger.Append(
		testutil.Sell("sell-2", "BTC-USD", "1", "120", "0", 20*time.Minute),
	)

	run, err := h.orch.ComputeIncrementalSince(context.Background(), "BTC-USD", testutil.BaseTime)
	require.NoError(t, err)
	assert.Equal(t, engine.RunTypeIncremental, run.Type)
	assert.Equal(t, full.Version, run.Version)
	assert.Equal(t, 1, run.TradesProcessed, "already-folded trades are not re-fed")

	assert.Len(t, h.publisher.Allocations("BTC-USD", full.Version), 2)
}

func TestComputeIncremental_NoVersionRunsFull(t *testing.T) {
	h := newHarness(t,
		testutil.Buy("buy-1", "BTC-USD", "1", "100", "0", 0),
	)

	run, err := h.orch.ComputeIncremental(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, engine.RunTypeFull, run.Type)
	assert.Equal(t, engine.RunStatusCompleted, run.Status)
}

// Scenario D: two concurrent requests for the same symbol; exactly one
// proceeds, the other gets a lock-conflict rejection.
func TestCompute_ConcurrentRequests(t *testing.T) {
	trades := make([]*ledger.Trade, 0, 2000)
	for i := 0; i < 1000; i++ {
		trades = append(trades,
			testutil.Buy(fmt.Sprintf("buy-%04d", i), "BTC-USD", "1", "100", "0", time.Duration(2*i)*time.Second),
			testutil.Sell(fmt.Sprintf("sell-%04d", i), "BTC-USD", "1", "101", "0", time.Duration(2*i+1)*time.Second),
		)
	}
	h := newHarness(t, trades...)

	var wg sync.WaitGroup
	results := make(chan error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.ComputeFull(context.Background(), "BTC-USD")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejections int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, engine.ErrRunInProgress):
			rejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Both may succeed if the first finishes before the second starts, but
	// there is never more than one concurrent mutation and rejection is the
	// only other outcome.
	assert.GreaterOrEqual(t, successes, 1)
	assert.Equal(t, 2, successes+rejections)
}

func TestComputeFull_RetriesTransientErrors(t *testing.T) {
	h := newHarness(t,
		testutil.Buy("buy-1", "BTC-USD", "1", "100", "0", 0),
	)
	h.ledger.FetchErrs = []error{errors.New("connection reset"), nil}

	run, err := h.orch.ComputeFull(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusCompleted, run.Status)
}

func TestComputeFull_RetriesExhausted(t *testing.T) {
	h := newHarness(t,
		testutil.Buy("buy-1", "BTC-USD", "1", "100", "0", 0),
	)
	boom := errors.New("db down")
	h.ledger.FetchErrs = []error{boom, boom, boom}

	run, err := h.orch.ComputeFull(context.Background(), "BTC-USD")
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, engine.RunStatusFailed, run.Status)

	// No allocation rows became visible.
	assert.Empty(t, h.publisher.Allocations("BTC-USD", run.Version))

	// The computation log records the failure.
	var logged bool
	for _, r := range h.runs.Runs() {
		if r.BatchID == run.BatchID && r.Status == engine.RunStatusFailed {
			logged = true
		}
	}
	assert.True(t, logged, "failed run should be recorded in the computation log")
}

func TestComputeAll(t *testing.T) {
	h := newHarness(t,
		testutil.Buy("buy-1", "BTC-USD", "1", "100", "0", 0),
		testutil.Sell("sell-1", "BTC-USD", "1", "110", "0", time.Minute),
		testutil.Buy("buy-2", "ETH-USD", "10", "2000", "0", 0),
	)

	runs, err := h.orch.ComputeAll(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	for _, run := range runs {
		assert.Equal(t, engine.RunStatusCompleted, run.Status)
	}
}

// A symbol whose run fails must still appear in the result so callers can map
// the failure to a nonzero exit code.
func TestComputeAll_ReportsFailedRuns(t *testing.T) {
	h := newHarness(t,
		testutil.Buy("buy-1", "BTC-USD", "1", "100", "0", 0),
	)
	boom := errors.New("db down")
	h.ledger.FetchErrs = []error{boom, boom, boom}

	runs, err := h.orch.ComputeAll(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, runs, 1, "the failed run must not be dropped")
	assert.Equal(t, engine.RunStatusFailed, runs[0].Status)
	assert.Equal(t, "BTC-USD", runs[0].Symbol)
}

// A backfill landing exactly on the watermark instant with an order id inside
// the frontier is invisible to the incremental fetch filter, so it must
// invalidate the snapshot like any earlier backfill.
func TestComputeIncremental_BackfillAtWatermarkFallsBackToFull(t *testing.T) {
	h := newHarness(t,
		testutil.Buy("buy-1", "BTC-USD", "1", "100", "0", 0),
		testutil.Sell("sell-1", "BTC-USD", "0.5", "110", "0", 10*time.Minute),
	)

	full, err := h.orch.ComputeFull(context.Background(), "BTC-USD")
	require.NoError(t, err)

	// Same trade_time as the frontier, order id sorting inside it.
	backfill := testutil.Buy("buy-0", "BTC-USD", "1", "90", "0", 10*time.Minute)
	backfill.IngestedAt = time.Now().UTC().Add(time.Minute)
	h.ledger.Append(backfill)

	run, err := h.orch.ComputeIncremental(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, engine.RunTypeFull, run.Type, "frontier backfill must escalate to full")
	assert.Greater(t, run.Version, full.Version)
}

func TestComputeIncremental_NoNewTrades(t *testing.T) {
	h := newHarness(t,
		testutil.Buy("buy-1", "BTC-USD", "1", "100", "0", 0),
		testutil.Sell("sell-1", "BTC-USD", "0.4", "110", "0", time.Minute),
	)

	full, err := h.orch.ComputeFull(context.Background(), "BTC-USD")
	require.NoError(t, err)

	run, err := h.orch.ComputeIncremental(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.TradesProcessed)
	assert.Equal(t, full.Version, run.Version)

	// No duplicate allocations were appended.
	assert.Len(t, h.publisher.Allocations("BTC-USD", full.Version), 1)
}
