package validate

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/fifo"
	"github.com/corefin/fifo-engine/internal/ledger"
	"github.com/corefin/fifo-engine/internal/precision"
)

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// fakeTradeSource answers existence checks from a fixed set.
type fakeTradeSource struct {
	known map[string]bool
}

func (f *fakeTradeSource) TradeExists(_ context.Context, orderID string) (bool, error) {
	return f.known[orderID], nil
}

func newTestValidator(known ...string) *Validator {
	src := &fakeTradeSource{known: make(map[string]bool)}
	for _, id := range known {
		src.known[id] = true
	}
	return New(precision.NewSet(precision.DefaultPolicy(), nil), src, zap.NewNop())
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func buyTrade(id, size, price string, offset time.Duration) *ledger.Trade {
	return &ledger.Trade{
		OrderID: id, Symbol: "BTC-USD", Side: ledger.SideBuy,
		Size: d(size), Price: d(price), FeesTotal: decimal.Zero,
		TradeTime: baseTime.Add(offset), IngestedAt: baseTime.Add(offset),
	}
}

func sellTrade(id, size, price string, offset time.Duration) *ledger.Trade {
	t := buyTrade(id, size, price, offset)
	t.Side = ledger.SideSell
	return t
}

func matchedAlloc(buyID, sellID, size, pnl string) *fifo.Allocation {
	cost := d("100").Mul(d(size))
	net := cost.Add(d(pnl))
	return &fifo.Allocation{
		SellOrderID:   sellID,
		BuyOrderID:    buyID,
		Symbol:        "BTC-USD",
		AllocatedSize: d(size),
		BuyPrice:      d("100"),
		SellPrice:     d("110"),
		CostBasis:     cost,
		Proceeds:      net,
		NetProceeds:   net,
		PnL:           decimal.NullDecimal{Decimal: d(pnl), Valid: true},
		BuyTime:       baseTime,
		SellTime:      baseTime.Add(time.Hour),
	}
}

func TestValidator_CleanBatch(t *testing.T) {
	v := newTestValidator()

	trades := []*ledger.Trade{
		buyTrade("buy-1", "1", "100", 0),
		sellTrade("sell-1", "1", "110", time.Hour),
	}
	allocs := []*fifo.Allocation{matchedAlloc("buy-1", "sell-1", "1", "10")}

	report, err := v.Validate(context.Background(), &Input{
		Symbol:      "BTC-USD",
		Trades:      trades,
		Allocations: allocs,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Outcome() != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed (violations: %+v)", report.Outcome(), report.Violations)
	}
}

func TestValidator_Conservation_Violated(t *testing.T) {
	v := newTestValidator()

	trades := []*ledger.Trade{
		buyTrade("buy-1", "1", "100", 0),
		sellTrade("sell-1", "1", "110", time.Hour),
	}
	// Only half the sell is accounted for and there is no unmatched row.
	allocs := []*fifo.Allocation{matchedAlloc("buy-1", "sell-1", "0.5", "5")}

	report, err := v.Validate(context.Background(), &Input{
		Symbol: "BTC-USD", Trades: trades, Allocations: allocs,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Outcome() != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", report.Outcome())
	}
	if report.Violations[0].Check != CheckConservation {
		t.Errorf("check = %s, want conservation", report.Violations[0].Check)
	}
	if report.Violations[0].OrderID != "sell-1" {
		t.Errorf("violation should name the affected sell, got %s", report.Violations[0].OrderID)
	}
}

func TestValidator_Conservation_WithinDust(t *testing.T) {
	v := newTestValidator()

	trades := []*ledger.Trade{
		buyTrade("buy-1", "100.00000001", "10", 0),
		sellTrade("sell-1", "100.00000001", "11", time.Hour),
	}
	// 0.00000001 short: inside the dust threshold, not a violation.
	allocs := []*fifo.Allocation{matchedAlloc("buy-1", "sell-1", "100", "100")}

	report, err := v.Validate(context.Background(), &Input{
		Symbol: "BTC-USD", Trades: trades, Allocations: allocs,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Outcome() != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed", report.Outcome())
	}
}

func TestValidator_OverAllocation(t *testing.T) {
	v := newTestValidator()

	trades := []*ledger.Trade{
		buyTrade("buy-1", "1", "100", 0),
		sellTrade("sell-1", "1.5", "110", time.Hour),
	}
	allocs := []*fifo.Allocation{matchedAlloc("buy-1", "sell-1", "1.5", "15")}

	report, err := v.Validate(context.Background(), &Input{
		Symbol: "BTC-USD", Trades: trades, Allocations: allocs,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Outcome() != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", report.Outcome())
	}
	found := false
	for _, violation := range report.Violations {
		if violation.Check == CheckOverAllocation && violation.OrderID == "buy-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected over_allocation violation for buy-1, got %+v", report.Violations)
	}
}

func TestValidator_OverAllocation_SnapshotLotCapacity(t *testing.T) {
	v := newTestValidator("buy-old")

	starting := fifo.NewInventoryFromLots([]*fifo.Lot{
		{OrderID: "buy-old", Price: d("90"), Remaining: d("0.5"), TradeTime: baseTime.Add(-time.Hour)},
	})
	trades := []*ledger.Trade{sellTrade("sell-1", "0.5", "110", time.Hour)}

	alloc := matchedAlloc("buy-old", "sell-1", "0.5", "10")
	alloc.BuyTime = baseTime.Add(-time.Hour)

	report, err := v.Validate(context.Background(), &Input{
		Symbol:      "BTC-USD",
		Trades:      trades,
		StartingInv: starting,
		Allocations: []*fifo.Allocation{alloc},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Outcome() != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed (violations: %+v)", report.Outcome(), report.Violations)
	}

	// Exceeding the snapshot lot's remaining size is a defect.
	over := matchedAlloc("buy-old", "sell-1", "0.6", "12")
	over.BuyTime = baseTime.Add(-time.Hour)
	trades[0].Size = d("0.6")

	report, err = v.Validate(context.Background(), &Input{
		Symbol:      "BTC-USD",
		Trades:      trades,
		StartingInv: starting,
		Allocations: []*fifo.Allocation{over},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Outcome() != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", report.Outcome())
	}
}

func TestValidator_ExactPnL(t *testing.T) {
	v := newTestValidator()

	trades := []*ledger.Trade{
		buyTrade("buy-1", "1", "100", 0),
		sellTrade("sell-1", "1", "110", time.Hour),
	}
	alloc := matchedAlloc("buy-1", "sell-1", "1", "10")
	alloc.PnL = decimal.NullDecimal{Decimal: d("10.00000001"), Valid: true}

	report, err := v.Validate(context.Background(), &Input{
		Symbol: "BTC-USD", Trades: trades, Allocations: []*fifo.Allocation{alloc},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Outcome() != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", report.Outcome())
	}
	if report.Violations[0].Check != CheckExactPnL {
		t.Errorf("check = %s, want exact_pnl", report.Violations[0].Check)
	}
}

func TestValidator_Causality(t *testing.T) {
	v := newTestValidator()

	trades := []*ledger.Trade{
		buyTrade("buy-1", "1", "100", 0),
		sellTrade("sell-1", "1", "110", time.Hour),
	}
	alloc := matchedAlloc("buy-1", "sell-1", "1", "10")
	alloc.BuyTime = baseTime.Add(2 * time.Hour)
	alloc.SellTime = baseTime

	report, err := v.Validate(context.Background(), &Input{
		Symbol: "BTC-USD", Trades: trades, Allocations: []*fifo.Allocation{alloc},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Outcome() != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", report.Outcome())
	}
	if report.Violations[0].Check != CheckCausality {
		t.Errorf("check = %s, want causality", report.Violations[0].Check)
	}
}

func TestValidator_References_MissingTrade(t *testing.T) {
	// buy-ghost is not in the batch, not in the snapshot, and not in the ledger.
	v := newTestValidator()

	trades := []*ledger.Trade{sellTrade("sell-1", "1", "110", time.Hour)}
	alloc := matchedAlloc("buy-ghost", "sell-1", "1", "10")

	report, err := v.Validate(context.Background(), &Input{
		Symbol: "BTC-USD", Trades: trades, Allocations: []*fifo.Allocation{alloc},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Outcome() != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", report.Outcome())
	}
	found := false
	for _, violation := range report.Violations {
		if violation.Check == CheckReferences && violation.OrderID == "buy-ghost" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected references violation for buy-ghost, got %+v", report.Violations)
	}
}

func TestValidator_UnmatchedRemainder_IsPartialNotFailed(t *testing.T) {
	v := newTestValidator()

	trades := []*ledger.Trade{sellTrade("sell-1", "5", "110", 0)}
	unmatched := &fifo.Allocation{
		SellOrderID:   "sell-1",
		Symbol:        "BTC-USD",
		AllocatedSize: d("5"),
		SellPrice:     d("110"),
		SellTime:      baseTime,
	}

	report, err := v.Validate(context.Background(), &Input{
		Symbol: "BTC-USD", Trades: trades, Allocations: []*fifo.Allocation{unmatched},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Outcome() != OutcomePartial {
		t.Errorf("outcome = %s, want partial", report.Outcome())
	}
	if report.UnmatchedCount != 1 {
		t.Errorf("unmatched count = %d, want 1", report.UnmatchedCount)
	}
	if !report.UnmatchedSize.Equal(d("5")) {
		t.Errorf("unmatched size = %s, want 5", report.UnmatchedSize)
	}
}

func TestReport_Outcome(t *testing.T) {
	r := NewReport("BTC-USD")
	if r.Outcome() != OutcomeCompleted {
		t.Errorf("empty report outcome = %s, want completed", r.Outcome())
	}

	r.UnmatchedCount = 2
	if r.Outcome() != OutcomePartial {
		t.Errorf("unmatched-only outcome = %s, want partial", r.Outcome())
	}

	r.Add(CheckCausality, "sell-1", "out of order")
	if r.Outcome() != OutcomeFailed {
		t.Errorf("violation outcome = %s, want failed", r.Outcome())
	}
}
