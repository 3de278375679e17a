package validate

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/fifo"
	"github.com/corefin/fifo-engine/internal/ledger"
	"github.com/corefin/fifo-engine/internal/precision"
)

// TradeSource answers existence queries for check 5 (no allocation may
// reference a trade absent from the ledger).
type TradeSource interface {
	TradeExists(ctx context.Context, orderID string) (bool, error)
}

// Validator checks invariants over a freshly computed batch before publication.
type Validator struct {
	policies *precision.Set
	trades   TradeSource
	logger   *zap.Logger
}

// New creates a validator.
func New(policies *precision.Set, trades TradeSource, logger *zap.Logger) *Validator {
	return &Validator{
		policies: policies,
		trades:   trades,
		logger:   logger,
	}
}

// Input is the material of one computation run: the trades fed through the
// matcher, the inventory the run started from, and the allocations it produced.
type Input struct {
	Symbol      string
	Trades      []*ledger.Trade
	StartingInv *fifo.Inventory
	Allocations []*fifo.Allocation
}

// Validate runs checks 1-5 and reports the outcome. Infrastructure errors
// (ledger lookups) are returned as errors; invariant violations land in the
// report and are never auto-corrected.
func (v *Validator) Validate(ctx context.Context, in *Input) (*Report, error) {
	policy := v.policies.For(in.Symbol)
	report := NewReport(in.Symbol)

	buys := make(map[string]*ledger.Trade)
	sells := make(map[string]*ledger.Trade)
	for _, t := range in.Trades {
		switch t.Side {
		case ledger.SideBuy:
			buys[t.OrderID] = t
		case ledger.SideSell:
			sells[t.OrderID] = t
		}
	}

	startingLots := make(map[string]decimal.Decimal)
	if in.StartingInv != nil {
		for _, lot := range in.StartingInv.Lots() {
			startingLots[lot.OrderID] = lot.Remaining
		}
	}

	v.checkConservation(policy, sells, in.Allocations, report)
	v.checkOverAllocation(buys, startingLots, in.Allocations, report)
	v.checkExactPnL(in.Allocations, report)
	v.checkCausality(in.Allocations, report)

	err := v.checkReferences(ctx, buys, sells, startingLots, in.Allocations, report)
	if err != nil {
		return nil, err
	}

	for _, violation := range report.Violations {
		v.logger.Error("invariant-violation",
			zap.String("symbol", in.Symbol),
			zap.String("check", violation.Check),
			zap.String("order-id", violation.OrderID),
			zap.String("detail", violation.Detail))
		ViolationsTotal.WithLabelValues(violation.Check).Inc()
	}

	return report, nil
}

// Check 1: for every sell, matched + unmatched allocated size equals the sell
// size within the dust threshold.
func (v *Validator) checkConservation(
	policy precision.Policy,
	sells map[string]*ledger.Trade,
	allocs []*fifo.Allocation,
	report *Report,
) {
	allocated := make(map[string]decimal.Decimal)
	for _, a := range allocs {
		prev, ok := allocated[a.SellOrderID]
		if !ok {
			prev = decimal.Zero
		}
		allocated[a.SellOrderID] = prev.Add(a.AllocatedSize)
		if !a.Matched() {
			report.UnmatchedCount++
			report.UnmatchedSize = report.UnmatchedSize.Add(a.AllocatedSize)
		}
	}

	for sellID, sell := range sells {
		total, ok := allocated[sellID]
		if !ok {
			total = decimal.Zero
		}
		diff := sell.Size.Sub(total).Abs()
		if diff.GreaterThan(policy.DustThreshold) {
			report.Add(CheckConservation, sellID, fmt.Sprintf(
				"allocated %s of sell size %s (diff %s exceeds dust threshold %s)",
				total, sell.Size, diff, policy.DustThreshold))
		}
	}
}

// Check 2: no buy funds more than its size (or, for snapshot lots, more than
// the remaining size the run started with).
func (v *Validator) checkOverAllocation(
	buys map[string]*ledger.Trade,
	startingLots map[string]decimal.Decimal,
	allocs []*fifo.Allocation,
	report *Report,
) {
	allocated := make(map[string]decimal.Decimal)
	for _, a := range allocs {
		if !a.Matched() {
			continue
		}
		prev, ok := allocated[a.BuyOrderID]
		if !ok {
			prev = decimal.Zero
		}
		allocated[a.BuyOrderID] = prev.Add(a.AllocatedSize)
	}

	for buyID, total := range allocated {
		var capacity decimal.Decimal
		if buy, ok := buys[buyID]; ok {
			capacity = buy.Size
		} else if remaining, ok := startingLots[buyID]; ok {
			capacity = remaining
		} else {
			// Reference problem, reported by check 5.
			continue
		}

		if total.GreaterThan(capacity) {
			report.Add(CheckOverAllocation, buyID, fmt.Sprintf(
				"allocated %s exceeds buy capacity %s", total, capacity))
		}
	}
}

// Check 3: pnl equals net_proceeds - cost_basis with exact decimal equality.
func (v *Validator) checkExactPnL(allocs []*fifo.Allocation, report *Report) {
	for _, a := range allocs {
		if !a.Matched() {
			if a.PnL.Valid {
				report.Add(CheckExactPnL, a.SellOrderID, "unmatched remainder carries a pnl value")
			}
			continue
		}
		if !a.PnL.Valid {
			report.Add(CheckExactPnL, a.SellOrderID, "matched allocation missing pnl")
			continue
		}
		want := a.NetProceeds.Sub(a.CostBasis)
		if !a.PnL.Decimal.Equal(want) {
			report.Add(CheckExactPnL, a.SellOrderID, fmt.Sprintf(
				"pnl %s != net_proceeds - cost_basis %s (buy %s)",
				a.PnL.Decimal, want, a.BuyOrderID))
		}
	}
}

// Check 4: no matched allocation sells before it buys.
func (v *Validator) checkCausality(allocs []*fifo.Allocation, report *Report) {
	for _, a := range allocs {
		if !a.Matched() {
			continue
		}
		if a.SellTime.Before(a.BuyTime) {
			report.Add(CheckCausality, a.SellOrderID, fmt.Sprintf(
				"sell_time %s before buy_time %s (buy %s)",
				a.SellTime, a.BuyTime, a.BuyOrderID))
		}
	}
}

// Check 5: every referenced order id exists in the ledger. Trades in the batch
// are known present; snapshot lots and anything else fall through to a lookup.
func (v *Validator) checkReferences(
	ctx context.Context,
	buys, sells map[string]*ledger.Trade,
	startingLots map[string]decimal.Decimal,
	allocs []*fifo.Allocation,
	report *Report,
) error {
	checked := make(map[string]bool)

	verify := func(orderID string) error {
		if checked[orderID] {
			return nil
		}
		checked[orderID] = true

		exists, err := v.trades.TradeExists(ctx, orderID)
		if err != nil {
			return fmt.Errorf("check trade %s exists: %w", orderID, err)
		}
		if !exists {
			report.Add(CheckReferences, orderID, "allocation references a trade absent from the ledger")
		}
		return nil
	}

	for _, a := range allocs {
		if _, ok := sells[a.SellOrderID]; !ok {
			err := verify(a.SellOrderID)
			if err != nil {
				return err
			}
		}
		if !a.Matched() {
			continue
		}
		_, inBatch := buys[a.BuyOrderID]
		_, inSnapshot := startingLots[a.BuyOrderID]
		if inBatch {
			continue
		}
		if inSnapshot {
			// Snapshot lots still must trace back to a ledger trade.
			err := verify(a.BuyOrderID)
			if err != nil {
				return err
			}
			continue
		}
		err := verify(a.BuyOrderID)
		if err != nil {
			return err
		}
	}

	return nil
}
