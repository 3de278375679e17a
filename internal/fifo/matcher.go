package fifo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/ledger"
	"github.com/corefin/fifo-engine/internal/precision"
)

// Matcher implements FIFO lot matching. It is a pure function of
// (ordered trades, starting inventory, precision policy): identical input
// always yields identical allocation content.
type Matcher struct {
	policies *precision.Set
	logger   *zap.Logger
}

// NewMatcher creates a matcher with the given precision policies.
func NewMatcher(policies *precision.Set, logger *zap.Logger) *Matcher {
	return &Matcher{
		policies: policies,
		logger:   logger,
	}
}

// Result is the outcome of matching one trade sequence.
type Result struct {
	Allocations []*Allocation
	Inventory   *Inventory
	Unmatched   int       // count of unmatched-remainder rows
	Watermark   time.Time // trade_time of the last trade processed
	LastOrderID string    // order id of the last trade processed (tie-break frontier)
}

// Match replays trades for one symbol against a starting inventory and produces
// allocation drafts plus the resulting inventory. Trades must be ordered by
// (trade_time, order_id); the starting inventory is not mutated.
func (m *Matcher) Match(symbol string, trades []*ledger.Trade, starting *Inventory) (*Result, error) {
	policy := m.policies.For(symbol)

	inv := NewInventory()
	if starting != nil {
		inv = starting.Clone()
	}

	result := &Result{Inventory: inv}

	var prev *ledger.Trade
	for _, trade := range trades {
		if trade.Symbol != symbol {
			return nil, fmt.Errorf("trade %s has symbol %q, matcher running for %q",
				trade.OrderID, trade.Symbol, symbol)
		}
		if prev != nil && trade.Before(prev) {
			return nil, fmt.Errorf("trade %s out of order after %s", trade.OrderID, prev.OrderID)
		}
		prev = trade

		switch trade.Side {
		case ledger.SideBuy:
			inv.Add(&Lot{
				OrderID:    trade.OrderID,
				Price:      trade.Price,
				FeePerUnit: trade.FeePerUnit(),
				Remaining:  trade.Size,
				TradeTime:  trade.TradeTime,
			})
		case ledger.SideSell:
			m.matchSell(policy, trade, inv, result)
		default:
			return nil, fmt.Errorf("trade %s has invalid side %q", trade.OrderID, trade.Side)
		}

		result.Watermark = trade.TradeTime
		result.LastOrderID = trade.OrderID
	}

	AllocationsProducedTotal.Add(float64(len(result.Allocations)))

	return result, nil
}

// matchSell drains the oldest eligible lots until the sell is satisfied or no
// inventory remains.
func (m *Matcher) matchSell(policy precision.Policy, sell *ledger.Trade, inv *Inventory, result *Result) {
	sellFeePerUnit := sell.FeePerUnit()
	remaining := sell.Size

	for remaining.GreaterThan(policy.DustThreshold) {
		lot := inv.Oldest(policy.DustThreshold)
		if lot == nil {
			break
		}

		allocated := decimal.Min(remaining, lot.Remaining)

		// All intermediate arithmetic stays exact; rounding happens only at
		// presentation boundaries.
		costBasis := lot.Price.Add(lot.FeePerUnit).Mul(allocated)
		proceeds := sell.Price.Mul(allocated)
		netProceeds := proceeds.Sub(sellFeePerUnit.Mul(allocated))
		pnl := netProceeds.Sub(costBasis)

		result.Allocations = append(result.Allocations, &Allocation{
			SellOrderID:    sell.OrderID,
			BuyOrderID:     lot.OrderID,
			Symbol:         sell.Symbol,
			AllocatedSize:  allocated,
			BuyPrice:       lot.Price,
			SellPrice:      sell.Price,
			BuyFeePerUnit:  lot.FeePerUnit,
			SellFeePerUnit: sellFeePerUnit,
			CostBasis:      costBasis,
			Proceeds:       proceeds,
			NetProceeds:    netProceeds,
			PnL:            decimal.NullDecimal{Decimal: pnl, Valid: true},
			BuyTime:        lot.TradeTime,
			SellTime:       sell.TradeTime,
		})

		lot.Remaining = lot.Remaining.Sub(allocated)
		remaining = remaining.Sub(allocated)
	}

	if remaining.GreaterThan(policy.DustThreshold) {
		// Sell exceeds known inventory. The books are never balanced by
		// fabricating a buy; the shortfall becomes a flagged row.
		m.logger.Warn("unmatched-sell-remainder",
			zap.String("symbol", sell.Symbol),
			zap.String("sell-order-id", sell.OrderID),
			zap.String("remaining", remaining.String()))
		UnmatchedRemaindersTotal.Inc()

		result.Allocations = append(result.Allocations, &Allocation{
			SellOrderID:    sell.OrderID,
			Symbol:         sell.Symbol,
			AllocatedSize:  remaining,
			SellPrice:      sell.Price,
			SellFeePerUnit: sellFeePerUnit,
			SellTime:       sell.TradeTime,
		})
		result.Unmatched++
	}
	// A remainder at or below the dust threshold is treated as fully satisfied.
}
