package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is an immutable fill fact owned by the trade ledger. The engine only
// ever reads trades; it never creates or mutates them.
type Trade struct {
	OrderID    string
	Symbol     string
	Side       Side
	Size       decimal.Decimal
	Price      decimal.Decimal
	FeesTotal  decimal.Decimal
	TradeTime  time.Time
	IngestedAt time.Time
}

// Validate checks the closed-struct contract on a scanned trade.
func (t *Trade) Validate() error {
	if t.OrderID == "" {
		return fmt.Errorf("trade missing order id")
	}
	if t.Symbol == "" {
		return fmt.Errorf("trade %s missing symbol", t.OrderID)
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return fmt.Errorf("trade %s has invalid side %q", t.OrderID, t.Side)
	}
	if !t.Size.IsPositive() {
		return fmt.Errorf("trade %s has non-positive size %s", t.OrderID, t.Size)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("trade %s has non-positive price %s", t.OrderID, t.Price)
	}
	if t.FeesTotal.IsNegative() {
		return fmt.Errorf("trade %s has negative fees %s", t.OrderID, t.FeesTotal)
	}
	if t.TradeTime.IsZero() {
		return fmt.Errorf("trade %s missing trade time", t.OrderID)
	}
	return nil
}

// FeePerUnit returns the prorated fee share for one unit of the trade.
func (t *Trade) FeePerUnit() decimal.Decimal {
	return t.FeesTotal.Div(t.Size)
}

// Before reports whether t precedes other in the engine's total order
// (trade_time, order_id). The order-id tie-break keeps replay deterministic
// when timestamps collide.
func (t *Trade) Before(other *Trade) bool {
	if !t.TradeTime.Equal(other.TradeTime) {
		return t.TradeTime.Before(other.TradeTime)
	}
	return t.OrderID < other.OrderID
}
