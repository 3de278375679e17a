package fifo

import (
	"time"

	"github.com/shopspring/decimal"
)

// Allocation records that a specific quantity of a SELL was funded by a specific
// prior BUY. An empty BuyOrderID denotes an unmatched remainder: sell quantity for
// which no funding inventory exists. Allocations are append-only once published;
// recomputation creates a new version rather than editing rows.
type Allocation struct {
	SellOrderID    string
	BuyOrderID     string // empty = unmatched remainder
	Symbol         string
	AllocatedSize  decimal.Decimal
	BuyPrice       decimal.Decimal
	SellPrice      decimal.Decimal
	BuyFeePerUnit  decimal.Decimal
	SellFeePerUnit decimal.Decimal
	CostBasis      decimal.Decimal
	Proceeds       decimal.Decimal
	NetProceeds    decimal.Decimal
	PnL            decimal.NullDecimal // invalid on unmatched remainders
	BuyTime        time.Time
	SellTime       time.Time
	Version        int64
	BatchID        string
}

// Matched reports whether the allocation is funded by a known buy.
func (a *Allocation) Matched() bool {
	return a.BuyOrderID != ""
}
