package fifo

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Lot is one buy order's remaining inventory.
type Lot struct {
	OrderID    string
	Price      decimal.Decimal
	FeePerUnit decimal.Decimal
	Remaining  decimal.Decimal
	TradeTime  time.Time
}

func (l *Lot) before(other *Lot) bool {
	if !l.TradeTime.Equal(other.TradeTime) {
		return l.TradeTime.Before(other.TradeTime)
	}
	return l.OrderID < other.OrderID
}

// Inventory is the ordered set of open buy lots for one symbol. It is mutated
// only in memory during a single computation run; persistence happens through
// the snapshot store.
type Inventory struct {
	lots []*Lot
}

// NewInventory returns an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{}
}

// NewInventoryFromLots builds an inventory from snapshot lots, restoring
// (trade_time, order_id) order regardless of input order.
func NewInventoryFromLots(lots []*Lot) *Inventory {
	inv := &Inventory{lots: make([]*Lot, len(lots))}
	copy(inv.lots, lots)
	sort.Slice(inv.lots, func(i, j int) bool {
		return inv.lots[i].before(inv.lots[j])
	})
	return inv
}

// Add appends a lot. Lots are added in trade order during a replay, so the
// common case is a tail append; out-of-order input is still placed correctly.
func (inv *Inventory) Add(lot *Lot) {
	n := len(inv.lots)
	if n == 0 || inv.lots[n-1].before(lot) {
		inv.lots = append(inv.lots, lot)
		return
	}

	i := sort.Search(n, func(i int) bool { return lot.before(inv.lots[i]) })
	inv.lots = append(inv.lots, nil)
	copy(inv.lots[i+1:], inv.lots[i:])
	inv.lots[i] = lot
}

// Oldest returns the oldest lot with remaining size above the dust threshold,
// discarding fully consumed and dust-only lots in front of it.
func (inv *Inventory) Oldest(dustThreshold decimal.Decimal) *Lot {
	for len(inv.lots) > 0 {
		lot := inv.lots[0]
		if lot.Remaining.GreaterThan(dustThreshold) {
			return lot
		}
		// Consumed or dust remainder: treated as fully consumed, never reallocated.
		inv.lots = inv.lots[1:]
	}
	return nil
}

// Lots returns the remaining lots in order.
func (inv *Inventory) Lots() []*Lot {
	return inv.lots
}

// Len returns the number of open lots.
func (inv *Inventory) Len() int {
	return len(inv.lots)
}

// TotalRemaining sums the remaining size across all lots.
func (inv *Inventory) TotalRemaining() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range inv.lots {
		total = total.Add(lot.Remaining)
	}
	return total
}

// Clone deep-copies the inventory.
func (inv *Inventory) Clone() *Inventory {
	clone := &Inventory{lots: make([]*Lot, len(inv.lots))}
	for i, lot := range inv.lots {
		c := *lot
		clone.lots[i] = &c
	}
	return clone
}
