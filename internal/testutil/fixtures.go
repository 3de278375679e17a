package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/corefin/fifo-engine/internal/ledger"
)

// BaseTime anchors fixture timestamps.
var BaseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// Buy builds a buy trade fixture.
func Buy(orderID, symbol, size, price, fees string, offset time.Duration) *ledger.Trade {
	return tradeFixture(orderID, symbol, ledger.SideBuy, size, price, fees, offset)
}

// Sell builds a sell trade fixture.
func Sell(orderID, symbol, size, price, fees string, offset time.Duration) *ledger.Trade {
	return tradeFixture(orderID, symbol, ledger.SideSell, size, price, fees, offset)
}

func tradeFixture(orderID, symbol string, side ledger.Side, size, price, fees string, offset time.Duration) *ledger.Trade {
	return &ledger.Trade{
		OrderID:    orderID,
		Symbol:     symbol,
		Side:       side,
		Size:       decimal.RequireFromString(size),
		Price:      decimal.RequireFromString(price),
		FeesTotal:  decimal.RequireFromString(fees),
		TradeTime:  BaseTime.Add(offset),
		IngestedAt: BaseTime.Add(offset),
	}
}
