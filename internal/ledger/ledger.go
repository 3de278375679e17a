package ledger

import (
	"context"
	"time"
)

// Reader is the engine's read-only contract with the trade ledger. Implementations
// must return only fully committed, immutable trades, ordered by
// (trade_time, order_id).
type Reader interface {
	// FetchTrades returns all trades for a symbol, or only those with
	// trade_time >= *since when since is non-nil.
	FetchTrades(ctx context.Context, symbol string, since *time.Time) ([]*Trade, error)

	// Symbols returns every symbol present in the ledger.
	Symbols(ctx context.Context) ([]string, error)

	// CountBackfilled counts trades at or behind the (watermark, lastOrderID)
	// frontier that were ingested after ingestedAfter. A nonzero count means a
	// historical backfill landed inside a snapshot and incremental continuation
	// is unsafe.
	CountBackfilled(ctx context.Context, symbol string, watermark time.Time, lastOrderID string, ingestedAfter time.Time) (int, error)

	// TradeExists reports whether a trade with the given order id exists.
	TradeExists(ctx context.Context, orderID string) (bool, error)

	// Close releases the underlying connection.
	Close() error
}
