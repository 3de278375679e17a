package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgresLedger implements Reader against the append-only trades table.
type PostgresLedger struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresLedger opens a read-only view over the trades table.
func NewPostgresLedger(cfg *PostgresConfig) (*PostgresLedger, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cfg.Logger.Info("ledger-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresLedger{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// NewPostgresLedgerFromDB wraps an existing connection. Used by tests and by
// callers sharing a single pool with the allocation stores.
func NewPostgresLedgerFromDB(db *sql.DB, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{db: db, logger: logger}
}

// FetchTrades returns committed trades for a symbol ordered by (trade_time, order_id).
func (l *PostgresLedger) FetchTrades(ctx context.Context, symbol string, since *time.Time) ([]*Trade, error) {
	query := `
		SELECT order_id, symbol, side, size, price, fees_total, trade_time, ingested_at
		FROM trades
		WHERE symbol = $1
	`
	args := []interface{}{symbol}

	if since != nil {
		query += ` AND trade_time >= $2`
		args = append(args, *since)
	}
	query += ` ORDER BY trade_time, order_id`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}

	l.logger.Debug("trades-fetched",
		zap.String("symbol", symbol),
		zap.Int("count", len(trades)))

	return trades, nil
}

// Symbols returns the distinct symbols present in the ledger.
func (l *PostgresLedger) Symbols(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM trades ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		err = rows.Scan(&s)
		if err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate symbols: %w", err)
	}

	return symbols, nil
}

// CountBackfilled counts late-arriving historical trades that landed at or
// behind a snapshot frontier. The watermark instant itself is included when the
// order id sorts inside the frontier, since the incremental fetch filter would
// silently drop such a trade.
func (l *PostgresLedger) CountBackfilled(ctx context.Context, symbol string, watermark time.Time, lastOrderID string, ingestedAfter time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM trades
		WHERE symbol = $1
		  AND ingested_at > $4
		  AND (trade_time < $2 OR (trade_time = $2 AND order_id <= $3))
	`

	var count int
	err := l.db.QueryRowContext(ctx, query, symbol, watermark, lastOrderID, ingestedAfter).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count backfilled trades: %w", err)
	}

	return count, nil
}

// TradeExists reports whether an order id is present in the ledger.
func (l *PostgresLedger) TradeExists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM trades WHERE order_id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check trade exists: %w", err)
	}
	return exists, nil
}

// Close closes the database connection.
func (l *PostgresLedger) Close() error {
	l.logger.Info("closing-ledger")
	return l.db.Close()
}

func scanTrade(rows *sql.Rows) (*Trade, error) {
	var (
		trade                      Trade
		side                       string
		sizeStr, priceStr, feesStr string
	)

	err := rows.Scan(
		&trade.OrderID,
		&trade.Symbol,
		&side,
		&sizeStr,
		&priceStr,
		&feesStr,
		&trade.TradeTime,
		&trade.IngestedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}

	trade.Side = Side(side)

	trade.Size, err = decimal.NewFromString(sizeStr)
	if err != nil {
		return nil, fmt.Errorf("parse size for trade %s: %w", trade.OrderID, err)
	}
	trade.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parse price for trade %s: %w", trade.OrderID, err)
	}
	trade.FeesTotal, err = decimal.NewFromString(feesStr)
	if err != nil {
		return nil, fmt.Errorf("parse fees for trade %s: %w", trade.OrderID, err)
	}

	err = trade.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid trade row: %w", err)
	}

	return &trade, nil
}
