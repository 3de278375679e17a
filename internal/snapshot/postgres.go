package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/fifo"
)

// PostgresStore implements Store on the inventory_snapshots table. One row per
// open lot; the watermark columns repeat per row and must agree within a
// (symbol, version) group.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// Load returns the snapshot for (symbol, version), or ErrNoSnapshot.
func (s *PostgresStore) Load(ctx context.Context, symbol string, version int64) (*Snapshot, error) {
	query := `
		SELECT buy_order_id, price, fee_per_unit, remaining_size, trade_time,
		       watermark, last_order_id, created_at
		FROM inventory_snapshots
		WHERE symbol = $1 AND version = $2
		ORDER BY trade_time, buy_order_id
	`

	rows, err := s.db.QueryContext(ctx, query, symbol, version)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	snap := &Snapshot{
		Symbol:  symbol,
		Version: version,
	}

	for rows.Next() {
		var (
			lot                      fifo.Lot
			priceStr, feeStr, remStr string
			watermark, createdAt     time.Time
			lastOrderID              string
		)

		err = rows.Scan(&lot.OrderID, &priceStr, &feeStr, &remStr, &lot.TradeTime,
			&watermark, &lastOrderID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}

		lot.Price, err = decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price for lot %s: %w", lot.OrderID, err)
		}
		lot.FeePerUnit, err = decimal.NewFromString(feeStr)
		if err != nil {
			return nil, fmt.Errorf("parse fee for lot %s: %w", lot.OrderID, err)
		}
		lot.Remaining, err = decimal.NewFromString(remStr)
		if err != nil {
			return nil, fmt.Errorf("parse remaining for lot %s: %w", lot.OrderID, err)
		}

		snap.Watermark = watermark
		snap.LastOrderID = lastOrderID
		snap.CreatedAt = createdAt
		snap.Lots = append(snap.Lots, &lot)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}

	if len(snap.Lots) == 0 {
		// Distinguish "no snapshot" from "snapshot with empty inventory" via
		// the sentinel row written by Save.
		var exists bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM snapshot_meta WHERE symbol = $1 AND version = $2)`,
			symbol, version).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check snapshot meta: %w", err)
		}
		if !exists {
			return nil, ErrNoSnapshot
		}

		err = s.db.QueryRowContext(ctx,
			`SELECT watermark, last_order_id, created_at FROM snapshot_meta WHERE symbol = $1 AND version = $2`,
			symbol, version).Scan(&snap.Watermark, &snap.LastOrderID, &snap.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("load snapshot meta: %w", err)
		}
	}

	s.logger.Debug("snapshot-loaded",
		zap.String("symbol", symbol),
		zap.Int64("version", version),
		zap.Int("lots", len(snap.Lots)))

	return snap, nil
}

// Save replaces the snapshot for (symbol, version) inside a transaction.
func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	err = SaveTx(ctx, tx, snap)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}

	s.logger.Debug("snapshot-saved",
		zap.String("symbol", snap.Symbol),
		zap.Int64("version", snap.Version),
		zap.Int("lots", len(snap.Lots)))

	return nil
}

// SaveTx writes a snapshot inside an existing transaction. Used by the batch
// commit path so the snapshot lands atomically with the allocation rows.
func SaveTx(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM inventory_snapshots WHERE symbol = $1 AND version = $2`,
		snap.Symbol, snap.Version)
	if err != nil {
		return fmt.Errorf("clear snapshot rows: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshot_meta (symbol, version, watermark, last_order_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol, version) DO UPDATE
		SET watermark = EXCLUDED.watermark,
		    last_order_id = EXCLUDED.last_order_id,
		    created_at = EXCLUDED.created_at
	`, snap.Symbol, snap.Version, snap.Watermark, snap.LastOrderID, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert snapshot meta: %w", err)
	}

	for _, lot := range snap.Lots {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_snapshots (
				symbol, version, buy_order_id, price, fee_per_unit,
				remaining_size, trade_time, watermark, last_order_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, snap.Symbol, snap.Version, lot.OrderID,
			lot.Price.String(), lot.FeePerUnit.String(), lot.Remaining.String(),
			lot.TradeTime, snap.Watermark, snap.LastOrderID, snap.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert snapshot lot %s: %w", lot.OrderID, err)
		}
	}

	return nil
}
