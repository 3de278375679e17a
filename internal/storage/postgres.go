package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/engine"
	"github.com/corefin/fifo-engine/internal/fifo"
	"github.com/corefin/fifo-engine/internal/snapshot"
)

// Postgres holds the engine's writable tables: allocations, computation_runs,
// inventory snapshots, and the current-version control table. It implements
// engine.RunStore and the transactional commit the version publisher drives.
type Postgres struct {
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

// NewPostgres opens a connection pool.
func NewPostgres(cfg *PostgresConfig) (*Postgres, error) {
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

	cfg.Logger.Info("storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &Postgres{db: db, logger: cfg.Logger}, nil
}

// NewPostgresFromDB wraps an existing pool. Used by tests and by callers
// sharing one pool across the ledger and snapshot stores.
func NewPostgresFromDB(db *sql.DB, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// DB exposes the underlying pool for co-located stores.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// CreateRun inserts a run row with status running.
func (p *Postgres) CreateRun(ctx context.Context, run *engine.Run) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO computation_runs (
			batch_id, symbol, run_type, version, status,
			trades_processed, allocations_produced, unmatched_count,
			error_detail, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, run.BatchID, run.Symbol, string(run.Type), run.Version, string(run.Status),
		run.TradesProcessed, run.AllocationsProduced, run.UnmatchedCount,
		run.ErrorDetail, run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// MarkRunFailed finalizes a run as failed. No allocation rows are written on
// this path, so nothing partial ever becomes visible.
func (p *Postgres) MarkRunFailed(ctx context.Context, batchID, detail string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE computation_runs
		SET status = 'failed', error_detail = $2, finished_at = now()
		WHERE batch_id = $1
	`, batchID, detail)
	if err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}
	return nil
}

// NextVersion allocates the next per-symbol version from the computation log.
// Versions are never inferred from allocation rows.
func (p *Postgres) NextVersion(ctx context.Context, symbol string) (int64, error) {
	var version int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM computation_runs WHERE symbol = $1
	`, symbol).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	return version, nil
}

// CommitBatch writes a run's outcome in one transaction: allocation rows, the
// refreshed snapshot, the final run status, and, when advancePointer is set,
// the current-version pointer. Readers observe all of it or none of it.
func (p *Postgres) CommitBatch(ctx context.Context, req *engine.CommitRequest, advancePointer bool) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, alloc := range req.Allocations {
		err = insertAllocation(ctx, tx, alloc)
		if err != nil {
			return err
		}
	}

	if req.Snapshot != nil {
		err = snapshot.SaveTx(ctx, tx, req.Snapshot)
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE computation_runs
		SET status = $2, trades_processed = $3, allocations_produced = $4,
		    unmatched_count = $5, finished_at = $6
		WHERE batch_id = $1
	`, req.Run.BatchID, string(req.Run.Status), req.Run.TradesProcessed,
		req.Run.AllocationsProduced, req.Run.UnmatchedCount, req.Run.FinishedAt)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}

	if advancePointer {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO current_versions (symbol, version, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (symbol) DO UPDATE
			SET version = EXCLUDED.version, updated_at = now()
		`, req.Run.Symbol, req.Run.Version)
		if err != nil {
			return fmt.Errorf("advance current version: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit batch tx: %w", err)
	}

	p.logger.Info("batch-committed",
		zap.String("symbol", req.Run.Symbol),
		zap.String("batch-id", req.Run.BatchID),
		zap.Int64("version", req.Run.Version),
		zap.Int("allocations", len(req.Allocations)),
		zap.Bool("pointer-advanced", advancePointer))
	BatchesCommittedTotal.Inc()
	AllocationsStoredTotal.Add(float64(len(req.Allocations)))

	return nil
}

func insertAllocation(ctx context.Context, tx *sql.Tx, a *fifo.Allocation) error {
	var (
		buyOrderID    sql.NullString
		buyPrice      sql.NullString
		buyFeePerUnit sql.NullString
		costBasis     sql.NullString
		proceeds      sql.NullString
		netProceeds   sql.NullString
		pnl           sql.NullString
		buyTime       sql.NullTime
	)
	if a.Matched() {
		buyOrderID = sql.NullString{String: a.BuyOrderID, Valid: true}
		buyPrice = sql.NullString{String: a.BuyPrice.String(), Valid: true}
		buyFeePerUnit = sql.NullString{String: a.BuyFeePerUnit.String(), Valid: true}
		costBasis = sql.NullString{String: a.CostBasis.String(), Valid: true}
		proceeds = sql.NullString{String: a.Proceeds.String(), Valid: true}
		netProceeds = sql.NullString{String: a.NetProceeds.String(), Valid: true}
		buyTime = sql.NullTime{Time: a.BuyTime, Valid: true}
	}
	if a.PnL.Valid {
		pnl = sql.NullString{String: a.PnL.Decimal.String(), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO allocations (
			sell_order_id, buy_order_id, symbol, allocated_size,
			buy_price, sell_price, buy_fee_per_unit, sell_fee_per_unit,
			cost_basis, proceeds, net_proceeds, pnl,
			buy_time, sell_time, version, batch_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, a.SellOrderID, buyOrderID, a.Symbol, a.AllocatedSize.String(),
		buyPrice, a.SellPrice.String(), buyFeePerUnit, a.SellFeePerUnit.String(),
		costBasis, proceeds, netProceeds, pnl,
		buyTime, a.SellTime, a.Version, a.BatchID)
	if err != nil {
		return fmt.Errorf("insert allocation for sell %s: %w", a.SellOrderID, err)
	}
	return nil
}

// ListAllocations returns the rows for (symbol, version) in insertion order.
func (p *Postgres) ListAllocations(ctx context.Context, symbol string, version int64) ([]*fifo.Allocation, error) {
	return p.listAllocations(ctx, `
		SELECT sell_order_id, buy_order_id, symbol, allocated_size,
		       buy_price, sell_price, buy_fee_per_unit, sell_fee_per_unit,
		       cost_basis, proceeds, net_proceeds, pnl,
		       buy_time, sell_time, version, batch_id
		FROM allocations
		WHERE symbol = $1 AND version = $2
		ORDER BY id
	`, symbol, version)
}

// ListUnmatched returns only unmatched-remainder rows for (symbol, version),
// the manual-review list for flagged anomalies.
func (p *Postgres) ListUnmatched(ctx context.Context, symbol string, version int64) ([]*fifo.Allocation, error) {
	return p.listAllocations(ctx, `
		SELECT sell_order_id, buy_order_id, symbol, allocated_size,
		       buy_price, sell_price, buy_fee_per_unit, sell_fee_per_unit,
		       cost_basis, proceeds, net_proceeds, pnl,
		       buy_time, sell_time, version, batch_id
		FROM allocations
		WHERE symbol = $1 AND version = $2 AND buy_order_id IS NULL
		ORDER BY id
	`, symbol, version)
}

func (p *Postgres) listAllocations(ctx context.Context, query string, args ...interface{}) ([]*fifo.Allocation, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer rows.Close()

	var allocs []*fifo.Allocation
	for rows.Next() {
		alloc, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		allocs = append(allocs, alloc)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}

	return allocs, nil
}

func scanAllocation(rows *sql.Rows) (*fifo.Allocation, error) {
	var (
		a            fifo.Allocation
		buyOrderID   sql.NullString
		sizeStr      string
		buyPrice     sql.NullString
		sellPriceStr string
		buyFee       sql.NullString
		sellFeeStr   string
		costBasis    sql.NullString
		proceeds     sql.NullString
		netProceeds  sql.NullString
		pnl          sql.NullString
		buyTime      sql.NullTime
	)

	err := rows.Scan(&a.SellOrderID, &buyOrderID, &a.Symbol, &sizeStr,
		&buyPrice, &sellPriceStr, &buyFee, &sellFeeStr,
		&costBasis, &proceeds, &netProceeds, &pnl,
		&buyTime, &a.SellTime, &a.Version, &a.BatchID)
	if err != nil {
		return nil, fmt.Errorf("scan allocation: %w", err)
	}

	a.AllocatedSize, err = decimal.NewFromString(sizeStr)
	if err != nil {
		return nil, fmt.Errorf("parse allocated size: %w", err)
	}
	a.SellPrice, err = decimal.NewFromString(sellPriceStr)
	if err != nil {
		return nil, fmt.Errorf("parse sell price: %w", err)
	}
	a.SellFeePerUnit, err = decimal.NewFromString(sellFeeStr)
	if err != nil {
		return nil, fmt.Errorf("parse sell fee: %w", err)
	}

	if buyOrderID.Valid {
		a.BuyOrderID = buyOrderID.String
		a.BuyPrice, err = parseNullDecimal(buyPrice)
		if err != nil {
			return nil, fmt.Errorf("parse buy price: %w", err)
		}
		a.BuyFeePerUnit, err = parseNullDecimal(buyFee)
		if err != nil {
			return nil, fmt.Errorf("parse buy fee: %w", err)
		}
		a.CostBasis, err = parseNullDecimal(costBasis)
		if err != nil {
			return nil, fmt.Errorf("parse cost basis: %w", err)
		}
		a.Proceeds, err = parseNullDecimal(proceeds)
		if err != nil {
			return nil, fmt.Errorf("parse proceeds: %w", err)
		}
		a.NetProceeds, err = parseNullDecimal(netProceeds)
		if err != nil {
			return nil, fmt.Errorf("parse net proceeds: %w", err)
		}
		a.BuyTime = buyTime.Time
	}

	if pnl.Valid {
		p, err := decimal.NewFromString(pnl.String)
		if err != nil {
			return nil, fmt.Errorf("parse pnl: %w", err)
		}
		a.PnL = decimal.NullDecimal{Decimal: p, Valid: true}
	}

	return &a, nil
}

func parseNullDecimal(ns sql.NullString) (decimal.Decimal, error) {
	if !ns.Valid {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(ns.String)
}

// ListRuns returns the computation log for a symbol, newest first.
func (p *Postgres) ListRuns(ctx context.Context, symbol string, limit int) ([]*engine.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT batch_id, symbol, run_type, version, status,
		       trades_processed, allocations_produced, unmatched_count,
		       error_detail, started_at, finished_at
		FROM computation_runs
		WHERE symbol = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*engine.Run
	for rows.Next() {
		var (
			run        engine.Run
			runType    string
			status     string
			finishedAt sql.NullTime
		)
		err = rows.Scan(&run.BatchID, &run.Symbol, &runType, &run.Version, &status,
			&run.TradesProcessed, &run.AllocationsProduced, &run.UnmatchedCount,
			&run.ErrorDetail, &run.StartedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Type = engine.RunType(runType)
		run.Status = engine.RunStatus(status)
		if finishedAt.Valid {
			run.FinishedAt = finishedAt.Time
		}
		runs = append(runs, &run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.logger.Info("closing-storage")
	return p.db.Close()
}
