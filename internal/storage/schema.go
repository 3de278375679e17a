package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the persisted layout: an append-only trade ledger, append-only
// allocations partitioned logically by version/batch, one computation-log row
// per run, per-lot inventory snapshots, and the current-version control table.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		order_id    TEXT PRIMARY KEY,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
		size        NUMERIC NOT NULL CHECK (size > 0),
		price       NUMERIC NOT NULL CHECK (price > 0),
		fees_total  NUMERIC NOT NULL DEFAULT 0 CHECK (fees_total >= 0),
		trade_time  TIMESTAMPTZ NOT NULL,
		ingested_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS trades_symbol_time_idx
		ON trades (symbol, trade_time, order_id)`,
	`CREATE INDEX IF NOT EXISTS trades_backfill_idx
		ON trades (symbol, ingested_at)`,

	`CREATE TABLE IF NOT EXISTS allocations (
		id                BIGSERIAL PRIMARY KEY,
		sell_order_id     TEXT NOT NULL,
		buy_order_id      TEXT,
		symbol            TEXT NOT NULL,
		allocated_size    NUMERIC NOT NULL CHECK (allocated_size > 0),
		buy_price         NUMERIC,
		sell_price        NUMERIC NOT NULL,
		buy_fee_per_unit  NUMERIC,
		sell_fee_per_unit NUMERIC NOT NULL,
		cost_basis        NUMERIC,
		proceeds          NUMERIC,
		net_proceeds      NUMERIC,
		pnl               NUMERIC,
		buy_time          TIMESTAMPTZ,
		sell_time         TIMESTAMPTZ NOT NULL,
		version           BIGINT NOT NULL,
		batch_id          UUID NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS allocations_symbol_version_idx
		ON allocations (symbol, version)`,
	`CREATE INDEX IF NOT EXISTS allocations_batch_idx
		ON allocations (batch_id)`,

	`CREATE TABLE IF NOT EXISTS computation_runs (
		batch_id             UUID PRIMARY KEY,
		symbol               TEXT NOT NULL,
		run_type             TEXT NOT NULL CHECK (run_type IN ('full', 'incremental')),
		version              BIGINT NOT NULL,
		status               TEXT NOT NULL CHECK
			(status IN ('running', 'validating', 'completed', 'partial', 'failed')),
		trades_processed     INT NOT NULL DEFAULT 0,
		allocations_produced INT NOT NULL DEFAULT 0,
		unmatched_count      INT NOT NULL DEFAULT 0,
		error_detail         TEXT NOT NULL DEFAULT '',
		started_at           TIMESTAMPTZ NOT NULL,
		finished_at          TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS computation_runs_symbol_idx
		ON computation_runs (symbol, started_at DESC)`,

	`CREATE TABLE IF NOT EXISTS inventory_snapshots (
		symbol         TEXT NOT NULL,
		version        BIGINT NOT NULL,
		buy_order_id   TEXT NOT NULL,
		price          NUMERIC NOT NULL,
		fee_per_unit   NUMERIC NOT NULL,
		remaining_size NUMERIC NOT NULL,
		trade_time     TIMESTAMPTZ NOT NULL,
		watermark      TIMESTAMPTZ NOT NULL,
		last_order_id  TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (symbol, version, buy_order_id)
	)`,

	`CREATE TABLE IF NOT EXISTS snapshot_meta (
		symbol        TEXT NOT NULL,
		version       BIGINT NOT NULL,
		watermark     TIMESTAMPTZ NOT NULL,
		last_order_id TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (symbol, version)
	)`,

	`CREATE TABLE IF NOT EXISTS current_versions (
		symbol     TEXT PRIMARY KEY,
		version    BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
