package version

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PointerStore reads the current-version control table. It is the sole read
// authority for which allocation batch consumers should see: a version exists
// the moment its pointer row does, and not before.
type PointerStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPointerStore wraps an existing pool.
func NewPointerStore(db *sql.DB, logger *zap.Logger) *PointerStore {
	return &PointerStore{db: db, logger: logger}
}

// Current returns the published version for a symbol. The second return is
// false when no version has ever been published.
func (s *PointerStore) Current(ctx context.Context, symbol string) (int64, bool, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT version FROM current_versions WHERE symbol = $1
	`, symbol).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query current version: %w", err)
	}
	return version, true, nil
}

// UpdatedAt returns when the pointer for a symbol last moved.
func (s *PointerStore) UpdatedAt(ctx context.Context, symbol string) (time.Time, bool, error) {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT updated_at FROM current_versions WHERE symbol = $1
	`, symbol).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query pointer updated_at: %w", err)
	}
	return updatedAt, true, nil
}
