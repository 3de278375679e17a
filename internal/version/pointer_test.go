package version

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPointerStore(t *testing.T) (*PointerStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPointerStore(db, zap.NewNop()), mock
}

func TestPointerStore_Current(t *testing.T) {
	store, mock := newTestPointerStore(t)

	mock.ExpectQuery("SELECT version FROM current_versions").
		WithArgs("BTC-USD").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(9)))

	version, found, err := store.Current(context.Background(), "BTC-USD")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(9), version)
}

func TestPointerStore_CurrentNoVersion(t *testing.T) {
	store, mock := newTestPointerStore(t)

	mock.ExpectQuery("SELECT version FROM current_versions").
		WithArgs("ETH-USD").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	_, found, err := store.Current(context.Background(), "ETH-USD")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPointerStore_UpdatedAt(t *testing.T) {
	store, mock := newTestPointerStore(t)

	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT updated_at FROM current_versions").
		WithArgs("BTC-USD").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(updated))

	got, found, err := store.UpdatedAt(context.Background(), "BTC-USD")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, updated, got)
}
