package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/engine"
	"github.com/corefin/fifo-engine/internal/fifo"
	"github.com/corefin/fifo-engine/internal/ledger"
	"github.com/corefin/fifo-engine/internal/precision"
	"github.com/corefin/fifo-engine/internal/snapshot"
	"github.com/corefin/fifo-engine/internal/testutil"
	"github.com/corefin/fifo-engine/internal/validate"
)

func TestWorstExitCode(t *testing.T) {
	tests := []struct {
		name     string
		statuses []engine.RunStatus
		want     int
	}{
		{"all completed", []engine.RunStatus{engine.RunStatusCompleted, engine.RunStatusCompleted}, 0},
		{"partial", []engine.RunStatus{engine.RunStatusCompleted, engine.RunStatusPartial}, 2},
		{"failed", []engine.RunStatus{engine.RunStatusFailed}, 1},
		{"failed beats partial", []engine.RunStatus{engine.RunStatusPartial, engine.RunStatusFailed}, 1},
		{"no runs", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := make([]*engine.Run, 0, len(tt.statuses))
			for _, s := range tt.statuses {
				runs = append(runs, &engine.Run{Status: s})
			}
			assert.Equal(t, tt.want, worstExitCode(runs))
		})
	}
}

func TestAllocationKeys(t *testing.T) {
	matched := &fifo.Allocation{
		SellOrderID:   "sell-1",
		BuyOrderID:    "buy-1",
		AllocatedSize: decimal.RequireFromString("0.5"),
		PnL:           decimal.NullDecimal{Decimal: decimal.RequireFromString("10"), Valid: true},
	}
	unmatched := &fifo.Allocation{
		SellOrderID:   "sell-2",
		AllocatedSize: decimal.RequireFromString("1"),
	}

	keys := allocationKeys([]*fifo.Allocation{matched, unmatched})
	assert.Len(t, keys, 2)
	assert.True(t, keys["sell-1|buy-1|0.5|10"])
	assert.True(t, keys["sell-2||1|null"], "unmatched rows key with empty buy and null pnl")

	// Content equality is order independent.
	reversed := allocationKeys([]*fifo.Allocation{unmatched, matched})
	assert.Equal(t, keys, reversed)
}

func TestTradesWithinFrontier(t *testing.T) {
	all := []*ledger.Trade{
		testutil.Buy("buy-1", "BTC-USD", "1", "100", "0", 0),
		testutil.Buy("buy-2", "BTC-USD", "1", "101", "0", time.Minute),
		testutil.Buy("buy-3", "BTC-USD", "1", "102", "0", time.Minute),
		testutil.Sell("sell-1", "BTC-USD", "1", "110", "0", 2*time.Minute),
	}
	snap := &snapshot.Snapshot{
		Symbol:      "BTC-USD",
		Watermark:   testutil.BaseTime.Add(time.Minute),
		LastOrderID: "buy-2",
	}

	kept := tradesWithinFrontier(all, snap)
	require.Len(t, kept, 2)
	assert.Equal(t, "buy-1", kept[0].OrderID)
	assert.Equal(t, "buy-2", kept[1].OrderID, "watermark instant kept up to the frontier order id")

	assert.Len(t, tradesWithinFrontier(all, nil), 4, "nil snapshot means the whole history")
}

// A stored batch whose only anomalies are unmatched remainders maps to exit 2;
// any violated check maps to exit 1.
func TestValidationExitCode(t *testing.T) {
	trades := []*ledger.Trade{
		testutil.Buy("buy-1", "BTC-USD", "0.5", "100", "0", 0),
		testutil.Sell("sell-1", "BTC-USD", "0.5", "110", "0", time.Minute),
		testutil.Sell("sell-2", "BTC-USD", "1", "120", "0", 2*time.Minute),
	}
	mem := testutil.NewMemoryLedger(trades...)

	matched := &fifo.Allocation{
		SellOrderID:   "sell-1",
		BuyOrderID:    "buy-1",
		Symbol:        "BTC-USD",
		AllocatedSize: decimal.RequireFromString("0.5"),
		CostBasis:     decimal.RequireFromString("50"),
		Proceeds:      decimal.RequireFromString("55"),
		NetProceeds:   decimal.RequireFromString("55"),
		PnL:           decimal.NullDecimal{Decimal: decimal.RequireFromString("5"), Valid: true},
		BuyTime:       testutil.BaseTime,
		SellTime:      testutil.BaseTime.Add(time.Minute),
	}
	unmatched := &fifo.Allocation{
		SellOrderID:   "sell-2",
		Symbol:        "BTC-USD",
		AllocatedSize: decimal.RequireFromString("1"),
		SellTime:      testutil.BaseTime.Add(2 * time.Minute),
	}

	validator := validate.New(precision.NewSet(precision.DefaultPolicy(), nil), mem, zap.NewNop())

	report, err := validator.Validate(context.Background(), &validate.Input{
		Symbol:      "BTC-USD",
		Trades:      trades,
		Allocations: []*fifo.Allocation{matched, unmatched},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, validationExitCode(report.Outcome()), "remainders alone mean pending review")

	// A tampered stored pnl breaks the identity and becomes a defect.
	matched.PnL.Decimal = decimal.RequireFromString("6")
	report, err = validator.Validate(context.Background(), &validate.Input{
		Symbol:      "BTC-USD",
		Trades:      trades,
		Allocations: []*fifo.Allocation{matched, unmatched},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, validationExitCode(report.Outcome()))
}
