package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/fifo"
	"github.com/corefin/fifo-engine/internal/ledger"
	"github.com/corefin/fifo-engine/internal/snapshot"
	"github.com/corefin/fifo-engine/internal/storage"
	"github.com/corefin/fifo-engine/internal/validate"
	"github.com/corefin/fifo-engine/internal/version"
	"github.com/corefin/fifo-engine/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Re-validate a published batch",
	Long: `Re-runs all five invariant checks against a stored allocation batch:
size conservation per sell, buy over-allocation, the exact PnL identity,
sell-before-buy causality, and ledger reference integrity. The batch's trades
are re-read from the ledger using the version's snapshot frontier.

With --compare-version the batch is instead compared against another version
of the same symbol. Because FIFO matching is deterministic, two versions
computed over the same ledger slice must agree row for row; differences mean
the ledger changed between runs.

Exits 0 when every check passes, 2 when the only anomalies are unmatched
remainders pending review, and 1 on any violation.`,
	RunE: runValidate,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringP("symbol", "s", "", "Symbol to validate (required)")
	validateCmd.Flags().Int64("version", 0, "Version to validate (defaults to the current pointer)")
	validateCmd.Flags().Int64("compare-version", 0, "Compare against another version instead of checking invariants")
	_ = validateCmd.MarkFlagRequired("symbol")
}

func runValidate(cmd *cobra.Command, args []string) error {
	store, cfg, logger, err := openStorage()
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
		_ = logger.Sync()
	}()

	symbol, _ := cmd.Flags().GetString("symbol")
	pinned, _ := cmd.Flags().GetInt64("version")
	compareTo, _ := cmd.Flags().GetInt64("compare-version")

	ctx := context.Background()

	v := pinned
	if v == 0 {
		pointers := version.NewPointerStore(store.DB(), logger)
		current, found, err := pointers.Current(ctx, symbol)
		if err != nil {
			return fmt.Errorf("resolve current version: %w", err)
		}
		if !found {
			return fmt.Errorf("no version published for %s", symbol)
		}
		v = current
	}

	allocs, err := store.ListAllocations(ctx, symbol, v)
	if err != nil {
		return fmt.Errorf("list allocations: %w", err)
	}

	if compareTo != 0 {
		other, err := store.ListAllocations(ctx, symbol, compareTo)
		if err != nil {
			return fmt.Errorf("list comparison allocations: %w", err)
		}
		return compareVersions(logger, symbol, v, compareTo, allocs, other)
	}

	return checkBatch(ctx, store, cfg, logger, symbol, v, allocs)
}

// checkBatch re-runs the validator's five checks over a stored batch, feeding
// it the same trade slice the batch was computed over.
func checkBatch(ctx context.Context, store *storage.Postgres, cfg *config.Config, logger *zap.Logger, symbol string, v int64, allocs []*fifo.Allocation) error {
	policies, err := loadPolicies(cfg)
	if err != nil {
		return err
	}

	trades := ledger.NewPostgresLedgerFromDB(store.DB(), logger)
	snapshots := snapshot.NewPostgresStore(store.DB(), logger)

	snap, err := snapshots.Load(ctx, symbol, v)
	if err != nil && !errors.Is(err, snapshot.ErrNoSnapshot) {
		return fmt.Errorf("load snapshot: %w", err)
	}

	history, err := trades.FetchTrades(ctx, symbol, nil)
	if err != nil {
		return fmt.Errorf("fetch trades: %w", err)
	}

	report, err := validate.New(policies, trades, logger).Validate(ctx, &validate.Input{
		Symbol:      symbol,
		Trades:      tradesWithinFrontier(history, snap),
		Allocations: allocs,
	})
	if err != nil {
		return fmt.Errorf("validate batch: %w", err)
	}

	code := validationExitCode(report.Outcome())
	switch code {
	case 1:
		logger.Error("validation-failed",
			zap.String("symbol", symbol),
			zap.Int64("version", v),
			zap.Int("violations", len(report.Violations)))
	case 2:
		logger.Warn("validation-partial",
			zap.String("symbol", symbol),
			zap.Int64("version", v),
			zap.Int("unmatched", report.UnmatchedCount))
	default:
		logger.Info("validation-passed",
			zap.String("symbol", symbol),
			zap.Int64("version", v),
			zap.Int("rows", len(allocs)))
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// tradesWithinFrontier keeps the trades the version's batch was computed over,
// using the snapshot's (trade_time, order_id) frontier. A nil snapshot means
// the whole history.
func tradesWithinFrontier(trades []*ledger.Trade, snap *snapshot.Snapshot) []*ledger.Trade {
	if snap == nil {
		return trades
	}

	kept := make([]*ledger.Trade, 0, len(trades))
	for _, t := range trades {
		if t.TradeTime.After(snap.Watermark) {
			continue
		}
		if t.TradeTime.Equal(snap.Watermark) && t.OrderID > snap.LastOrderID {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// validationExitCode maps a report outcome onto the process exit code:
// violations are defects, unmatched remainders alone mean pending review.
func validationExitCode(outcome validate.Outcome) int {
	switch outcome {
	case validate.OutcomeFailed:
		return 1
	case validate.OutcomePartial:
		return 2
	default:
		return 0
	}
}

func compareVersions(logger *zap.Logger, symbol string, v, other int64, left, right []*fifo.Allocation) error {
	leftKeys := allocationKeys(left)
	rightKeys := allocationKeys(right)

	differences := 0
	for key := range leftKeys {
		if !rightKeys[key] {
			differences++
			logger.Error("row-missing-from-comparison",
				zap.Int64("version", other),
				zap.String("row", key))
		}
	}
	for key := range rightKeys {
		if !leftKeys[key] {
			differences++
			logger.Error("row-missing-from-batch",
				zap.Int64("version", v),
				zap.String("row", key))
		}
	}

	if differences > 0 {
		logger.Error("versions-differ",
			zap.String("symbol", symbol),
			zap.Int64("version", v),
			zap.Int64("compare-version", other),
			zap.Int("differences", differences))
		os.Exit(1)
	}

	logger.Info("versions-match",
		zap.String("symbol", symbol),
		zap.Int64("version", v),
		zap.Int64("compare-version", other),
		zap.Int("rows", len(left)))
	return nil
}

func allocationKeys(allocs []*fifo.Allocation) map[string]bool {
	keys := make(map[string]bool, len(allocs))
	for _, a := range allocs {
		pnl := "null"
		if a.PnL.Valid {
			pnl = a.PnL.Decimal.String()
		}
		keys[fmt.Sprintf("%s|%s|%s|%s", a.SellOrderID, a.BuyOrderID, a.AllocatedSize.String(), pnl)] = true
	}
	return keys
}
