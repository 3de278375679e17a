package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/app"
	"github.com/corefin/fifo-engine/internal/engine"
	"github.com/corefin/fifo-engine/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Run an allocation computation",
	Long: `Computes FIFO allocations for one symbol or for every symbol with
trades in the ledger.

Incremental runs continue from the last inventory snapshot and escalate to a
full replay when backfilled trades invalidate it. A full run replays the
entire trade history into a fresh version.

Exit codes: 0 when the run completed, 2 when it completed with unmatched
remainders (partial), 1 on failure.`,
	RunE: runCompute,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(computeCmd)
	computeCmd.Flags().StringP("symbol", "s", "", "Symbol to compute (e.g. BTC-USD)")
	computeCmd.Flags().Bool("all-symbols", false, "Compute every symbol with ledger trades")
	computeCmd.Flags().Bool("incremental", false, "Continue from the last snapshot instead of replaying history")
	computeCmd.Flags().String("since", "", "Lower bound for incremental trades (RFC3339); the snapshot watermark still governs")
	computeCmd.Flags().Bool("force-full", false, "Force a full replay even when a valid snapshot exists")
}

func runCompute(cmd *cobra.Command, args []string) error {
	loadEnv()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	symbol, _ := cmd.Flags().GetString("symbol")
	allSymbols, _ := cmd.Flags().GetBool("all-symbols")
	incremental, _ := cmd.Flags().GetBool("incremental")
	sinceRaw, _ := cmd.Flags().GetString("since")
	forceFull, _ := cmd.Flags().GetBool("force-full")

	if symbol == "" && !allSymbols {
		return fmt.Errorf("either --symbol or --all-symbols is required")
	}
	if incremental && forceFull {
		return fmt.Errorf("--incremental and --force-full are mutually exclusive")
	}
	if sinceRaw != "" && !incremental {
		return fmt.Errorf("--since requires --incremental")
	}

	var since *time.Time
	if sinceRaw != "" {
		parsed, err := time.Parse(time.RFC3339, sinceRaw)
		if err != nil {
			return fmt.Errorf("parse --since: %w", err)
		}
		since = &parsed
	}

	application, err := app.New(cfg, logger, &app.Options{DisableScheduler: true})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer func() {
		_ = application.Storage().Close()
	}()

	orchestrator := application.Orchestrator()
	ctx := context.Background()

	if allSymbols {
		runs, err := orchestrator.ComputeAll(ctx, !incremental)
		if err != nil {
			return fmt.Errorf("compute all symbols: %w", err)
		}
		reportRuns(logger, runs)
		exitForRuns(runs)
		return nil
	}

	var run *engine.Run
	if incremental && since != nil {
		run, err = orchestrator.ComputeIncrementalSince(ctx, symbol, *since)
	} else if incremental {
		run, err = orchestrator.ComputeIncremental(ctx, symbol)
	} else {
		run, err = orchestrator.ComputeFull(ctx, symbol)
	}
	if err != nil {
		if errors.Is(err, engine.ErrRunInProgress) {
			return fmt.Errorf("a run is already in progress for %s", symbol)
		}
		return fmt.Errorf("compute %s: %w", symbol, err)
	}

	reportRuns(logger, []*engine.Run{run})
	exitForRuns([]*engine.Run{run})
	return nil
}

func reportRuns(logger *zap.Logger, runs []*engine.Run) {
	for _, run := range runs {
		logger.Info("run-finished",
			zap.String("symbol", run.Symbol),
			zap.String("batch-id", run.BatchID),
			zap.String("run-type", string(run.Type)),
			zap.Int64("version", run.Version),
			zap.String("status", string(run.Status)),
			zap.Int("trades-processed", run.TradesProcessed),
			zap.Int("allocations-produced", run.AllocationsProduced),
			zap.Int("unmatched", run.UnmatchedCount))
	}
}

func exitForRuns(runs []*engine.Run) {
	if code := worstExitCode(runs); code != 0 {
		os.Exit(code)
	}
}

// worstExitCode maps run outcomes onto process exit codes: failed beats
// partial, partial beats completed.
func worstExitCode(runs []*engine.Run) int {
	worst := 0
	for _, run := range runs {
		switch run.Status {
		case engine.RunStatusFailed:
			worst = 1
		case engine.RunStatusPartial:
			if worst == 0 {
				worst = 2
			}
		}
	}
	return worst
}
