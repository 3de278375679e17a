package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/fifo"
	"github.com/corefin/fifo-engine/internal/ledger"
	"github.com/corefin/fifo-engine/internal/snapshot"
	"github.com/corefin/fifo-engine/internal/validate"
)

// Orchestrator drives computation runs: it decides incremental vs. full,
// holds the per-symbol run lock, feeds the matcher, coordinates validation,
// and hands validated batches to the publisher.
type Orchestrator struct {
	ledger    ledger.Reader
	matcher   *fifo.Matcher
	validator *validate.Validator
	snapshots snapshot.Store
	runs      RunStore
	versions  VersionStore
	publisher Publisher
	locks     *LockRegistry
	config    Config
	logger    *zap.Logger
}

// Config holds orchestrator tuning.
type Config struct {
	MaxRetries        int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryBackoffMult  float64
	RunTimeout        time.Duration
	ParallelSymbols   int // worker bound for all-symbols fan-out
	Logger            *zap.Logger
}

// New creates an orchestrator.
func New(
	cfg Config,
	ledgerReader ledger.Reader,
	matcher *fifo.Matcher,
	validator *validate.Validator,
	snapshots snapshot.Store,
	runs RunStore,
	versions VersionStore,
	publisher Publisher,
) *Orchestrator {
	return &Orchestrator{
		ledger:    ledgerReader,
		matcher:   matcher,
		validator: validator,
		snapshots: snapshots,
		runs:      runs,
		versions:  versions,
		publisher: publisher,
		locks:     NewLockRegistry(),
		config:    cfg,
		logger:    cfg.Logger,
	}
}

// ComputeFull replays the entire trade history for a symbol into a new version.
// Returns ErrRunInProgress when the symbol's lock is held.
func (o *Orchestrator) ComputeFull(ctx context.Context, symbol string) (*Run, error) {
	if !o.locks.TryAcquire(symbol) {
		RunsRejectedTotal.Inc()
		return nil, fmt.Errorf("symbol %s: %w", symbol, ErrRunInProgress)
	}
	defer o.locks.Release(symbol)

	ctx, cancel := o.runContext(ctx)
	defer cancel()

	return o.runFull(ctx, symbol)
}

// ComputeIncremental continues from the latest valid snapshot, extending the
// current version. It transparently escalates to a full recomputation when no
// published version or valid snapshot exists, or when a late-arriving backfill
// crossed the snapshot watermark.
func (o *Orchestrator) ComputeIncremental(ctx context.Context, symbol string) (*Run, error) {
	return o.computeIncremental(ctx, symbol, nil)
}

// ComputeIncrementalSince is ComputeIncremental with an explicit lower bound.
// The snapshot watermark stays authoritative: anything earlier is already
// folded into the snapshot and anything later would leave a gap, so a bound
// that disagrees with the watermark is logged and the watermark wins.
func (o *Orchestrator) ComputeIncrementalSince(ctx context.Context, symbol string, since time.Time) (*Run, error) {
	return o.computeIncremental(ctx, symbol, &since)
}

func (o *Orchestrator) computeIncremental(ctx context.Context, symbol string, since *time.Time) (*Run, error) {
	if !o.locks.TryAcquire(symbol) {
		RunsRejectedTotal.Inc()
		return nil, fmt.Errorf("symbol %s: %w", symbol, ErrRunInProgress)
	}
	defer o.locks.Release(symbol)

	ctx, cancel := o.runContext(ctx)
	defer cancel()

	snap, version, ok, err := o.loadValidSnapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return o.runFull(ctx, symbol)
	}

	if since != nil && !since.Equal(snap.Watermark) {
		o.logger.Warn("since-overridden-by-watermark",
			zap.String("symbol", symbol),
			zap.Time("since", *since),
			zap.Time("watermark", snap.Watermark))
	}

	return o.runIncremental(ctx, symbol, version, snap)
}

// ComputeAll runs every symbol in the ledger, full or incremental, with a
// bounded worker set. Lock conflicts are skipped and reported, not fatal;
// failed runs are returned alongside successful ones.
func (o *Orchestrator) ComputeAll(ctx context.Context, full bool) ([]*Run, error) {
	var symbols []string
	err := o.withRetry(ctx, "list-symbols", func() error {
		var ferr error
		symbols, ferr = o.ledger.Symbols(ctx)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	workers := o.config.ParallelSymbols
	if workers <= 0 {
		workers = 4
	}

	var (
		mu   sync.Mutex
		runs []*Run
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, workers)

	for _, symbol := range symbols {
		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			var (
				run  *Run
				rerr error
			)
			if full {
				run, rerr = o.ComputeFull(ctx, symbol)
			} else {
				run, rerr = o.ComputeIncremental(ctx, symbol)
			}

			if rerr != nil {
				if errors.Is(rerr, ErrRunInProgress) {
					o.logger.Warn("symbol-skipped-run-in-progress", zap.String("symbol", symbol))
					return
				}
				o.logger.Error("symbol-run-failed",
					zap.String("symbol", symbol),
					zap.Error(rerr))
				// The failed run still lands in the result so callers see
				// the failure, not a shorter list of successes.
				if run == nil {
					return
				}
			}

			mu.Lock()
			runs = append(runs, run)
			mu.Unlock()
		}(symbol)
	}

	wg.Wait()
	return runs, nil
}

func (o *Orchestrator) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.config.RunTimeout > 0 {
		return context.WithTimeout(ctx, o.config.RunTimeout)
	}
	return context.WithCancel(ctx)
}

// loadValidSnapshot resolves the current version and its snapshot, checking the
// watermark invariant. ok=false means the caller must fall back to full.
func (o *Orchestrator) loadValidSnapshot(ctx context.Context, symbol string) (*snapshot.Snapshot, int64, bool, error) {
	var (
		version int64
		found   bool
	)
	err := o.withRetry(ctx, "current-version", func() error {
		var ferr error
		version, found, ferr = o.versions.Current(ctx, symbol)
		return ferr
	})
	if err != nil {
		return nil, 0, false, err
	}
	if !found {
		o.logger.Info("no-published-version-running-full", zap.String("symbol", symbol))
		SnapshotFallbacksTotal.WithLabelValues("no_version").Inc()
		return nil, 0, false, nil
	}

	var snap *snapshot.Snapshot
	err = o.withRetry(ctx, "load-snapshot", func() error {
		var ferr error
		snap, ferr = o.snapshots.Load(ctx, symbol, version)
		if errors.Is(ferr, snapshot.ErrNoSnapshot) {
			// Contract condition, not a transient failure.
			snap = nil
			return nil
		}
		return ferr
	})
	if err != nil {
		return nil, 0, false, err
	}
	if snap == nil {
		o.logger.Info("no-snapshot-running-full",
			zap.String("symbol", symbol),
			zap.Int64("version", version))
		SnapshotFallbacksTotal.WithLabelValues("no_snapshot").Inc()
		return nil, 0, false, nil
	}

	// Frontier invariant: no trade at or behind the (watermark, order id)
	// frontier may have been ingested after the snapshot was taken. Checked,
	// not assumed.
	var backfilled int
	err = o.withRetry(ctx, "watermark-check", func() error {
		var ferr error
		backfilled, ferr = o.ledger.CountBackfilled(ctx, symbol, snap.Watermark, snap.LastOrderID, snap.CreatedAt)
		return ferr
	})
	if err != nil {
		return nil, 0, false, err
	}
	if backfilled > 0 {
		o.logger.Warn("snapshot-invalid-falling-back",
			zap.String("symbol", symbol),
			zap.Int64("version", version),
			zap.Int("backfilled-trades", backfilled),
			zap.Time("watermark", snap.Watermark))
		SnapshotFallbacksTotal.WithLabelValues("backfill_crossed_watermark").Inc()
		return nil, 0, false, nil
	}

	return snap, version, true, nil
}

// runFull executes a full replay under the already-held lock.
func (o *Orchestrator) runFull(ctx context.Context, symbol string) (*Run, error) {
	var version int64
	err := o.withRetry(ctx, "next-version", func() error {
		var ferr error
		version, ferr = o.runs.NextVersion(ctx, symbol)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	run := NewRun(symbol, RunTypeFull, version)

	o.logger.Info("run-started",
		zap.String("symbol", symbol),
		zap.String("batch-id", run.BatchID),
		zap.String("type", string(run.Type)),
		zap.Int64("version", version))

	err = o.withRetry(ctx, "create-run", func() error {
		return o.runs.CreateRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	var trades []*ledger.Trade
	err = o.withRetry(ctx, "fetch-trades", func() error {
		var ferr error
		trades, ferr = o.ledger.FetchTrades(ctx, symbol, nil)
		return ferr
	})
	if err != nil {
		return o.failRun(ctx, run, err)
	}

	return o.finishRun(ctx, run, trades, nil)
}

// runIncremental extends the current version from a validated snapshot.
func (o *Orchestrator) runIncremental(ctx context.Context, symbol string, version int64, snap *snapshot.Snapshot) (*Run, error) {
	run := NewRun(symbol, RunTypeIncremental, version)

	o.logger.Info("run-started",
		zap.String("symbol", symbol),
		zap.String("batch-id", run.BatchID),
		zap.String("type", string(run.Type)),
		zap.Int64("version", version),
		zap.Time("watermark", snap.Watermark))

	err := o.withRetry(ctx, "create-run", func() error {
		return o.runs.CreateRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	var trades []*ledger.Trade
	err = o.withRetry(ctx, "fetch-trades", func() error {
		var ferr error
		trades, ferr = o.ledger.FetchTrades(ctx, symbol, &snap.Watermark)
		return ferr
	})
	if err != nil {
		return o.failRun(ctx, run, err)
	}

	// The fetch is inclusive of the watermark instant; drop trades the
	// snapshot already folded in, using the (trade_time, order_id) frontier.
	fresh := trades[:0]
	for _, t := range trades {
		if t.TradeTime.Equal(snap.Watermark) && t.OrderID <= snap.LastOrderID {
			continue
		}
		fresh = append(fresh, t)
	}

	return o.finishRun(ctx, run, fresh, snap)
}

// finishRun is the shared tail of both run types: match, validate, publish.
// A nil snap means a full replay from empty inventory.
func (o *Orchestrator) finishRun(ctx context.Context, run *Run, trades []*ledger.Trade, snap *snapshot.Snapshot) (*Run, error) {
	start := time.Now()

	var starting *fifo.Inventory
	if snap != nil {
		starting = snap.Inventory()
	}

	result, err := o.matcher.Match(run.Symbol, trades, starting)
	if err != nil {
		// Matcher errors are data defects, not transient failures.
		return o.failRun(ctx, run, err)
	}

	for _, alloc := range result.Allocations {
		alloc.Version = run.Version
		alloc.BatchID = run.BatchID
	}

	run.Status = RunStatusValidating
	run.TradesProcessed = len(trades)
	run.AllocationsProduced = len(result.Allocations)
	run.UnmatchedCount = result.Unmatched

	var report *validate.Report
	err = o.withRetry(ctx, "validate-batch", func() error {
		var ferr error
		report, ferr = o.validator.Validate(ctx, &validate.Input{
			Symbol:      run.Symbol,
			Trades:      trades,
			StartingInv: starting,
			Allocations: result.Allocations,
		})
		return ferr
	})
	if err != nil {
		return o.failRun(ctx, run, err)
	}

	if report.Outcome() == validate.OutcomeFailed {
		// A defect is surfaced, never auto-corrected or published.
		detail := formatViolations(report)
		run.Status = RunStatusFailed
		run.ErrorDetail = detail
		run.FinishedAt = time.Now().UTC()

		merr := o.withRetry(ctx, "mark-run-failed", func() error {
			return o.runs.MarkRunFailed(ctx, run.BatchID, detail)
		})
		if merr != nil {
			o.logger.Error("mark-run-failed-error", zap.Error(merr))
		}

		o.logger.Error("run-failed-validation",
			zap.String("symbol", run.Symbol),
			zap.String("batch-id", run.BatchID),
			zap.Int("violations", len(report.Violations)))
		RunsTotal.WithLabelValues(string(run.Type), string(RunStatusFailed)).Inc()

		return run, nil
	}

	newSnap := &snapshot.Snapshot{
		Symbol:      run.Symbol,
		Version:     run.Version,
		Watermark:   result.Watermark,
		LastOrderID: result.LastOrderID,
		CreatedAt:   time.Now().UTC(),
		Lots:        result.Inventory.Lots(),
	}
	if len(trades) == 0 && snap != nil {
		// Nothing new: keep the previous frontier.
		newSnap.Watermark = snap.Watermark
		newSnap.LastOrderID = snap.LastOrderID
	}

	switch report.Outcome() {
	case validate.OutcomePartial:
		run.Status = RunStatusPartial
	default:
		run.Status = RunStatusCompleted
	}
	run.FinishedAt = time.Now().UTC()

	err = o.withRetry(ctx, "publish-batch", func() error {
		return o.publisher.Publish(ctx, &CommitRequest{
			Run:         run,
			Allocations: result.Allocations,
			Snapshot:    newSnap,
		})
	})
	if err != nil {
		return o.failRun(ctx, run, err)
	}

	o.logger.Info("run-finished",
		zap.String("symbol", run.Symbol),
		zap.String("batch-id", run.BatchID),
		zap.String("status", string(run.Status)),
		zap.Int("trades", run.TradesProcessed),
		zap.Int("allocations", run.AllocationsProduced),
		zap.Int("unmatched", run.UnmatchedCount),
		zap.Duration("duration", time.Since(start)))

	RunsTotal.WithLabelValues(string(run.Type), string(run.Status)).Inc()
	RunDurationSeconds.Observe(time.Since(start).Seconds())
	TradesPerRun.Observe(float64(run.TradesProcessed))

	return run, nil
}

// failRun finalizes a run after an unrecoverable infrastructure error. The
// batch's rows are never committed, so no partial result becomes visible.
func (o *Orchestrator) failRun(ctx context.Context, run *Run, cause error) (*Run, error) {
	run.Status = RunStatusFailed
	run.ErrorDetail = cause.Error()
	run.FinishedAt = time.Now().UTC()

	// Best effort: the run row should record the failure even when the
	// original context is dead.
	markCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		markCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	err := o.runs.MarkRunFailed(markCtx, run.BatchID, run.ErrorDetail)
	if err != nil {
		o.logger.Error("mark-run-failed-error",
			zap.String("batch-id", run.BatchID),
			zap.Error(err))
	}

	RunsTotal.WithLabelValues(string(run.Type), string(RunStatusFailed)).Inc()

	return run, fmt.Errorf("run %s failed: %w", run.BatchID, cause)
}

// withRetry retries transient infrastructure errors with exponential backoff.
func (o *Orchestrator) withRetry(ctx context.Context, operation string, fn func() error) error {
	maxAttempts := o.config.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	backoff := o.config.RetryInitialDelay
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == maxAttempts {
			break
		}

		o.logger.Warn("transient-error-retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))
		RetriesTotal.WithLabelValues(operation).Inc()

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", operation, ctx.Err())
		case <-time.After(backoff):
		}

		mult := o.config.RetryBackoffMult
		if mult < 1 {
			mult = 2
		}
		backoff = time.Duration(float64(backoff) * mult)
		if o.config.RetryMaxDelay > 0 && backoff > o.config.RetryMaxDelay {
			backoff = o.config.RetryMaxDelay
		}
	}

	return fmt.Errorf("%s: retries exhausted: %w", operation, lastErr)
}

func formatViolations(report *validate.Report) string {
	var b strings.Builder
	for i, v := range report.Violations {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s[%s]: %s", v.Check, v.OrderID, v.Detail)
	}
	return b.String()
}
