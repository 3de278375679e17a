package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/engine"
	"github.com/corefin/fifo-engine/internal/fifo"
	"github.com/corefin/fifo-engine/internal/precision"
)

// VersionReader resolves the published version for a symbol.
type VersionReader interface {
	Current(ctx context.Context, symbol string) (int64, bool, error)
}

// AllocationReader lists allocation rows for a published batch.
type AllocationReader interface {
	ListAllocations(ctx context.Context, symbol string, version int64) ([]*fifo.Allocation, error)
	ListUnmatched(ctx context.Context, symbol string, version int64) ([]*fifo.Allocation, error)
}

// RunReader lists the computation log.
type RunReader interface {
	ListRuns(ctx context.Context, symbol string, limit int) ([]*engine.Run, error)
}

// Handler serves the versioned read API.
type Handler struct {
	versions    VersionReader
	allocations AllocationReader
	runs        RunReader
	policies    *precision.Set
	logger      *zap.Logger
}

// NewHandler creates a read API handler.
func NewHandler(versions VersionReader, allocations AllocationReader, runs RunReader, policies *precision.Set, logger *zap.Logger) *Handler {
	return &Handler{
		versions:    versions,
		allocations: allocations,
		runs:        runs,
		policies:    policies,
		logger:      logger,
	}
}

// VersionResponse reports the current published version for a symbol.
type VersionResponse struct {
	Symbol  string `json:"symbol"`
	Version int64  `json:"version"`
}

// AllocationRow is one allocation rendered at display precision. Stored
// values stay exact; rounding happens only here.
type AllocationRow struct {
	SellOrderID   string  `json:"sell_order_id"`
	BuyOrderID    *string `json:"buy_order_id"`
	Symbol        string  `json:"symbol"`
	AllocatedSize string  `json:"allocated_size"`
	BuyPrice      *string `json:"buy_price"`
	SellPrice     string  `json:"sell_price"`
	CostBasis     *string `json:"cost_basis"`
	NetProceeds   *string `json:"net_proceeds"`
	PnL           *string `json:"pnl"`
	BuyTime       *string `json:"buy_time"`
	SellTime      string  `json:"sell_time"`
	Unmatched     bool    `json:"unmatched"`
}

// AllocationsResponse is the full batch for (symbol, version).
type AllocationsResponse struct {
	Symbol      string          `json:"symbol"`
	Version     int64           `json:"version"`
	Allocations []AllocationRow `json:"allocations"`
}

// RunRow is one computation log entry.
type RunRow struct {
	BatchID             string `json:"batch_id"`
	Symbol              string `json:"symbol"`
	Type                string `json:"run_type"`
	Version             int64  `json:"version"`
	Status              string `json:"status"`
	TradesProcessed     int    `json:"trades_processed"`
	AllocationsProduced int    `json:"allocations_produced"`
	UnmatchedCount      int    `json:"unmatched_count"`
	ErrorDetail         string `json:"error_detail,omitempty"`
	StartedAt           string `json:"started_at"`
	FinishedAt          string `json:"finished_at,omitempty"`
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HandleVersion handles GET /api/v1/version/{symbol}.
func (h *Handler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	version, found, err := h.versions.Current(r.Context(), symbol)
	if err != nil {
		h.logger.Error("version-lookup-failed", zap.String("symbol", symbol), zap.Error(err))
		h.writeError(w, "version lookup failed", http.StatusInternalServerError)
		return
	}
	if !found {
		h.writeError(w, "no version published for symbol", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, VersionResponse{Symbol: symbol, Version: version})
}

// HandleAllocations handles GET /api/v1/allocations/{symbol}?version=N.
// Without an explicit version the current pointer is used.
func (h *Handler) HandleAllocations(w http.ResponseWriter, r *http.Request) {
	h.serveAllocations(w, r, h.allocations.ListAllocations)
}

// HandleAnomalies handles GET /api/v1/anomalies/{symbol}?version=N, returning
// only unmatched-remainder rows flagged for manual review.
func (h *Handler) HandleAnomalies(w http.ResponseWriter, r *http.Request) {
	h.serveAllocations(w, r, h.allocations.ListUnmatched)
}

func (h *Handler) serveAllocations(w http.ResponseWriter, r *http.Request,
	list func(ctx context.Context, symbol string, version int64) ([]*fifo.Allocation, error)) {
	symbol := chi.URLParam(r, "symbol")

	version, ok := h.resolveVersion(w, r, symbol)
	if !ok {
		return
	}

	allocs, err := list(r.Context(), symbol, version)
	if err != nil {
		h.logger.Error("allocations-query-failed",
			zap.String("symbol", symbol),
			zap.Int64("version", version),
			zap.Error(err))
		h.writeError(w, "allocations query failed", http.StatusInternalServerError)
		return
	}

	policy := h.policies.For(symbol)
	rows := make([]AllocationRow, 0, len(allocs))
	for _, a := range allocs {
		rows = append(rows, renderAllocation(a, policy))
	}

	h.writeJSON(w, http.StatusOK, AllocationsResponse{
		Symbol:      symbol,
		Version:     version,
		Allocations: rows,
	})
}

// HandleRuns handles GET /api/v1/runs/{symbol}?limit=N.
func (h *Handler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	runs, err := h.runs.ListRuns(r.Context(), symbol, limit)
	if err != nil {
		h.logger.Error("runs-query-failed", zap.String("symbol", symbol), zap.Error(err))
		h.writeError(w, "runs query failed", http.StatusInternalServerError)
		return
	}

	rows := make([]RunRow, 0, len(runs))
	for _, run := range runs {
		row := RunRow{
			BatchID:             run.BatchID,
			Symbol:              run.Symbol,
			Type:                string(run.Type),
			Version:             run.Version,
			Status:              string(run.Status),
			TradesProcessed:     run.TradesProcessed,
			AllocationsProduced: run.AllocationsProduced,
			UnmatchedCount:      run.UnmatchedCount,
			ErrorDetail:         run.ErrorDetail,
			StartedAt:           run.StartedAt.Format(time.RFC3339),
		}
		if !run.FinishedAt.IsZero() {
			row.FinishedAt = run.FinishedAt.Format(time.RFC3339)
		}
		rows = append(rows, row)
	}

	h.writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) resolveVersion(w http.ResponseWriter, r *http.Request, symbol string) (int64, bool) {
	if raw := r.URL.Query().Get("version"); raw != "" {
		version, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || version < 1 {
			h.writeError(w, "invalid version parameter", http.StatusBadRequest)
			return 0, false
		}
		return version, true
	}

	version, found, err := h.versions.Current(r.Context(), symbol)
	if err != nil {
		h.logger.Error("version-lookup-failed", zap.String("symbol", symbol), zap.Error(err))
		h.writeError(w, "version lookup failed", http.StatusInternalServerError)
		return 0, false
	}
	if !found {
		h.writeError(w, "no version published for symbol", http.StatusNotFound)
		return 0, false
	}
	return version, true
}

func renderAllocation(a *fifo.Allocation, policy precision.Policy) AllocationRow {
	row := AllocationRow{
		SellOrderID:   a.SellOrderID,
		Symbol:        a.Symbol,
		AllocatedSize: policy.RoundSize(a.AllocatedSize).String(),
		SellPrice:     policy.RoundQuote(a.SellPrice).String(),
		SellTime:      a.SellTime.Format(time.RFC3339),
		Unmatched:     !a.Matched(),
	}

	if a.Matched() {
		buyOrderID := a.BuyOrderID
		buyPrice := policy.RoundQuote(a.BuyPrice).String()
		costBasis := policy.RoundQuote(a.CostBasis).String()
		netProceeds := policy.RoundQuote(a.NetProceeds).String()
		buyTime := a.BuyTime.Format(time.RFC3339)
		row.BuyOrderID = &buyOrderID
		row.BuyPrice = &buyPrice
		row.CostBasis = &costBasis
		row.NetProceeds = &netProceeds
		row.BuyTime = &buyTime
	}
	if a.PnL.Valid {
		pnl := policy.RoundQuote(a.PnL.Decimal).String()
		row.PnL = &pnl
	}

	return row
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
