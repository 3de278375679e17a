package validate

import (
	"github.com/shopspring/decimal"
)

// Check names for violation records.
const (
	CheckConservation   = "conservation"
	CheckOverAllocation = "over_allocation"
	CheckExactPnL       = "exact_pnl"
	CheckCausality      = "causality"
	CheckReferences     = "references"
)

// Violation is one failed invariant with the affected order id.
type Violation struct {
	Check   string
	OrderID string
	Detail  string
}

// Outcome is the run status a validation report implies.
type Outcome string

const (
	// OutcomeCompleted means all checks passed with no anomalies.
	OutcomeCompleted Outcome = "completed"
	// OutcomePartial means the only anomalies are unmatched remainders, an
	// expected and flagged condition.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed means a defect: checks 2-5 or conservation violated.
	OutcomeFailed Outcome = "failed"
)

// Report is the result of validating one batch.
type Report struct {
	Symbol         string
	Violations     []Violation
	UnmatchedCount int
	UnmatchedSize  decimal.Decimal
}

// NewReport creates an empty report.
func NewReport(symbol string) *Report {
	return &Report{
		Symbol:        symbol,
		UnmatchedSize: decimal.Zero,
	}
}

// Add records a violation.
func (r *Report) Add(check, orderID, detail string) {
	r.Violations = append(r.Violations, Violation{
		Check:   check,
		OrderID: orderID,
		Detail:  detail,
	})
}

// Outcome maps the report to a run status. Violations always mean failed;
// unmatched remainders alone mean partial.
func (r *Report) Outcome() Outcome {
	if len(r.Violations) > 0 {
		return OutcomeFailed
	}
	if r.UnmatchedCount > 0 {
		return OutcomePartial
	}
	return OutcomeCompleted
}
