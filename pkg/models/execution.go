package models

import (
	"github.com/google/uuid"

	"github.com/ekaya-inc/adpilot/pkg/apperrors"
)

// Execution outcome statuses. Skipped means another caller moved the record
// out of approved before this pipeline could record its result.
const (
	OutcomeApplied = "applied"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// ApplyRequest selects approved changes to execute: explicit ids or a batch.
type ApplyRequest struct {
	ChangeIDs []uuid.UUID `json:"change_ids,omitempty"`
	BatchID   string      `json:"batch_id,omitempty"`
}

// Validate requires exactly one selector.
func (r ApplyRequest) Validate() error {
	hasIDs := len(r.ChangeIDs) > 0
	hasBatch := r.BatchID != ""
	if hasIDs == hasBatch {
		return apperrors.Validationf("provide change_ids or batch_id")
	}
	return nil
}

// ExecutionOutcome is the result of executing one change.
type ExecutionOutcome struct {
	ID         uuid.UUID `json:"id"`
	ChangeType string    `json:"change_type"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Warning    string    `json:"warning,omitempty"`
}

// ExecutionReport summarizes one pipeline run.
type ExecutionReport struct {
	Applied int                `json:"applied"`
	Failed  int                `json:"failed"`
	Skipped int                `json:"skipped"`
	Total   int                `json:"total"`
	Results []ExecutionOutcome `json:"results"`
}

// NewExecutionReport returns an empty report.
func NewExecutionReport() *ExecutionReport {
	return &ExecutionReport{Results: []ExecutionOutcome{}}
}

// Add records one outcome and updates the counters.
func (r *ExecutionReport) Add(o ExecutionOutcome) {
	switch o.Status {
	case OutcomeApplied:
		r.Applied++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
	r.Results = append(r.Results, o)
}

// ToMap renders the report for activity details.
func (r *ExecutionReport) ToMap() map[string]any {
	results := make([]any, 0, len(r.Results))
	for _, o := range r.Results {
		entry := map[string]any{"id": o.ID.String(), "status": o.Status}
		if o.Error != "" {
			entry["error"] = o.Error
		}
		results = append(results, entry)
	}
	return map[string]any{
		"applied": r.Applied,
		"failed":  r.Failed,
		"skipped": r.Skipped,
		"total":   r.Total,
		"results": results,
	}
}

// ForIDs returns the part of the report covering the given records.
func (r *ExecutionReport) ForIDs(ids []uuid.UUID) *ExecutionReport {
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	sub := NewExecutionReport()
	for _, o := range r.Results {
		if want[o.ID] {
			sub.Add(o)
		}
	}
	sub.Total = len(ids)
	return sub
}
