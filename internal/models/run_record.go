package models

import "time"

// RunRecord is the terminal-outcome ledger entry persisted to BadgerDB.
// Exactly one record is written per run, after it reaches a terminal
// state; active runs are never persisted.
type RunRecord struct {
	RunID           string                 `json:"run_id"`
	StrategyCode    string                 `json:"strategy_code"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	FinalState      ExecutionState         `json:"final_state"`
	Message         string                 `json:"message,omitempty"`
	ProgressPercent float64                `json:"progress_percent"`
	CompletedItems  int                    `json:"completed_items"`
	TotalItems      int                    `json:"total_items"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	RecordedAt      time.Time              `json:"recorded_at"`
}

// NewRunRecord builds a ledger entry from a terminal run
func NewRunRecord(run Run, parameters map[string]interface{}) *RunRecord {
	return &RunRecord{
		RunID:           run.RunID,
		StrategyCode:    run.StrategyCode,
		Parameters:      parameters,
		FinalState:      run.State,
		Message:         run.Message,
		ProgressPercent: run.ProgressPercent,
		CompletedItems:  run.CompletedItems,
		TotalItems:      run.TotalItems,
		StartedAt:       run.StartedAt,
		CompletedAt:     run.CompletedAt,
		RecordedAt:      time.Now().UTC(),
	}
}

// Duration returns the wall-clock run time, or zero when unknown
func (r *RunRecord) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}
