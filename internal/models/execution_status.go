package models

import "time"

// ExecutionStatus is a point-in-time snapshot of a run returned by the
// backend status endpoint. CanCancel is authoritative: cancellability must
// never be inferred from Status alone, since a backend may disallow
// cancelling a completing run even though it is not yet terminal.
type ExecutionStatus struct {
	RunID               string                 `json:"run_id"`
	Status              ExecutionState         `json:"status"`
	ProgressPercent     *float64               `json:"progress_percent,omitempty"`
	CurrentStage        string                 `json:"current_stage,omitempty"`
	StartedAt           *time.Time             `json:"started_at,omitempty"`
	EstimatedCompletion *time.Time             `json:"estimated_completion,omitempty"`
	CanCancel           bool                   `json:"can_cancel"`
	Metrics             map[string]interface{} `json:"metrics,omitempty"`
}

// Percent returns the snapshot's progress percent clamped to [0,100],
// or -1 when the snapshot carries no percent.
func (s *ExecutionStatus) Percent() float64 {
	if s.ProgressPercent == nil {
		return -1
	}
	p := *s.ProgressPercent
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
