// -----------------------------------------------------------------------
// Tracked Run - Controller-owned state of the active strategy run
// -----------------------------------------------------------------------

package models

import "time"

// ExecutionStateIdle is the controller-local resting state before any run
// is tracked. It never appears on the wire and is not a valid parse result.
const ExecutionStateIdle ExecutionState = "idle"

// Run is the client-side state of the tracked strategy run. The controller
// owns exactly one Run at a time and hands out copies, never references.
//
// ProgressPercent and CompletedItems are watermarks: they only move
// forward, so duplicate or out-of-order deliveries cannot make displayed
// progress regress.
type Run struct {
	RunID           string         `json:"run_id"`
	StrategyCode    string         `json:"strategy_code,omitempty"`
	State           ExecutionState `json:"state"`
	ProgressPercent float64        `json:"progress_percent"`
	CurrentStage    string         `json:"current_stage,omitempty"`
	CurrentItem     string         `json:"current_item,omitempty"`
	CompletedItems  int            `json:"completed_items"`
	TotalItems      int            `json:"total_items"`
	Message         string         `json:"message,omitempty"`
	CanCancel       bool           `json:"can_cancel"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	LastUpdateAt    *time.Time     `json:"last_update_at,omitempty"`
}

// NewIdleRun returns the resting state with no run tracked
func NewIdleRun() Run {
	return Run{State: ExecutionStateIdle}
}

// NewQueuedRun returns the optimistic post-submission state. The controller
// shows queued before the first status fetch confirms anything.
func NewQueuedRun(runID, strategyCode string) Run {
	now := time.Now().UTC()
	return Run{
		RunID:        runID,
		StrategyCode: strategyCode,
		State:        ExecutionStateQueued,
		CanCancel:    true,
		LastUpdateAt: &now,
	}
}

// MarkStarting moves the run into the starting state
func (r *Run) MarkStarting() {
	r.State = ExecutionStateStarting
	now := time.Now().UTC()
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	r.LastUpdateAt = &now
}

// MarkRunning moves the run into the running state
func (r *Run) MarkRunning() {
	r.State = ExecutionStateRunning
	now := time.Now().UTC()
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	r.LastUpdateAt = &now
}

// MarkCompleting moves the run into the completing state
func (r *Run) MarkCompleting() {
	r.State = ExecutionStateCompleting
	now := time.Now().UTC()
	r.LastUpdateAt = &now
}

// MarkCompleted marks the run as completed. A completed run always shows
// full progress regardless of the last watermark.
func (r *Run) MarkCompleted(message string) {
	r.State = ExecutionStateCompleted
	r.ProgressPercent = 100
	if r.TotalItems > 0 {
		r.CompletedItems = r.TotalItems
	}
	r.Message = message
	r.CanCancel = false
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.LastUpdateAt = &now
}

// MarkError marks the run as failed with a user-visible cause. The last
// known stage and progress stay frozen alongside the message.
func (r *Run) MarkError(message string) {
	r.State = ExecutionStateError
	r.Message = message
	r.CanCancel = false
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.LastUpdateAt = &now
}

// MarkCancelled marks the run as cancelled with the backend-supplied message
func (r *Run) MarkCancelled(message string) {
	r.State = ExecutionStateCancelled
	r.Message = message
	r.CanCancel = false
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.LastUpdateAt = &now
}

// IsTerminal returns true if the run reached a terminal state
func (r *Run) IsTerminal() bool {
	return r.State.IsTerminal()
}

// IsIdle returns true when no run is tracked
func (r *Run) IsIdle() bool {
	return r.State == ExecutionStateIdle || r.RunID == ""
}
