package models

import (
	"sort"
	"time"
)

// QueuedExecution is one entry in the backend's execution queue
type QueuedExecution struct {
	RunID          string         `json:"run_id"`
	StrategyCode   string         `json:"strategy_code"`
	Status         ExecutionState `json:"status"`
	Position       int            `json:"position"` // 0-based, smaller = sooner
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	EstimatedStart *time.Time     `json:"estimated_start,omitempty"`
}

// ExecutionQueueResponse is the backend's queue snapshot, ordered by
// position ascending. The backend enforces that no more than MaxConcurrent
// entries are running at once.
type ExecutionQueueResponse struct {
	Queue         []QueuedExecution `json:"queue"`
	TotalQueued   int               `json:"total_queued"`
	MaxConcurrent int               `json:"max_concurrent"`
}

// RunningCount returns the number of entries currently running
func (r *ExecutionQueueResponse) RunningCount() int {
	count := 0
	for i := range r.Queue {
		if r.Queue[i].Status == ExecutionStateRunning {
			count++
		}
	}
	return count
}

// ExceedsConcurrencyLimit reports whether the snapshot violates the
// running <= max_concurrent invariant. A violating snapshot is still
// renderable; callers log the inconsistency.
func (r *ExecutionQueueResponse) ExceedsConcurrencyLimit() bool {
	return r.MaxConcurrent > 0 && r.RunningCount() > r.MaxConcurrent
}

// SortByPosition orders the queue entries by position ascending. Backends
// send entries ordered already; this keeps display order stable if one
// does not.
func (r *ExecutionQueueResponse) SortByPosition() {
	sort.SliceStable(r.Queue, func(i, j int) bool {
		return r.Queue[i].Position < r.Queue[j].Position
	})
}
