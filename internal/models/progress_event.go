package models

import (
	"strings"
	"time"
)

// ProgressEventType classifies a single update emitted during a run
type ProgressEventType string

const (
	ProgressEventStarted         ProgressEventType = "started"
	ProgressEventProgress        ProgressEventType = "progress"
	ProgressEventTickerCompleted ProgressEventType = "ticker_completed"
	ProgressEventStageCompleted  ProgressEventType = "stage_completed"
	ProgressEventCompleted       ProgressEventType = "completed"
	ProgressEventError           ProgressEventType = "error"
	ProgressEventCancelled       ProgressEventType = "cancelled"
)

// ParseProgressEventType parses a wire token case-insensitively. Unknown
// tokens map to ProgressEventError (fail-safe) with ok=false; parsing
// never fails.
func ParseProgressEventType(s string) (ProgressEventType, bool) {
	switch ProgressEventType(strings.ToLower(strings.TrimSpace(s))) {
	case ProgressEventStarted:
		return ProgressEventStarted, true
	case ProgressEventProgress:
		return ProgressEventProgress, true
	case ProgressEventTickerCompleted:
		return ProgressEventTickerCompleted, true
	case ProgressEventStageCompleted:
		return ProgressEventStageCompleted, true
	case ProgressEventCompleted:
		return ProgressEventCompleted, true
	case ProgressEventError:
		return ProgressEventError, true
	case ProgressEventCancelled:
		return ProgressEventCancelled, true
	default:
		return ProgressEventError, false
	}
}

// IsTerminal returns true for event types that end the run
func (t ProgressEventType) IsTerminal() bool {
	return t == ProgressEventCompleted || t == ProgressEventError || t == ProgressEventCancelled
}

// TargetState returns the execution state a run moves to when this event
// type is applied.
func (t ProgressEventType) TargetState() ExecutionState {
	switch t {
	case ProgressEventStarted:
		return ExecutionStateStarting
	case ProgressEventProgress, ProgressEventTickerCompleted, ProgressEventStageCompleted:
		return ExecutionStateRunning
	case ProgressEventCompleted:
		return ExecutionStateCompleted
	case ProgressEventCancelled:
		return ExecutionStateCancelled
	default:
		return ExecutionStateError
	}
}

func (t ProgressEventType) String() string {
	return string(t)
}

// ProgressEvent is a single immutable update emitted during a run.
// Events are identified by (RunID, Timestamp) but timestamps are not
// guaranteed strictly increasing across transport retries, so consumers
// must tolerate duplicate and out-of-order delivery.
type ProgressEvent struct {
	EventType       ProgressEventType      `json:"event_type"`
	Timestamp       time.Time              `json:"timestamp"`
	RunID           string                 `json:"run_id"`
	Stage           string                 `json:"stage,omitempty"`
	ProgressPercent *float64               `json:"progress_percent,omitempty"` // 0-100
	CurrentItem     string                 `json:"current_item,omitempty"`     // e.g. the ticker being evaluated
	TotalItems      *int                   `json:"total_items,omitempty"`
	CompletedItems  *int                   `json:"completed_items,omitempty"`
	Message         string                 `json:"message"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
}

// Percent returns the event's progress percent clamped to [0,100],
// or -1 when the event carries no percent.
func (e *ProgressEvent) Percent() float64 {
	if e.ProgressPercent == nil {
		return -1
	}
	p := *e.ProgressPercent
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Completed returns the event's completed-item count, or -1 when absent.
func (e *ProgressEvent) Completed() int {
	if e.CompletedItems == nil {
		return -1
	}
	return *e.CompletedItems
}
