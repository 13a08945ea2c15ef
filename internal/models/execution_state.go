package models

import "strings"

// ExecutionState represents the lifecycle state of a strategy run
type ExecutionState string

const (
	ExecutionStateQueued     ExecutionState = "queued"
	ExecutionStateStarting   ExecutionState = "starting"
	ExecutionStateRunning    ExecutionState = "running"
	ExecutionStateCompleting ExecutionState = "completing"
	ExecutionStateCompleted  ExecutionState = "completed"
	ExecutionStateCancelled  ExecutionState = "cancelled"
	ExecutionStateError      ExecutionState = "error"
)

// stateRanks orders states by lifecycle advancement. Terminal states rank
// highest so they dominate when a status snapshot and a progress event race.
var stateRanks = map[ExecutionState]int{
	ExecutionStateQueued:     1,
	ExecutionStateStarting:   2,
	ExecutionStateRunning:    3,
	ExecutionStateCompleting: 4,
	ExecutionStateCompleted:  5,
	ExecutionStateCancelled:  5,
	ExecutionStateError:      5,
}

// ParseExecutionState parses a wire token case-insensitively. Unknown tokens
// map to ExecutionStateError (fail-safe) with ok=false so callers can log
// the unrecognized value; parsing never fails.
func ParseExecutionState(s string) (ExecutionState, bool) {
	switch ExecutionState(strings.ToLower(strings.TrimSpace(s))) {
	case ExecutionStateQueued:
		return ExecutionStateQueued, true
	case ExecutionStateStarting:
		return ExecutionStateStarting, true
	case ExecutionStateRunning:
		return ExecutionStateRunning, true
	case ExecutionStateCompleting:
		return ExecutionStateCompleting, true
	case ExecutionStateCompleted:
		return ExecutionStateCompleted, true
	case ExecutionStateCancelled:
		return ExecutionStateCancelled, true
	case ExecutionStateError:
		return ExecutionStateError, true
	default:
		return ExecutionStateError, false
	}
}

// IsTerminal returns true for states that accept no further transitions
func (s ExecutionState) IsTerminal() bool {
	return s == ExecutionStateCompleted || s == ExecutionStateCancelled || s == ExecutionStateError
}

// IsActive returns true while the run is still being worked by the backend
func (s ExecutionState) IsActive() bool {
	switch s {
	case ExecutionStateQueued, ExecutionStateStarting, ExecutionStateRunning, ExecutionStateCompleting:
		return true
	}
	return false
}

// Rank returns the lifecycle order of the state. More advanced states have
// higher ranks; all terminal states share the top rank.
func (s ExecutionState) Rank() int {
	if r, ok := stateRanks[s]; ok {
		return r
	}
	return 0
}

// MoreAdvancedThan reports whether s is strictly later in the lifecycle
// than other.
func (s ExecutionState) MoreAdvancedThan(other ExecutionState) bool {
	return s.Rank() > other.Rank()
}

func (s ExecutionState) String() string {
	return string(s)
}
