package models

import (
	"testing"
)

func TestParseExecutionState(t *testing.T) {
	tests := []struct {
		input  string
		want   ExecutionState
		wantOK bool
	}{
		{"queued", ExecutionStateQueued, true},
		{"starting", ExecutionStateStarting, true},
		{"running", ExecutionStateRunning, true},
		{"completing", ExecutionStateCompleting, true},
		{"completed", ExecutionStateCompleted, true},
		{"cancelled", ExecutionStateCancelled, true},
		{"error", ExecutionStateError, true},

		// Case-insensitive parsing
		{"RUNNING", ExecutionStateRunning, true},
		{"Completed", ExecutionStateCompleted, true},

		// Whitespace handling
		{"  queued  ", ExecutionStateQueued, true},

		// Unknown tokens map to error, never fail
		{"paused", ExecutionStateError, false},
		{"unknown_state", ExecutionStateError, false},
		{"", ExecutionStateError, false},

		// The controller-local idle state is not a wire token
		{"idle", ExecutionStateError, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseExecutionState(tt.input)
			if got != tt.want {
				t.Errorf("ParseExecutionState(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if ok != tt.wantOK {
				t.Errorf("ParseExecutionState(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
		})
	}
}

func TestExecutionStateIsTerminal(t *testing.T) {
	tests := []struct {
		state ExecutionState
		want  bool
	}{
		{ExecutionStateQueued, false},
		{ExecutionStateStarting, false},
		{ExecutionStateRunning, false},
		{ExecutionStateCompleting, false},
		{ExecutionStateCompleted, true},
		{ExecutionStateCancelled, true},
		{ExecutionStateError, true},
		{ExecutionStateIdle, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.want {
				t.Errorf("%q.IsTerminal() = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestExecutionStateRankOrdering(t *testing.T) {
	// Lifecycle states strictly advance
	order := []ExecutionState{
		ExecutionStateQueued,
		ExecutionStateStarting,
		ExecutionStateRunning,
		ExecutionStateCompleting,
		ExecutionStateCompleted,
	}
	for i := 1; i < len(order); i++ {
		if !order[i].MoreAdvancedThan(order[i-1]) {
			t.Errorf("%q should be more advanced than %q", order[i], order[i-1])
		}
	}

	// Terminal states share the top rank and dominate everything non-terminal
	terminals := []ExecutionState{ExecutionStateCompleted, ExecutionStateCancelled, ExecutionStateError}
	for _, term := range terminals {
		if !term.MoreAdvancedThan(ExecutionStateCompleting) {
			t.Errorf("%q should dominate completing", term)
		}
		for _, other := range terminals {
			if term.MoreAdvancedThan(other) {
				t.Errorf("%q should not outrank fellow terminal %q", term, other)
			}
		}
	}

	// Idle ranks below everything
	if ExecutionStateIdle.MoreAdvancedThan(ExecutionStateQueued) {
		t.Error("idle should not outrank queued")
	}
}
