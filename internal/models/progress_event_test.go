package models

import (
	"testing"
)

func TestParseProgressEventType(t *testing.T) {
	tests := []struct {
		input  string
		want   ProgressEventType
		wantOK bool
	}{
		{"started", ProgressEventStarted, true},
		{"progress", ProgressEventProgress, true},
		{"ticker_completed", ProgressEventTickerCompleted, true},
		{"stage_completed", ProgressEventStageCompleted, true},
		{"completed", ProgressEventCompleted, true},
		{"error", ProgressEventError, true},
		{"cancelled", ProgressEventCancelled, true},

		// Case-insensitive parsing
		{"STARTED", ProgressEventStarted, true},
		{"Ticker_Completed", ProgressEventTickerCompleted, true},

		// Unknown tokens map to error, never fail
		{"heartbeat", ProgressEventError, false},
		{"", ProgressEventError, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseProgressEventType(tt.input)
			if got != tt.want {
				t.Errorf("ParseProgressEventType(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if ok != tt.wantOK {
				t.Errorf("ParseProgressEventType(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
		})
	}
}

func TestProgressEventTypeTargetState(t *testing.T) {
	tests := []struct {
		eventType ProgressEventType
		want      ExecutionState
	}{
		{ProgressEventStarted, ExecutionStateStarting},
		{ProgressEventProgress, ExecutionStateRunning},
		{ProgressEventTickerCompleted, ExecutionStateRunning},
		{ProgressEventStageCompleted, ExecutionStateRunning},
		{ProgressEventCompleted, ExecutionStateCompleted},
		{ProgressEventError, ExecutionStateError},
		{ProgressEventCancelled, ExecutionStateCancelled},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			if got := tt.eventType.TargetState(); got != tt.want {
				t.Errorf("%q.TargetState() = %q, want %q", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestProgressEventPercentClamping(t *testing.T) {
	pct := func(v float64) *float64 { return &v }

	tests := []struct {
		name  string
		event ProgressEvent
		want  float64
	}{
		{"absent", ProgressEvent{}, -1},
		{"zero", ProgressEvent{ProgressPercent: pct(0)}, 0},
		{"mid", ProgressEvent{ProgressPercent: pct(42.5)}, 42.5},
		{"negative clamps to zero", ProgressEvent{ProgressPercent: pct(-3)}, 0},
		{"overflow clamps to hundred", ProgressEvent{ProgressPercent: pct(108)}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Percent(); got != tt.want {
				t.Errorf("Percent() = %v, want %v", got, tt.want)
			}
		})
	}
}
