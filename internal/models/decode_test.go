package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeExecutionStatus(t *testing.T) {
	data := []byte(`{
		"run_id": "run-123",
		"status": "running",
		"progress_percent": 42.5,
		"current_stage": "screening",
		"can_cancel": true
	}`)

	status, warnings, err := DecodeExecutionStatus(data)
	if err != nil {
		t.Fatalf("DecodeExecutionStatus() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if status.RunID != "run-123" {
		t.Errorf("RunID = %q, want %q", status.RunID, "run-123")
	}
	if status.Status != ExecutionStateRunning {
		t.Errorf("Status = %q, want running", status.Status)
	}
	if status.Percent() != 42.5 {
		t.Errorf("Percent() = %v, want 42.5", status.Percent())
	}
	if !status.CanCancel {
		t.Error("CanCancel = false, want true")
	}
}

func TestDecodeExecutionStatusUnknownToken(t *testing.T) {
	data := []byte(`{"run_id": "run-123", "status": "hibernating"}`)

	status, warnings, err := DecodeExecutionStatus(data)
	if err != nil {
		t.Fatalf("unknown token must not fail decode, got error = %v", err)
	}
	if status.Status != ExecutionStateError {
		t.Errorf("Status = %q, want fail-safe error", status.Status)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "hibernating") {
		t.Errorf("warnings = %v, want one naming the unknown token", warnings)
	}
}

func TestDecodeExecutionStatusMissingFields(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantField string
	}{
		{"missing run_id", `{"status": "running"}`, "run_id"},
		{"empty run_id", `{"run_id": "", "status": "running"}`, "run_id"},
		{"missing status", `{"run_id": "run-123"}`, "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeExecutionStatus([]byte(tt.data))
			var fieldErr *FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("error = %v, want *FieldError", err)
			}
			if fieldErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", fieldErr.Field, tt.wantField)
			}
			if fieldErr.Reason != ReasonMissing {
				t.Errorf("Reason = %q, want %q", fieldErr.Reason, ReasonMissing)
			}
		})
	}
}

func TestDecodeExecutionStatusMalformed(t *testing.T) {
	// Wrong type for progress_percent
	data := []byte(`{"run_id": "run-123", "status": "running", "progress_percent": "almost done"}`)

	_, _, err := DecodeExecutionStatus(data)
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("error = %v, want *FieldError", err)
	}
	if fieldErr.Reason != ReasonMalformed {
		t.Errorf("Reason = %q, want %q", fieldErr.Reason, ReasonMalformed)
	}

	// Broken JSON
	_, _, err = DecodeExecutionStatus([]byte(`{"run_id": `))
	if err == nil {
		t.Fatal("truncated JSON must fail decode")
	}
}

func TestDecodeProgressEvent(t *testing.T) {
	data := []byte(`{
		"event_type": "ticker_completed",
		"timestamp": "2026-08-20T10:30:00Z",
		"run_id": "run-123",
		"stage": "screening",
		"progress_percent": 60,
		"current_item": "AAPL",
		"total_items": 500,
		"completed_items": 300,
		"message": "AAPL evaluated"
	}`)

	event, warnings, err := DecodeProgressEvent(data)
	if err != nil {
		t.Fatalf("DecodeProgressEvent() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if event.EventType != ProgressEventTickerCompleted {
		t.Errorf("EventType = %q, want ticker_completed", event.EventType)
	}
	if event.CurrentItem != "AAPL" {
		t.Errorf("CurrentItem = %q, want AAPL", event.CurrentItem)
	}
	if event.Completed() != 300 {
		t.Errorf("Completed() = %d, want 300", event.Completed())
	}
	wantTS := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
	if !event.Timestamp.Equal(wantTS) {
		t.Errorf("Timestamp = %v, want %v", event.Timestamp, wantTS)
	}
}

func TestDecodeProgressEventDefaultsTimestamp(t *testing.T) {
	before := time.Now().UTC()
	event, _, err := DecodeProgressEvent([]byte(`{"event_type": "progress", "run_id": "run-123"}`))
	if err != nil {
		t.Fatalf("DecodeProgressEvent() error = %v", err)
	}
	if event.Timestamp.Before(before) {
		t.Errorf("missing timestamp should default to receipt time, got %v", event.Timestamp)
	}
}

func TestDecodeProgressEventUnknownType(t *testing.T) {
	event, warnings, err := DecodeProgressEvent([]byte(`{"event_type": "telemetry", "run_id": "run-123"}`))
	if err != nil {
		t.Fatalf("unknown event type must not fail decode, got error = %v", err)
	}
	if event.EventType != ProgressEventError {
		t.Errorf("EventType = %q, want fail-safe error", event.EventType)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want one entry", warnings)
	}
}

func TestDecodeProgressEventMissingFields(t *testing.T) {
	_, _, err := DecodeProgressEvent([]byte(`{"run_id": "run-123"}`))
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "event_type" {
		t.Errorf("error = %v, want FieldError on event_type", err)
	}

	_, _, err = DecodeProgressEvent([]byte(`{"event_type": "progress"}`))
	if !errors.As(err, &fieldErr) || fieldErr.Field != "run_id" {
		t.Errorf("error = %v, want FieldError on run_id", err)
	}
}

func TestDecodeExecutionResponse(t *testing.T) {
	data := []byte(`{
		"run_id": "run-900",
		"status": "queued",
		"message": "accepted",
		"strategy_code": "bullish_breakout",
		"total_tickers": 500
	}`)

	resp, warnings, err := DecodeExecutionResponse(data)
	if err != nil {
		t.Fatalf("DecodeExecutionResponse() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if resp.RunID != "run-900" {
		t.Errorf("RunID = %q, want run-900", resp.RunID)
	}
	if resp.Status != ExecutionStateQueued {
		t.Errorf("Status = %q, want queued", resp.Status)
	}
	if resp.TotalTickers != 500 {
		t.Errorf("TotalTickers = %d, want 500", resp.TotalTickers)
	}

	_, _, err = DecodeExecutionResponse([]byte(`{"status": "queued"}`))
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "run_id" {
		t.Errorf("error = %v, want FieldError on run_id", err)
	}
}

func TestDecodeCancelResponse(t *testing.T) {
	resp, err := DecodeCancelResponse([]byte(`{"cancelled": false, "message": "Run already completed"}`))
	if err != nil {
		t.Fatalf("DecodeCancelResponse() error = %v", err)
	}
	if resp.Cancelled {
		t.Error("Cancelled = true, want false")
	}
	if resp.Message != "Run already completed" {
		t.Errorf("Message = %q", resp.Message)
	}

	_, err = DecodeCancelResponse([]byte(`{"message": "no flag"}`))
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "cancelled" {
		t.Errorf("error = %v, want FieldError on cancelled", err)
	}
}

func TestDecodeExecutionQueue(t *testing.T) {
	data := []byte(`{
		"queue": [
			{"run_id": "run-2", "strategy_code": "momentum", "status": "queued", "position": 1},
			{"run_id": "run-1", "strategy_code": "bullish_breakout", "status": "running", "position": 0}
		],
		"total_queued": 2,
		"max_concurrent": 2
	}`)

	resp, warnings, err := DecodeExecutionQueue(data)
	if err != nil {
		t.Fatalf("DecodeExecutionQueue() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if len(resp.Queue) != 2 {
		t.Fatalf("len(Queue) = %d, want 2", len(resp.Queue))
	}
	// Entries come back ordered by position regardless of wire order
	if resp.Queue[0].RunID != "run-1" || resp.Queue[1].RunID != "run-2" {
		t.Errorf("queue not ordered by position: %v, %v", resp.Queue[0].RunID, resp.Queue[1].RunID)
	}
	if resp.RunningCount() != 1 {
		t.Errorf("RunningCount() = %d, want 1", resp.RunningCount())
	}
	if resp.ExceedsConcurrencyLimit() {
		t.Error("ExceedsConcurrencyLimit() = true, want false")
	}
}

func TestDecodeExecutionQueueDefaults(t *testing.T) {
	resp, _, err := DecodeExecutionQueue([]byte(`{"queue": [{"run_id": "run-1", "position": 0}]}`))
	if err != nil {
		t.Fatalf("DecodeExecutionQueue() error = %v", err)
	}
	if resp.TotalQueued != 1 {
		t.Errorf("TotalQueued = %d, want default of entry count", resp.TotalQueued)
	}
	if resp.MaxConcurrent != 0 {
		t.Errorf("MaxConcurrent = %d, want 0 when absent", resp.MaxConcurrent)
	}
	// status defaults to queued when absent
	if resp.Queue[0].Status != ExecutionStateQueued {
		t.Errorf("Status = %q, want queued default", resp.Queue[0].Status)
	}
}

func TestDecodeExecutionQueueMissingRunID(t *testing.T) {
	_, _, err := DecodeExecutionQueue([]byte(`{"queue": [{"position": 0}]}`))
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("error = %v, want *FieldError", err)
	}
	if fieldErr.Field != "queue[0].run_id" {
		t.Errorf("Field = %q, want queue[0].run_id", fieldErr.Field)
	}
}
