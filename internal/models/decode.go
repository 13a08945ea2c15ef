// -----------------------------------------------------------------------
// Strict wire decoding - classified failures, fail-safe enum mapping
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Decode failure reasons carried by FieldError
const (
	ReasonMissing   = "missing"
	ReasonMalformed = "malformed"
)

// FieldError describes a single field that failed strict decoding.
// Unknown enum tokens are NOT field errors: they decode to the fail-safe
// variant and are surfaced as warnings instead.
type FieldError struct {
	Field  string
	Reason string
	Detail string
}

func (e *FieldError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("field %q %s: %s", e.Field, e.Reason, e.Detail)
	}
	return fmt.Sprintf("field %q %s", e.Field, e.Reason)
}

// classifyJSONError maps encoding/json failures onto the missing/malformed
// taxonomy where the error carries enough detail to do so.
func classifyJSONError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "(document)"
		}
		return &FieldError{
			Field:  field,
			Reason: ReasonMalformed,
			Detail: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
		}
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("malformed JSON at offset %d: %w", syntaxErr.Offset, err)
	}
	return fmt.Errorf("malformed JSON: %w", err)
}

// DecodeExecutionStatus decodes a status snapshot. run_id and status are
// required; can_cancel defaults to false when absent (never assume a run
// is cancellable). Unknown status tokens map to the error state and are
// returned as warnings for the caller to log.
func DecodeExecutionStatus(data []byte) (*ExecutionStatus, []string, error) {
	var wire struct {
		RunID               *string                `json:"run_id"`
		Status              *string                `json:"status"`
		ProgressPercent     *float64               `json:"progress_percent"`
		CurrentStage        string                 `json:"current_stage"`
		StartedAt           *time.Time             `json:"started_at"`
		EstimatedCompletion *time.Time             `json:"estimated_completion"`
		CanCancel           *bool                  `json:"can_cancel"`
		Metrics             map[string]interface{} `json:"metrics"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, nil, classifyJSONError(err)
	}
	if wire.RunID == nil || *wire.RunID == "" {
		return nil, nil, &FieldError{Field: "run_id", Reason: ReasonMissing}
	}
	if wire.Status == nil {
		return nil, nil, &FieldError{Field: "status", Reason: ReasonMissing}
	}

	var warnings []string
	status, ok := ParseExecutionState(*wire.Status)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("status: unknown token %q mapped to %q", *wire.Status, ExecutionStateError))
	}

	canCancel := false
	if wire.CanCancel != nil {
		canCancel = *wire.CanCancel
	}

	return &ExecutionStatus{
		RunID:               *wire.RunID,
		Status:              status,
		ProgressPercent:     wire.ProgressPercent,
		CurrentStage:        wire.CurrentStage,
		StartedAt:           wire.StartedAt,
		EstimatedCompletion: wire.EstimatedCompletion,
		CanCancel:           canCancel,
		Metrics:             wire.Metrics,
	}, warnings, nil
}

// DecodeProgressEvent decodes a progress feed frame. event_type and run_id
// are required; a missing timestamp defaults to receipt time. Unknown event
// type tokens map to the error event type and are returned as warnings.
func DecodeProgressEvent(data []byte) (*ProgressEvent, []string, error) {
	var wire struct {
		EventType       *string                `json:"event_type"`
		Timestamp       *time.Time             `json:"timestamp"`
		RunID           *string                `json:"run_id"`
		Stage           string                 `json:"stage"`
		ProgressPercent *float64               `json:"progress_percent"`
		CurrentItem     string                 `json:"current_item"`
		TotalItems      *int                   `json:"total_items"`
		CompletedItems  *int                   `json:"completed_items"`
		Message         string                 `json:"message"`
		Metrics         map[string]interface{} `json:"metrics"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, nil, classifyJSONError(err)
	}
	if wire.EventType == nil {
		return nil, nil, &FieldError{Field: "event_type", Reason: ReasonMissing}
	}
	if wire.RunID == nil || *wire.RunID == "" {
		return nil, nil, &FieldError{Field: "run_id", Reason: ReasonMissing}
	}

	var warnings []string
	eventType, ok := ParseProgressEventType(*wire.EventType)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("event_type: unknown token %q mapped to %q", *wire.EventType, ProgressEventError))
	}

	timestamp := time.Now().UTC()
	if wire.Timestamp != nil {
		timestamp = *wire.Timestamp
	}

	return &ProgressEvent{
		EventType:       eventType,
		Timestamp:       timestamp,
		RunID:           *wire.RunID,
		Stage:           wire.Stage,
		ProgressPercent: wire.ProgressPercent,
		CurrentItem:     wire.CurrentItem,
		TotalItems:      wire.TotalItems,
		CompletedItems:  wire.CompletedItems,
		Message:         wire.Message,
		Metrics:         wire.Metrics,
	}, warnings, nil
}

// DecodeExecutionResponse decodes the submission response. run_id and
// status are required: a response without an assigned run identity is
// useless to the caller.
func DecodeExecutionResponse(data []byte) (*ExecutionResponse, []string, error) {
	var wire struct {
		RunID              *string    `json:"run_id"`
		Status             *string    `json:"status"`
		Message            string     `json:"message"`
		StrategyCode       string     `json:"strategy_code"`
		TotalTickers       int        `json:"total_tickers"`
		ExecutionStartedAt *time.Time `json:"execution_started_at"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, nil, classifyJSONError(err)
	}
	if wire.RunID == nil || *wire.RunID == "" {
		return nil, nil, &FieldError{Field: "run_id", Reason: ReasonMissing}
	}
	if wire.Status == nil {
		return nil, nil, &FieldError{Field: "status", Reason: ReasonMissing}
	}

	var warnings []string
	status, ok := ParseExecutionState(*wire.Status)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("status: unknown token %q mapped to %q", *wire.Status, ExecutionStateError))
	}

	return &ExecutionResponse{
		RunID:              *wire.RunID,
		Status:             status,
		Message:            wire.Message,
		StrategyCode:       wire.StrategyCode,
		TotalTickers:       wire.TotalTickers,
		ExecutionStartedAt: wire.ExecutionStartedAt,
	}, warnings, nil
}

// DecodeCancelResponse decodes the cancel acknowledgement. The cancelled
// flag is required; message defaults to empty.
func DecodeCancelResponse(data []byte) (*CancelResponse, error) {
	var wire struct {
		Cancelled *bool  `json:"cancelled"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, classifyJSONError(err)
	}
	if wire.Cancelled == nil {
		return nil, &FieldError{Field: "cancelled", Reason: ReasonMissing}
	}
	return &CancelResponse{
		Cancelled: *wire.Cancelled,
		Message:   wire.Message,
	}, nil
}

// DecodeExecutionQueue decodes the queue snapshot. Entries must carry a
// run_id; total_queued defaults to the entry count when absent and
// max_concurrent defaults to 0 (unknown). Unknown entry status tokens map
// to the error state and are returned as warnings.
func DecodeExecutionQueue(data []byte) (*ExecutionQueueResponse, []string, error) {
	var wire struct {
		Queue []struct {
			RunID          *string    `json:"run_id"`
			StrategyCode   string     `json:"strategy_code"`
			Status         *string    `json:"status"`
			Position       int        `json:"position"`
			StartedAt      *time.Time `json:"started_at"`
			EstimatedStart *time.Time `json:"estimated_start"`
		} `json:"queue"`
		TotalQueued   *int `json:"total_queued"`
		MaxConcurrent *int `json:"max_concurrent"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, nil, classifyJSONError(err)
	}

	var warnings []string
	queue := make([]QueuedExecution, 0, len(wire.Queue))
	for i, entry := range wire.Queue {
		if entry.RunID == nil || *entry.RunID == "" {
			return nil, nil, &FieldError{Field: fmt.Sprintf("queue[%d].run_id", i), Reason: ReasonMissing}
		}
		status := ExecutionStateQueued
		if entry.Status != nil {
			var ok bool
			status, ok = ParseExecutionState(*entry.Status)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("queue[%d].status: unknown token %q mapped to %q", i, *entry.Status, ExecutionStateError))
			}
		}
		queue = append(queue, QueuedExecution{
			RunID:          *entry.RunID,
			StrategyCode:   entry.StrategyCode,
			Status:         status,
			Position:       entry.Position,
			StartedAt:      entry.StartedAt,
			EstimatedStart: entry.EstimatedStart,
		})
	}

	totalQueued := len(queue)
	if wire.TotalQueued != nil {
		totalQueued = *wire.TotalQueued
	}
	maxConcurrent := 0
	if wire.MaxConcurrent != nil {
		maxConcurrent = *wire.MaxConcurrent
	}

	resp := &ExecutionQueueResponse{
		Queue:         queue,
		TotalQueued:   totalQueued,
		MaxConcurrent: maxConcurrent,
	}
	resp.SortByPosition()
	return resp, warnings, nil
}
