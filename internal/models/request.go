package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// StrategyExecutionRequest is the submission payload for a new run
type StrategyExecutionRequest struct {
	StrategyCode string                 `json:"strategy_code" validate:"required"`
	Parameters   map[string]interface{} `json:"parameters"`
	Options      *ExecutionOptions      `json:"options,omitempty"`
}

// ExecutionOptions carries optional submission tuning
type ExecutionOptions struct {
	Priority           int  `json:"priority,omitempty"`
	NotifyOnCompletion bool `json:"notify_on_completion,omitempty"`
	// MaxExecutionTime is the backend-side run budget in seconds
	MaxExecutionTime int `json:"max_execution_time,omitempty" validate:"omitempty,gt=0"`
}

// Validate validates the request using go-playground/validator.
// Returns an error if required fields are missing or invalid.
func (r *StrategyExecutionRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// ExecutionResponse is the backend's answer to a submission
type ExecutionResponse struct {
	RunID              string         `json:"run_id"`
	Status             ExecutionState `json:"status"`
	Message            string         `json:"message,omitempty"`
	StrategyCode       string         `json:"strategy_code,omitempty"`
	TotalTickers       int            `json:"total_tickers,omitempty"`
	ExecutionStartedAt *time.Time     `json:"execution_started_at,omitempty"`
}

// CancelResponse is the backend's answer to a cancel request.
// Cancellation is a request, not a guarantee: Cancelled=false with a
// human-readable reason is a valid, non-error outcome.
type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}
