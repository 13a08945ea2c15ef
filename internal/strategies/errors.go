// -----------------------------------------------------------------------
// Error taxonomy - transport, server, decode, and local-state failures
// -----------------------------------------------------------------------

package strategies

import (
	"errors"
	"fmt"
)

// TransportError represents a connectivity or timeout failure. Retryable:
// the run's last-known state is preserved while the retry budget lasts.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure on %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError represents a request the backend rejected with a non-2xx
// status. Not retryable without changed input.
type ServerError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// DecodeError represents a schema violation in a backend payload. Always a
// reportable defect, never retried.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failure on %s: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// StateError represents an operation attempted against an invalid local
// state, e.g. cancelling an already-terminal run. Callers treat it as a
// no-op signal, not a failure.
type StateError struct {
	Operation string
	State     string
	Reason    string
}

func (e *StateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s rejected: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("%s not valid in state %q", e.Operation, e.State)
}

// IsRetryable reports whether the error is transient and worth another
// poll attempt. Only transport failures qualify.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsStateNoOp reports whether the error signals an operation that was
// skipped because the local state already made it meaningless.
func IsStateNoOp(err error) bool {
	var stateErr *StateError
	return errors.As(err, &stateErr)
}
