package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/curro/internal/models"
)

// ErrRunNotFound is returned when no ledger record exists for a run ID
var ErrRunNotFound = errors.New("run not found")

// RunListOptions controls ledger list queries
type RunListOptions struct {
	StrategyCode string                // Filter by strategy code, empty = all
	FinalState   models.ExecutionState // Filter by terminal state, empty = all
	Limit        int                   // Max records to return, 0 = no limit
	Offset       int                   // Records to skip
}

// RunStorage - interface for terminal run ledger persistence
type RunStorage interface {
	// StoreRecord inserts or replaces the ledger entry for a run
	StoreRecord(ctx context.Context, record *models.RunRecord) error

	// GetRecord retrieves a ledger entry by run ID, ErrRunNotFound when absent
	GetRecord(ctx context.Context, runID string) (*models.RunRecord, error)

	// ListRecords returns ledger entries recorded-at descending
	ListRecords(ctx context.Context, opts *RunListOptions) ([]*models.RunRecord, error)

	// CountRecords returns the number of ledger entries matching the options
	CountRecords(ctx context.Context, opts *RunListOptions) (int, error)

	// DeleteRecord removes a ledger entry, no-op when absent
	DeleteRecord(ctx context.Context, runID string) error

	// ClearAll removes every ledger entry
	ClearAll(ctx context.Context) error
}
