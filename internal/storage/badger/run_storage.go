package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/curro/internal/interfaces"
	"github.com/ternarybob/curro/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RunStorage implements the terminal-run ledger on BadgerDB
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

// StoreRecord inserts or replaces the ledger entry for a run
func (s *RunStorage) StoreRecord(ctx context.Context, record *models.RunRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.RunID == "" {
		return fmt.Errorf("run ID is required")
	}
	if !record.FinalState.IsTerminal() {
		return fmt.Errorf("only terminal runs are recorded, got state %q", record.FinalState)
	}

	if err := s.db.Store().Upsert(record.RunID, record); err != nil {
		return fmt.Errorf("failed to store run record: %w", err)
	}

	s.logger.Debug().
		Str("run_id", record.RunID).
		Str("final_state", string(record.FinalState)).
		Msg("Run record stored")

	return nil
}

// GetRecord retrieves a ledger entry by run ID
func (s *RunStorage) GetRecord(ctx context.Context, runID string) (*models.RunRecord, error) {
	var record models.RunRecord
	if err := s.db.Store().Get(runID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run record: %w", err)
	}
	return &record, nil
}

// ListRecords returns ledger entries recorded-at descending
func (s *RunStorage) ListRecords(ctx context.Context, opts *interfaces.RunListOptions) ([]*models.RunRecord, error) {
	query := buildRunQuery(opts)
	query = query.SortBy("RecordedAt").Reverse()

	if opts != nil {
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}

	var records []models.RunRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", err)
	}

	result := make([]*models.RunRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

// CountRecords returns the number of ledger entries matching the options
func (s *RunStorage) CountRecords(ctx context.Context, opts *interfaces.RunListOptions) (int, error) {
	count, err := s.db.Store().Count(&models.RunRecord{}, buildRunQuery(opts))
	if err != nil {
		return 0, fmt.Errorf("failed to count run records: %w", err)
	}
	return int(count), nil
}

// DeleteRecord removes a ledger entry, no-op when absent
func (s *RunStorage) DeleteRecord(ctx context.Context, runID string) error {
	if err := s.db.Store().Delete(runID, &models.RunRecord{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete run record: %w", err)
	}
	return nil
}

// ClearAll removes every ledger entry
func (s *RunStorage) ClearAll(ctx context.Context) error {
	var records []models.RunRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return fmt.Errorf("failed to list run records for deletion: %w", err)
	}

	for _, record := range records {
		if err := s.db.Store().Delete(record.RunID, &models.RunRecord{}); err != nil {
			s.logger.Warn().Str("run_id", record.RunID).Err(err).Msg("Failed to delete run record during ClearAll")
		}
	}

	s.logger.Info().Int("count", len(records)).Msg("Cleared run ledger")
	return nil
}

func buildRunQuery(opts *interfaces.RunListOptions) *badgerhold.Query {
	query := badgerhold.Where("RunID").Ne("")
	if opts != nil {
		if opts.StrategyCode != "" {
			query = query.And("StrategyCode").Eq(opts.StrategyCode)
		}
		if opts.FinalState != "" {
			query = query.And("FinalState").Eq(opts.FinalState)
		}
	}
	return query
}
