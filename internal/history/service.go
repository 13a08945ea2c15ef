package history

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/curro/internal/interfaces"
	"github.com/ternarybob/curro/internal/models"
)

// Service records terminal run outcomes and serves ledger queries.
// It is driven by the event bus: the controller publishes exactly one
// terminal event per run, so each run lands in the ledger once.
type Service struct {
	storage      interfaces.RunStorage
	eventService interfaces.EventService
	logger       arbor.ILogger
}

// Summary aggregates ledger counts by terminal state
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Errored   int `json:"errored"`
}

// NewService creates a history service and subscribes to terminal run events
func NewService(storage interfaces.RunStorage, eventService interfaces.EventService, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = arbor.NewLogger()
	}

	s := &Service{
		storage:      storage,
		eventService: eventService,
		logger:       logger,
	}

	if eventService != nil {
		if err := eventService.Subscribe(interfaces.EventRunTerminal, s.handleRunTerminal); err != nil {
			logger.Error().Err(err).Msg("Failed to subscribe to terminal run events")
		}
	}

	return s
}

// handleRunTerminal persists the ledger entry carried by a terminal run event
func (s *Service) handleRunTerminal(ctx context.Context, event interfaces.Event) error {
	record, ok := event.Payload.(*models.RunRecord)
	if !ok || record == nil {
		return fmt.Errorf("terminal run event carried unexpected payload %T", event.Payload)
	}

	if err := s.storage.StoreRecord(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("run_id", record.RunID).Msg("Failed to record terminal run")
		return err
	}

	s.logger.Info().
		Str("run_id", record.RunID).
		Str("strategy_code", record.StrategyCode).
		Str("final_state", string(record.FinalState)).
		Msg("Terminal run recorded")

	return nil
}

// Get returns the ledger entry for a run ID
func (s *Service) Get(ctx context.Context, runID string) (*models.RunRecord, error) {
	return s.storage.GetRecord(ctx, runID)
}

// List returns ledger entries recorded-at descending
func (s *Service) List(ctx context.Context, opts *interfaces.RunListOptions) ([]*models.RunRecord, error) {
	return s.storage.ListRecords(ctx, opts)
}

// Summarize returns ledger counts by terminal state
func (s *Service) Summarize(ctx context.Context) (*Summary, error) {
	total, err := s.storage.CountRecords(ctx, nil)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Total: total}

	counts := map[models.ExecutionState]*int{
		models.ExecutionStateCompleted: &summary.Completed,
		models.ExecutionStateCancelled: &summary.Cancelled,
		models.ExecutionStateError:     &summary.Errored,
	}
	for state, target := range counts {
		count, err := s.storage.CountRecords(ctx, &interfaces.RunListOptions{FinalState: state})
		if err != nil {
			return nil, err
		}
		*target = count
	}

	return summary, nil
}
