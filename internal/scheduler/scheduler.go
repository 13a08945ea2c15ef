package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/curro/internal/common"
	"github.com/ternarybob/curro/internal/interfaces"
	"github.com/ternarybob/curro/internal/models"
)

// Submitter is the slice of the execution controller the scheduler drives
type Submitter interface {
	Submit(ctx context.Context, req *models.StrategyExecutionRequest) (*models.ExecutionResponse, error)
	ActiveRunID() (string, bool)
}

// scheduleEntry represents a registered schedule with bookkeeping
type scheduleEntry struct {
	name      string
	cronExpr  string
	request   models.StrategyExecutionRequest
	cronID    cron.EntryID
	lastRun   *time.Time
	lastRunID string
	lastError string
}

// ScheduleStatus is the read model for a registered schedule
type ScheduleStatus struct {
	Name         string     `json:"name"`
	CronExpr     string     `json:"cron"`
	StrategyCode string     `json:"strategy_code"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	LastRunID    string     `json:"last_run_id,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Service submits recurring strategy runs on cron schedules. The controller
// tracks a single run, so a cycle that fires while a run is active skips
// instead of failing.
type Service struct {
	submitter    Submitter
	eventService interfaces.EventService
	cron         *cron.Cron
	logger       arbor.ILogger
	mu           sync.Mutex
	entries      map[string]*scheduleEntry
	running      bool
}

// NewService creates a new scheduler service
func NewService(submitter Submitter, eventService interfaces.EventService, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &Service{
		submitter:    submitter,
		eventService: eventService,
		cron:         cron.New(),
		logger:       logger,
		entries:      make(map[string]*scheduleEntry),
	}
}

// Register adds a named schedule submitting the given request on the cron
// expression (standard 5-field format)
func (s *Service) Register(name, cronExpr string, request models.StrategyExecutionRequest) error {
	if name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if err := request.Validate(); err != nil {
		return fmt.Errorf("invalid scheduled request: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("schedule %s already registered", name)
	}

	entry := &scheduleEntry{
		name:     name,
		cronExpr: cronExpr,
		request:  request,
	}

	cronID, err := s.cron.AddFunc(cronExpr, func() {
		s.trigger(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add schedule to cron: %w", err)
	}

	entry.cronID = cronID
	s.entries[name] = entry

	s.logger.Info().
		Str("schedule", name).
		Str("cron", cronExpr).
		Str("strategy_code", request.StrategyCode).
		Msg("Schedule registered")

	return nil
}

// Start begins cron evaluation
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Int("schedules", len(s.entries)).Msg("Scheduler started")
	return nil
}

// Stop halts cron evaluation. A submission already in flight is not
// interrupted.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cron.Stop()
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if the scheduler is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger fires a schedule immediately, outside its cron cadence
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	_, exists := s.entries[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("schedule %s not found", name)
	}

	s.logger.Info().Str("schedule", name).Msg("Manually triggering schedule")
	go s.trigger(name)
	return nil
}

// Statuses returns the read model for all registered schedules, name-sorted
func (s *Service) Statuses() []ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]ScheduleStatus, 0, len(s.entries))
	for _, entry := range s.entries {
		status := ScheduleStatus{
			Name:         entry.name,
			CronExpr:     entry.cronExpr,
			StrategyCode: entry.request.StrategyCode,
			LastRun:      entry.lastRun,
			LastRunID:    entry.lastRunID,
			LastError:    entry.lastError,
		}
		for _, cronEntry := range s.cron.Entries() {
			if cronEntry.ID == entry.cronID {
				next := cronEntry.Next
				if !next.IsZero() {
					status.NextRun = &next
				}
				break
			}
		}
		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// trigger submits the scheduled request unless a run is already tracked
func (s *Service) trigger(name string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("schedule", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in scheduled submission")
		}
	}()

	s.mu.Lock()
	entry, exists := s.entries[name]
	if !exists {
		s.mu.Unlock()
		s.logger.Warn().Str("schedule", name).Msg("Schedule not found")
		return
	}
	request := entry.request
	s.mu.Unlock()

	// Scope logs for this cycle; the backend run ID does not exist yet
	log := s.logger.WithCorrelationId(common.NewClientID())

	// The controller tracks one run at a time; skip this cycle rather
	// than burn a submission that would be rejected anyway
	if runID, active := s.submitter.ActiveRunID(); active {
		log.Info().
			Str("schedule", name).
			Str("active_run_id", runID).
			Msg("Skipping scheduled submission, a run is already tracked")
		s.recordOutcome(name, "", fmt.Sprintf("skipped: run %s still active", runID))
		return
	}

	log.Info().
		Str("schedule", name).
		Str("strategy_code", request.StrategyCode).
		Msg("Submitting scheduled run")

	ctx := context.Background()
	resp, err := s.submitter.Submit(ctx, &request)
	if err != nil {
		log.Error().Err(err).Str("schedule", name).Msg("Scheduled submission failed")
		s.recordOutcome(name, "", err.Error())
		return
	}

	s.recordOutcome(name, resp.RunID, "")

	if s.eventService != nil {
		_ = s.eventService.Publish(ctx, interfaces.Event{
			Type: interfaces.EventScheduleTriggered,
			Payload: map[string]interface{}{
				"schedule":      name,
				"strategy_code": request.StrategyCode,
				"run_id":        resp.RunID,
			},
		})
	}
}

// recordOutcome updates schedule bookkeeping after a trigger
func (s *Service) recordOutcome(name, runID, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[name]
	if !exists {
		return
	}

	now := time.Now().UTC()
	entry.lastRun = &now
	entry.lastError = errMsg
	if runID != "" {
		entry.lastRunID = runID
	}
}
