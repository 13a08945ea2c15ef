// -----------------------------------------------------------------------
// Execution controller - single-run lifecycle state machine
// -----------------------------------------------------------------------

package strategies

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/curro/internal/interfaces"
	"github.com/ternarybob/curro/internal/models"
)

// Backend is the slice of the client the controller depends on.
type Backend interface {
	Execute(ctx context.Context, req *models.StrategyExecutionRequest) (*models.ExecutionResponse, error)
	FetchStatus(ctx context.Context, runID string) (*models.ExecutionStatus, error)
	Cancel(ctx context.Context, runID string) (*models.CancelResponse, error)
}

const (
	// DefaultMaxPollFailures is the consecutive-failure budget before a
	// monitored run is declared failed.
	DefaultMaxPollFailures = 5

	updatesBuffer = 32
)

// Controller tracks the lifecycle of a single strategy run. All transports
// feed it through ApplyEvent and ApplyStatus; the watermark and state-rank
// guards make duplicated, reordered, or stale deliveries harmless, so the
// controller never cares which transport a fact arrived on.
type Controller struct {
	backend     Backend
	events      interfaces.EventService
	logger      arbor.ILogger
	maxFailures int

	mu            sync.Mutex
	run           models.Run
	parameters    map[string]interface{}
	failures      int
	submitting    bool
	fetching      bool
	cancelPending bool

	updates chan models.Run
}

// NewController creates a controller in the idle state. The event service
// is optional; pass nil when nothing subscribes to run updates.
func NewController(backend Backend, events interfaces.EventService, logger arbor.ILogger, maxFailures int) *Controller {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	if maxFailures <= 0 {
		maxFailures = DefaultMaxPollFailures
	}

	return &Controller{
		backend:     backend,
		events:      events,
		logger:      logger,
		maxFailures: maxFailures,
		run:         models.NewIdleRun(),
		updates:     make(chan models.Run, updatesBuffer),
	}
}

// Snapshot returns a copy of the tracked run as of now.
func (c *Controller) Snapshot() models.Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

// Updates returns the stream of accepted run snapshots. The channel is
// buffered; when a consumer falls behind, the oldest pending snapshot is
// dropped because Snapshot always supplies the latest state.
func (c *Controller) Updates() <-chan models.Run {
	return c.updates
}

// ActiveRunID returns the tracked run ID while the run is still in flight.
func (c *Controller) ActiveRunID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run.IsIdle() || c.run.IsTerminal() {
		return "", false
	}
	return c.run.RunID, true
}

// Submit validates and submits a strategy execution request, then adopts
// the accepted run as the tracked run. Submitting while a run is active is
// a StateError; submission failures leave the previous run untouched.
func (c *Controller) Submit(ctx context.Context, req *models.StrategyExecutionRequest) (*models.ExecutionResponse, error) {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return nil, &StateError{Operation: "submit", Reason: "submission already in flight"}
	}
	if !c.run.IsIdle() && !c.run.IsTerminal() {
		state := c.run.State
		c.mu.Unlock()
		return nil, &StateError{Operation: "submit", State: state.String()}
	}
	c.submitting = true
	c.mu.Unlock()

	resp, err := c.backend.Execute(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false

	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("strategy", req.StrategyCode).
			Msg("Strategy submission failed")
		return nil, err
	}

	run := models.NewQueuedRun(resp.RunID, resp.StrategyCode)
	if run.StrategyCode == "" {
		run.StrategyCode = req.StrategyCode
	}
	run.TotalItems = resp.TotalTickers
	if resp.ExecutionStartedAt != nil {
		run.StartedAt = resp.ExecutionStartedAt
	}

	c.run = run
	c.parameters = req.Parameters
	c.failures = 0
	c.cancelPending = false

	// The backend may already be past queued by the time it answers.
	c.advanceStateLocked(resp.Status, resp.Message)
	c.publishLocked()

	c.logger.Info().
		Str("run_id", run.RunID).
		Str("strategy", run.StrategyCode).
		Str("state", c.run.State.String()).
		Msg("Tracking strategy run")

	return resp, nil
}

// ApplyEvent folds a progress event into the tracked run. Events for other
// runs, events after a terminal state, and events older than the progress
// watermark are discarded.
func (c *Controller) ApplyEvent(event *models.ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run.IsIdle() {
		c.logger.Debug().
			Str("run_id", event.RunID).
			Msg("Discarding progress event with no tracked run")
		return
	}
	if event.RunID != c.run.RunID {
		c.logger.Debug().
			Str("run_id", event.RunID).
			Str("tracked_run_id", c.run.RunID).
			Msg("Discarding progress event for stale run")
		return
	}
	if c.run.IsTerminal() {
		c.logger.Debug().
			Str("run_id", event.RunID).
			Str("state", c.run.State.String()).
			Msg("Discarding progress event for terminal run")
		return
	}

	target := event.EventType.TargetState()

	if target.IsTerminal() {
		c.failures = 0
		c.applyProgressLocked(event)
		c.advanceStateLocked(target, terminalEventMessage(event, target))
		c.publishLocked()
		return
	}

	if c.eventIsStaleLocked(event, target) {
		c.logger.Debug().
			Str("run_id", event.RunID).
			Str("event_type", event.EventType.String()).
			Msg("Discarding stale progress event")
		return
	}

	c.failures = 0
	c.advanceStateLocked(target, "")
	c.applyProgressLocked(event)
	c.publishLocked()
}

// ApplyStatus folds a fetched execution status into the tracked run under
// the same staleness guards as ApplyEvent. CanCancel is taken verbatim:
// the backend's answer is authoritative.
func (c *Controller) ApplyStatus(status *models.ExecutionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run.IsIdle() {
		c.logger.Debug().
			Str("run_id", status.RunID).
			Msg("Discarding status update with no tracked run")
		return
	}
	if status.RunID != c.run.RunID {
		c.logger.Debug().
			Str("run_id", status.RunID).
			Str("tracked_run_id", c.run.RunID).
			Msg("Discarding status update for stale run")
		return
	}
	if c.run.IsTerminal() {
		c.logger.Debug().
			Str("run_id", status.RunID).
			Str("state", c.run.State.String()).
			Msg("Discarding status update for terminal run")
		return
	}

	c.failures = 0
	c.advanceStateLocked(status.Status, terminalMessage(status.Status))

	if c.run.IsTerminal() {
		return
	}

	if pct := status.Percent(); pct > c.run.ProgressPercent {
		c.run.ProgressPercent = pct
	}
	if status.CurrentStage != "" {
		c.run.CurrentStage = status.CurrentStage
	}
	if status.StartedAt != nil && c.run.StartedAt == nil {
		c.run.StartedAt = status.StartedAt
	}
	c.run.CanCancel = status.CanCancel
	now := time.Now().UTC()
	c.run.LastUpdateAt = &now

	c.publishLocked()
}

// Poll fetches the tracked run's status once and folds it in. At most one
// fetch is in flight at a time regardless of how many callers poll.
// Returns false when there is nothing to poll.
func (c *Controller) Poll(ctx context.Context) bool {
	runID, ok := c.ActiveRunID()
	if !ok {
		return false
	}

	c.mu.Lock()
	if c.fetching {
		c.mu.Unlock()
		return true
	}
	c.fetching = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.fetching = false
		c.mu.Unlock()
	}()

	status, err := c.backend.FetchStatus(ctx, runID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		c.RecordFailure(err)
		return true
	}

	c.ApplyStatus(status)
	return true
}

// RecordFailure counts a failed monitoring attempt against the retry
// budget. A failed poll is failed-to-update, not run failure: the run only
// moves to error once the consecutive-failure budget is exhausted, with
// the last watermark frozen and the run ID preserved. Returns true once
// that happens. Decode failures are logged as defects but consume budget
// like the rest, so one corrupt response cannot kill a healthy run.
func (c *Controller) RecordFailure(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run.IsIdle() || c.run.IsTerminal() {
		return false
	}

	c.failures++

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		c.logger.Error().
			Err(err).
			Str("run_id", c.run.RunID).
			Int("consecutive_failures", c.failures).
			Msg("Run monitoring hit an unreadable response")
	} else {
		c.logger.Warn().
			Err(err).
			Str("run_id", c.run.RunID).
			Int("consecutive_failures", c.failures).
			Int("max_failures", c.maxFailures).
			Msg("Run monitoring attempt failed")
	}

	if c.failures < c.maxFailures {
		return false
	}

	c.logger.Error().
		Str("run_id", c.run.RunID).
		Int("consecutive_failures", c.failures).
		Msg("Run monitoring budget exhausted")
	c.run.MarkError(monitoringFailureMessage(err))
	c.publishLocked()
	return true
}

// RequestCancel asks the backend to cancel the tracked run. Duplicate
// requests while one is in flight and requests against an idle or terminal
// run are StateError no-ops. When the backend declines, the status is
// re-fetched so the local view converges on the authoritative answer.
func (c *Controller) RequestCancel(ctx context.Context) (*models.CancelResponse, error) {
	c.mu.Lock()
	if c.run.IsIdle() {
		c.mu.Unlock()
		return nil, &StateError{Operation: "cancel", State: models.ExecutionStateIdle.String()}
	}
	if c.run.IsTerminal() {
		state := c.run.State
		c.mu.Unlock()
		return nil, &StateError{Operation: "cancel", State: state.String()}
	}
	if c.cancelPending {
		c.mu.Unlock()
		return nil, &StateError{Operation: "cancel", Reason: "cancellation already in flight"}
	}
	if !c.run.CanCancel {
		state := c.run.State
		c.mu.Unlock()
		return nil, &StateError{Operation: "cancel", State: state.String(), Reason: "backend reports the run is not cancellable"}
	}
	c.cancelPending = true
	runID := c.run.RunID
	c.mu.Unlock()

	resp, err := c.backend.Cancel(ctx, runID)

	c.mu.Lock()
	c.cancelPending = false
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("run_id", runID).
			Msg("Cancellation request failed")
		return nil, err
	}

	if resp.Cancelled {
		c.mu.Lock()
		if c.run.RunID == runID && !c.run.IsTerminal() {
			message := resp.Message
			if message == "" {
				message = "Cancellation accepted"
			}
			c.run.MarkCancelled(message)
			c.publishLocked()
		}
		c.mu.Unlock()
		return resp, nil
	}

	c.logger.Info().
		Str("run_id", runID).
		Str("reason", resp.Message).
		Msg("Backend declined cancellation, re-fetching status")

	c.Poll(ctx)

	return resp, nil
}

// advanceStateLocked moves the run forward to the given state when the
// state outranks the current one. Terminal states always win; everything
// else only moves forward. Returns true when the state changed.
func (c *Controller) advanceStateLocked(state models.ExecutionState, message string) bool {
	if c.run.IsTerminal() {
		return false
	}
	if !state.IsTerminal() && state.Rank() <= c.run.State.Rank() {
		return false
	}

	switch state {
	case models.ExecutionStateStarting:
		c.run.MarkStarting()
	case models.ExecutionStateRunning:
		c.run.MarkRunning()
	case models.ExecutionStateCompleting:
		c.run.MarkCompleting()
	case models.ExecutionStateCompleted:
		c.run.MarkCompleted(message)
	case models.ExecutionStateCancelled:
		c.run.MarkCancelled(message)
	case models.ExecutionStateError:
		c.run.MarkError(message)
	default:
		return false
	}
	return true
}

// eventIsStaleLocked reports whether the event carries nothing newer than
// the watermark. CompletedItems is the primary ordering key, progress
// percent the secondary, state rank the last resort.
func (c *Controller) eventIsStaleLocked(event *models.ProgressEvent, target models.ExecutionState) bool {
	if completed := event.Completed(); completed >= 0 {
		if completed < c.run.CompletedItems {
			return true
		}
		if completed > c.run.CompletedItems {
			return false
		}
	}
	if pct := event.Percent(); pct >= 0 {
		if pct < c.run.ProgressPercent {
			return true
		}
		if pct > c.run.ProgressPercent {
			return false
		}
	}
	if target.Rank() > c.run.State.Rank() {
		return false
	}
	if target.Rank() < c.run.State.Rank() {
		return true
	}
	if event.Stage != "" && event.Stage != c.run.CurrentStage {
		return false
	}
	if event.CurrentItem != "" && event.CurrentItem != c.run.CurrentItem {
		return false
	}
	if event.Message != "" && event.Message != c.run.Message {
		return false
	}
	return true
}

// applyProgressLocked raises the watermark fields and copies over the
// descriptive ones. Counts and percent never move backwards here.
func (c *Controller) applyProgressLocked(event *models.ProgressEvent) {
	if completed := event.Completed(); completed > c.run.CompletedItems {
		c.run.CompletedItems = completed
	}
	if event.TotalItems != nil && *event.TotalItems > 0 {
		c.run.TotalItems = *event.TotalItems
	}
	if pct := event.Percent(); pct > c.run.ProgressPercent {
		c.run.ProgressPercent = pct
	}
	if event.Stage != "" {
		c.run.CurrentStage = event.Stage
	}
	if event.CurrentItem != "" {
		c.run.CurrentItem = event.CurrentItem
	}
	if event.Message != "" {
		c.run.Message = event.Message
	}
	now := time.Now().UTC()
	c.run.LastUpdateAt = &now
}

// publishLocked pushes the current snapshot to the updates channel and the
// event bus. Terminal snapshots additionally publish a history record.
func (c *Controller) publishLocked() {
	snapshot := c.run

	select {
	case c.updates <- snapshot:
	default:
		select {
		case <-c.updates:
		default:
		}
		select {
		case c.updates <- snapshot:
		default:
		}
	}

	if c.events == nil {
		return
	}

	_ = c.events.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventRunUpdated,
		Payload: snapshot,
	})

	if snapshot.IsTerminal() {
		_ = c.events.Publish(context.Background(), interfaces.Event{
			Type:    interfaces.EventRunTerminal,
			Payload: models.NewRunRecord(snapshot, c.parameters),
		})
	}
}

func terminalMessage(state models.ExecutionState) string {
	switch state {
	case models.ExecutionStateCompleted:
		return "Strategy execution completed"
	case models.ExecutionStateCancelled:
		return "Strategy execution cancelled"
	case models.ExecutionStateError:
		return "Strategy execution failed"
	}
	return ""
}

func terminalEventMessage(event *models.ProgressEvent, target models.ExecutionState) string {
	if event.Message != "" {
		return event.Message
	}
	return terminalMessage(target)
}

func monitoringFailureMessage(err error) string {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return fmt.Sprintf("Run monitoring failed: backend returned status %d", serverErr.StatusCode)
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return "Run monitoring failed: backend sent an unreadable response"
	}
	return "Run monitoring failed: backend unreachable"
}
