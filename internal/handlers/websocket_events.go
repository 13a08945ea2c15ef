package handlers

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/curro/internal/common"
	"github.com/ternarybob/curro/internal/interfaces"
	"github.com/ternarybob/curro/internal/models"
	"github.com/ternarybob/curro/internal/strategies"
)

// EventSubscriber bridges run lifecycle events to WebSocket broadcasts
type EventSubscriber struct {
	handler       *WebSocketHandler
	eventService  interfaces.EventService
	logger        arbor.ILogger
	allowedEvents map[string]bool          // Whitelist of events to broadcast (empty = allow all)
	throttlers    map[string]*rate.Limiter // Rate limiters for high-frequency events
}

// NewEventSubscriber creates and initializes an event subscriber.
// Automatically subscribes to run lifecycle events with config-driven filtering and throttling.
func NewEventSubscriber(handler *WebSocketHandler, eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *EventSubscriber {
	if logger == nil {
		logger = arbor.NewLogger()
	}

	s := &EventSubscriber{
		handler:      handler,
		eventService: eventService,
		logger:       logger,
	}

	// Initialize allowedEvents map (whitelist pattern)
	// Empty list means allow all events
	s.allowedEvents = make(map[string]bool)
	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			s.allowedEvents[eventType] = true
		}
	}

	// Initialize throttlers for high-frequency events
	s.throttlers = make(map[string]*rate.Limiter)
	if config != nil && len(config.ThrottleIntervals) > 0 {
		for eventType, intervalStr := range config.ThrottleIntervals {
			if duration, err := time.ParseDuration(intervalStr); err == nil {
				// Create rate limiter: 1 event per interval (burst=1)
				limiter := rate.NewLimiter(rate.Every(duration), 1)
				s.throttlers[eventType] = limiter
				logger.Debug().
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Throttler initialized for event type")
			} else {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Failed to parse throttle interval - skipping throttler")
			}
		}
	}

	// Check for nil eventService
	if eventService == nil {
		logger.Warn().Msg("EventSubscriber created with nil eventService - subscriptions will be skipped")
		return s
	}

	s.SubscribeAll()

	return s
}

// SubscribeAll registers subscriptions for all run lifecycle events
func (s *EventSubscriber) SubscribeAll() {
	// Early return if eventService is nil
	if s.eventService == nil {
		s.logger.Warn().Msg("Cannot subscribe to events - eventService is nil")
		return
	}

	s.eventService.Subscribe(interfaces.EventRunUpdated, s.handleRunUpdated)
	s.eventService.Subscribe(interfaces.EventRunTerminal, s.handleRunTerminal)
	s.eventService.Subscribe(interfaces.EventQueueUpdated, s.handleQueueUpdated)
	s.eventService.Subscribe(interfaces.EventScheduleTriggered, s.handleScheduleTriggered)

	s.logger.Info().Msg("EventSubscriber registered for run lifecycle events (updated, terminal, queue, schedule)")
}

// handleRunUpdated bridges run snapshots to the run_update broadcast
func (s *EventSubscriber) handleRunUpdated(ctx context.Context, event interfaces.Event) error {
	run, ok := event.Payload.(models.Run)
	if !ok {
		s.logger.Warn().Msg("Invalid run update event payload type")
		return nil
	}

	// Terminal snapshots skip the throttle: a dropped final frame would
	// strand the dashboard on a live state
	if run.IsTerminal() {
		if s.allowedEvent("run_updated") {
			s.handler.BroadcastRunUpdate(run)
		}
		return nil
	}

	if !s.shouldBroadcastEvent("run_updated") {
		return nil
	}

	s.handler.BroadcastRunUpdate(run)
	return nil
}

// handleRunTerminal bridges ledger records to the run_terminal broadcast.
// Never throttled.
func (s *EventSubscriber) handleRunTerminal(ctx context.Context, event interfaces.Event) error {
	if !s.allowedEvent("run_terminal") {
		return nil
	}

	record, ok := event.Payload.(*models.RunRecord)
	if !ok || record == nil {
		s.logger.Warn().Msg("Invalid terminal run event payload type")
		return nil
	}

	s.handler.BroadcastRunTerminal(record)
	return nil
}

// handleQueueUpdated bridges queue snapshots to the queue_update broadcast
func (s *EventSubscriber) handleQueueUpdated(ctx context.Context, event interfaces.Event) error {
	if !s.shouldBroadcastEvent("queue_updated") {
		return nil
	}

	snapshot, ok := event.Payload.(strategies.QueueSnapshot)
	if !ok {
		s.logger.Warn().Msg("Invalid queue update event payload type")
		return nil
	}

	s.handler.BroadcastQueueUpdate(snapshot)
	return nil
}

// handleScheduleTriggered bridges scheduler submissions to the schedule_trigger broadcast
func (s *EventSubscriber) handleScheduleTriggered(ctx context.Context, event interfaces.Event) error {
	if !s.allowedEvent("schedule_triggered") {
		return nil
	}

	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		s.logger.Warn().Msg("Invalid schedule trigger event payload type")
		return nil
	}

	update := ScheduleTriggerUpdate{
		Schedule:     getString(payload, "schedule"),
		StrategyCode: getString(payload, "strategy_code"),
		RunID:        getString(payload, "run_id"),
		Timestamp:    time.Now().UTC(),
	}

	s.handler.BroadcastScheduleTrigger(update)
	return nil
}

// allowedEvent checks the whitelist only (empty allowedEvents = allow all)
func (s *EventSubscriber) allowedEvent(eventType string) bool {
	return len(s.allowedEvents) == 0 || s.allowedEvents[eventType]
}

// shouldBroadcastEvent checks if an event should be broadcast based on whitelist and throttling
func (s *EventSubscriber) shouldBroadcastEvent(eventType string) bool {
	if !s.allowedEvent(eventType) {
		return false
	}

	// Check throttling
	if limiter, ok := s.throttlers[eventType]; ok {
		if !limiter.Allow() {
			s.logger.Debug().
				Str("event_type", eventType).
				Msg("Event throttled - rate limit exceeded")
			return false
		}
	}

	return true
}

// getString extracts a string field from an event payload map
func getString(payload map[string]interface{}, key string) string {
	if val, ok := payload[key].(string); ok {
		return val
	}
	return ""
}
