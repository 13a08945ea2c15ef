package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/curro/internal/interfaces"
	"github.com/ternarybob/curro/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		// Extract common fields from the typed payloads the bus carries
		var runID, state string
		switch payload := event.Payload.(type) {
		case models.Run:
			runID = payload.RunID
			state = string(payload.State)
		case *models.RunRecord:
			if payload != nil {
				runID = payload.RunID
				state = string(payload.FinalState)
			}
		case map[string]interface{}:
			if id, ok := payload["run_id"].(string); ok {
				runID = id
			}
			if s, ok := payload["state"].(string); ok {
				state = s
			}
		}

		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		if runID != "" {
			logEvent = logEvent.Str("run_id", runID)
		}
		if state != "" {
			logEvent = logEvent.Str("state", state)
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventRunUpdated,
		interfaces.EventRunTerminal,
		interfaces.EventQueueUpdated,
		interfaces.EventScheduleTriggered,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Info().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
