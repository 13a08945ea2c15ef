// -----------------------------------------------------------------------
// Stream - websocket transport for backend progress events
// -----------------------------------------------------------------------

package strategies

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/curro/internal/models"
)

const (
	// DefaultStreamReconnectDelay spaces dial attempts while the backend
	// stream is unavailable.
	DefaultStreamReconnectDelay = 3 * time.Second

	streamHandshakeTimeout = 10 * time.Second
)

// Stream consumes the backend's progress event feed over websocket and
// applies each frame to the controller. It follows the tracked run:
// connects when a run is active, reconnects on failure, and goes dormant
// once the run is terminal. The poller stays on as the safety net, so a
// lost frame costs latency, never correctness.
type Stream struct {
	controller *Controller
	baseURL    string
	dialer     *websocket.Dialer
	reconnect  time.Duration
	logger     arbor.ILogger
}

// NewStream creates a stream transport against the backend base URL.
func NewStream(controller *Controller, baseURL string, logger arbor.ILogger) *Stream {
	if logger == nil {
		logger = arbor.NewLogger()
	}

	return &Stream{
		controller: controller,
		baseURL:    strings.TrimRight(baseURL, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: streamHandshakeTimeout,
		},
		reconnect: DefaultStreamReconnectDelay,
		logger:    logger,
	}
}

// StreamURL returns the websocket endpoint for a run.
func (s *Stream) StreamURL(runID string) string {
	wsBase := s.baseURL
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	return wsBase + "/strategies/stream/" + url.PathEscape(runID)
}

// Run keeps a stream attached to the active run until the context is
// cancelled. Between runs, and after a dropped connection, it waits out
// the reconnect delay before trying again.
func (s *Stream) Run(ctx context.Context) {
	ticker := time.NewTicker(s.reconnect)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runID, ok := s.controller.ActiveRunID()
		if !ok {
			continue
		}

		if err := s.consume(ctx, runID); err != nil && ctx.Err() == nil {
			s.logger.Debug().
				Err(err).
				Str("run_id", runID).
				Msg("Progress stream interrupted, polling covers until reconnect")
		}
	}
}

// consume reads progress frames for one run until the connection drops,
// the run leaves the active window, or the context ends. Stream failures
// never touch the controller's retry budget; the poller owns that.
func (s *Stream) consume(ctx context.Context, runID string) error {
	streamURL := s.StreamURL(runID)

	conn, _, err := s.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return &TransportError{Endpoint: streamURL, Err: err}
	}
	defer conn.Close()

	s.logger.Info().
		Str("run_id", runID).
		Msg("Progress stream connected")

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if _, active := s.controller.ActiveRunID(); !active {
			return nil
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return &TransportError{Endpoint: streamURL, Err: err}
			}
			return nil
		}

		event, warnings, err := models.DecodeProgressEvent(frame)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("run_id", runID).
				Msg("Dropping undecodable progress frame")
			continue
		}
		for _, warning := range warnings {
			s.logger.Warn().
				Str("run_id", runID).
				Msg(warning)
		}

		s.controller.ApplyEvent(event)

		if event.EventType.IsTerminal() {
			return nil
		}
	}
}
