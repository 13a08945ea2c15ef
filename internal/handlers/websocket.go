// -----------------------------------------------------------------------
// WebSocket hub - pushes run, queue, and schedule updates to dashboards
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/curro/internal/models"
	"github.com/ternarybob/curro/internal/strategies"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

type WebSocketHandler struct {
	logger           arbor.ILogger
	controller       *strategies.Controller
	queueView        *strategies.QueueView
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	serverInstanceID string // Unique ID generated on startup - clients use to detect server restart
}

func NewWebSocketHandler(controller *strategies.Controller, queueView *strategies.QueueView, logger arbor.ILogger) *WebSocketHandler {
	if logger == nil {
		logger = arbor.NewLogger()
	}

	h := &WebSocketHandler{
		logger:           logger,
		controller:       controller,
		queueView:        queueView,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	return h
}

// Message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StatusUpdate is the initial frame sent on connect: the full tracked
// state so a reconnecting dashboard renders without waiting for a push
type StatusUpdate struct {
	Service          string                   `json:"service"`
	Run              models.Run               `json:"run"`
	Queue            strategies.QueueSnapshot `json:"queue"`
	ServerInstanceID string                   `json:"serverInstanceId"` // Unique ID per server startup - clients clear state on change
}

// ScheduleTriggerUpdate announces a cron-fired submission
type ScheduleTriggerUpdate struct {
	Schedule     string    `json:"schedule"`
	StrategyCode string    `json:"strategy_code"`
	RunID        string    `json:"run_id"`
	Timestamp    time.Time `json:"timestamp"`
}

func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	// Send initial status
	h.sendStatus(conn)

	// Handle client disconnection
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// sendStatus sends the full tracked state to a single client
func (h *WebSocketHandler) sendStatus(conn *websocket.Conn) {
	status := StatusUpdate{
		Service:          "ONLINE",
		ServerInstanceID: h.serverInstanceID,
	}
	if h.controller != nil {
		status.Run = h.controller.Snapshot()
	}
	if h.queueView != nil {
		status.Queue = h.queueView.Snapshot()
	}

	msg := WSMessage{
		Type:    "status",
		Payload: status,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal initial status")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send initial status")
		}
	}
}

// BroadcastRunUpdate sends a run snapshot to all connected clients
func (h *WebSocketHandler) BroadcastRunUpdate(run models.Run) {
	h.broadcast("run_update", run)
}

// BroadcastRunTerminal sends a terminal run record to all connected clients
func (h *WebSocketHandler) BroadcastRunTerminal(record *models.RunRecord) {
	h.broadcast("run_terminal", record)
}

// BroadcastQueueUpdate sends a queue snapshot to all connected clients
func (h *WebSocketHandler) BroadcastQueueUpdate(snapshot strategies.QueueSnapshot) {
	h.broadcast("queue_update", snapshot)
}

// BroadcastScheduleTrigger announces a cron-fired submission to all connected clients
func (h *WebSocketHandler) BroadcastScheduleTrigger(update ScheduleTriggerUpdate) {
	h.broadcast("schedule_trigger", update)
}

// broadcast serializes one message and writes it to every connected client.
// Each connection has its own write mutex so a slow client only blocks
// its own writes.
func (h *WebSocketHandler) broadcast(msgType string, payload interface{}) {
	msg := WSMessage{
		Type:    msgType,
		Payload: payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msgf("Failed to marshal %s message", msgType)
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msgf("Failed to send %s to client", msgType)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
