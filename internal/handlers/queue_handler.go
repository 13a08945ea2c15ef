package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/curro/internal/strategies"
)

// QueueHandler serves the backend queue view
type QueueHandler struct {
	view   *strategies.QueueView
	logger arbor.ILogger
}

// NewQueueHandler creates a new QueueHandler
func NewQueueHandler(view *strategies.QueueView, logger arbor.ILogger) *QueueHandler {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &QueueHandler{
		view:   view,
		logger: logger,
	}
}

// HandleQueue handles GET /api/queue. An unavailable view still answers
// 200 with available=false so the dashboard can degrade instead of error.
func (h *QueueHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, h.view.Snapshot())
}

// RefreshHandler handles POST /api/queue/refresh, forcing a fetch outside
// the periodic cadence. The refreshed snapshot reports the failure itself,
// so the response is 200 either way.
func (h *QueueHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	_ = h.view.Refresh(r.Context())
	WriteJSON(w, http.StatusOK, h.view.Snapshot())
}
