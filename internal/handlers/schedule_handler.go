package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/curro/internal/scheduler"
)

// ScheduleHandler serves the recurring execution schedules
type ScheduleHandler struct {
	service *scheduler.Service
	logger  arbor.ILogger
}

// NewScheduleHandler creates a new ScheduleHandler
func NewScheduleHandler(service *scheduler.Service, logger arbor.ILogger) *ScheduleHandler {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &ScheduleHandler{
		service: service,
		logger:  logger,
	}
}

// ListHandler handles GET /api/schedules
func (h *ScheduleHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	statuses := h.service.Statuses()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": statuses,
		"count":     len(statuses),
		"running":   h.service.IsRunning(),
	})
}

// TriggerHandler handles POST /api/schedules/trigger?name=X, firing a
// schedule outside its cron cadence
func (h *ScheduleHandler) TriggerHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		WriteError(w, http.StatusBadRequest, "Missing schedule name")
		return
	}

	if err := h.service.Trigger(name); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	WriteSuccess(w, "Schedule "+name+" triggered")
}
