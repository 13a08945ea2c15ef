package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/curro/internal/history"
	"github.com/ternarybob/curro/internal/interfaces"
	"github.com/ternarybob/curro/internal/models"
)

// HistoryHandler serves the terminal run ledger
type HistoryHandler struct {
	service *history.Service
	logger  arbor.ILogger
}

// NewHistoryHandler creates a new HistoryHandler
func NewHistoryHandler(service *history.Service, logger arbor.ILogger) *HistoryHandler {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &HistoryHandler{
		service: service,
		logger:  logger,
	}
}

// ListHandler handles GET /api/history with optional strategy, state,
// limit, and offset query parameters
func (h *HistoryHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit, offset := GetListParams(r)
	opts := &interfaces.RunListOptions{
		StrategyCode: r.URL.Query().Get("strategy"),
		Limit:        limit,
		Offset:       offset,
	}

	if stateStr := r.URL.Query().Get("state"); stateStr != "" {
		state, ok := models.ParseExecutionState(stateStr)
		if !ok {
			WriteError(w, http.StatusBadRequest, "Unknown state filter: "+stateStr)
			return
		}
		opts.FinalState = state
	}

	records, err := h.service.List(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list run history")
		WriteError(w, http.StatusInternalServerError, "Failed to list run history")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":   records,
		"count":  len(records),
		"limit":  limit,
		"offset": offset,
	})
}

// SummaryHandler handles GET /api/history/summary
func (h *HistoryHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	summary, err := h.service.Summarize(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to summarize run history")
		WriteError(w, http.StatusInternalServerError, "Failed to summarize run history")
		return
	}

	WriteJSON(w, http.StatusOK, summary)
}

// DetailHandler handles GET /api/history/{run_id}
func (h *HistoryHandler) DetailHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/api/history/")
	if runID == "" || strings.Contains(runID, "/") {
		WriteError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	record, err := h.service.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, interfaces.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to load run record")
		WriteError(w, http.StatusInternalServerError, "Failed to load run record")
		return
	}

	WriteJSON(w, http.StatusOK, record)
}
