package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/curro/internal/models"
	"github.com/ternarybob/curro/internal/strategies"
)

// ResultsFetcher retrieves the result payload for a completed run.
type ResultsFetcher interface {
	FetchResults(ctx context.Context, runID string) (json.RawMessage, error)
}

// RunHandler exposes the tracked run over HTTP: submission, the current
// snapshot, cancellation, and result retrieval.
type RunHandler struct {
	controller *strategies.Controller
	results    ResultsFetcher
	logger     arbor.ILogger
}

// NewRunHandler creates a new RunHandler
func NewRunHandler(controller *strategies.Controller, results ResultsFetcher, logger arbor.ILogger) *RunHandler {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &RunHandler{
		controller: controller,
		results:    results,
		logger:     logger,
	}
}

// HandleRun routes GET /api/run to the current snapshot and POST /api/run
// to submission
func (h *RunHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		WriteJSON(w, http.StatusOK, h.controller.Snapshot())
	case http.MethodPost:
		h.submitRun(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// submitRun parses and submits an execution request
func (h *RunHandler) submitRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var req models.StrategyExecutionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}

	if err := req.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.controller.Submit(r.Context(), &req)
	if err != nil {
		h.writeRunError(w, err, "Submission failed")
		return
	}

	WriteJSON(w, http.StatusAccepted, resp)
}

// CancelHandler handles POST /api/run/cancel
func (h *RunHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	resp, err := h.controller.RequestCancel(r.Context())
	if err != nil {
		h.writeRunError(w, err, "Cancel request failed")
		return
	}

	WriteJSON(w, http.StatusOK, resp)
}

// ResultsHandler handles GET /api/run/results. Without a run_id query
// parameter it serves the tracked run's results.
func (h *RunHandler) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		runID = h.controller.Snapshot().RunID
	}
	if runID == "" {
		WriteError(w, http.StatusNotFound, "No tracked run")
		return
	}

	results, err := h.results.FetchResults(r.Context(), runID)
	if err != nil {
		h.writeRunError(w, err, "Results fetch failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(results)
}

// writeRunError maps the backend error taxonomy onto HTTP responses.
// State conflicts are the caller's problem (409), backend rejections pass
// through, everything else is a gateway failure.
func (h *RunHandler) writeRunError(w http.ResponseWriter, err error, logMsg string) {
	var stateErr *strategies.StateError
	if errors.As(err, &stateErr) {
		WriteError(w, http.StatusConflict, stateErr.Error())
		return
	}

	var serverErr *strategies.ServerError
	if errors.As(err, &serverErr) {
		h.logger.Warn().Err(err).Int("status_code", serverErr.StatusCode).Msg(logMsg)
		if serverErr.StatusCode >= 400 && serverErr.StatusCode < 500 {
			WriteError(w, serverErr.StatusCode, err.Error())
			return
		}
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	var decodeErr *strategies.DecodeError
	if errors.As(err, &decodeErr) {
		h.logger.Error().Err(err).Msg(logMsg)
		WriteError(w, http.StatusBadGateway, "Backend sent an unreadable response")
		return
	}

	h.logger.Warn().Err(err).Msg(logMsg)
	WriteError(w, http.StatusBadGateway, "Backend unreachable")
}
