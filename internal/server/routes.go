// -----------------------------------------------------------------------
// Route table for the run lifecycle API
// -----------------------------------------------------------------------

package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (bypasses middleware, see withConditionalMiddleware)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Run lifecycle
	mux.HandleFunc("/api/run", s.app.RunHandler.HandleRun)              // GET snapshot, POST submit
	mux.HandleFunc("/api/run/cancel", s.app.RunHandler.CancelHandler)   // POST cancel active run
	mux.HandleFunc("/api/run/results", s.app.RunHandler.ResultsHandler) // GET backend results passthrough

	// Backend queue visibility
	mux.HandleFunc("/api/queue", s.app.QueueHandler.HandleQueue)            // GET cached snapshot
	mux.HandleFunc("/api/queue/refresh", s.app.QueueHandler.RefreshHandler) // POST forced refresh

	// Run history (persisted terminal runs)
	mux.HandleFunc("/api/history", s.app.HistoryHandler.ListHandler)
	mux.HandleFunc("/api/history/", s.handleHistoryRoutes)

	// Schedules
	mux.HandleFunc("/api/schedules", s.app.ScheduleHandler.ListHandler)
	mux.HandleFunc("/api/schedules/trigger", s.app.ScheduleHandler.TriggerHandler)

	// System routes
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Graceful shutdown endpoint (dev mode only)
	if !s.app.Config.IsProduction() {
		mux.HandleFunc("/api/shutdown", s.ShutdownHandler)
	}

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleHistoryRoutes routes history sub-paths to the appropriate handler
func (s *Server) handleHistoryRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/history/")

	switch path {
	case "":
		s.app.HistoryHandler.ListHandler(w, r)
	case "summary":
		s.app.HistoryHandler.SummaryHandler(w, r)
	default:
		// GET /api/history/{run_id}
		s.app.HistoryHandler.DetailHandler(w, r)
	}
}
