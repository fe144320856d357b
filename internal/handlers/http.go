package handlers

import (
	"net/http"

	"github.com/akmatori/incidentflow/internal/api"
)

// WorkerStatus reports whether a remediation worker is connected
type WorkerStatus interface {
	IsWorkerConnected() bool
}

// HTTPHandler handles HTTP endpoints
type HTTPHandler struct {
	workers WorkerStatus
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(workers WorkerStatus) *HTTPHandler {
	return &HTTPHandler{workers: workers}
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
}

// handleHealth returns a simple health check response
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	connected := h.workers != nil && h.workers.IsWorkerConnected()
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"version":          "1.0.0",
		"worker_connected": connected,
	})
}
