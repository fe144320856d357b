package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akmatori/incidentflow/internal/api"
	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/middleware"
	"github.com/akmatori/incidentflow/internal/remediation"
)

// IncidentService is the part of incidents.Store the API serves
type IncidentService interface {
	Get(ctx context.Context, id string) (*incidents.Incident, error)
	List(ctx context.Context) ([]*incidents.Incident, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) (*incidents.Incident, error)
	UpdateStatus(ctx context.Context, id string, status incidents.Status) (*incidents.Incident, error)
	GetHistory(ctx context.Context, id string) ([]incidents.TimelineEvent, error)
	AddTimelineEvent(ctx context.Context, id, text string, metadata map[string]any) error
	CheckEscalationThresholds(ctx context.Context) ([]*incidents.Incident, error)
}

// APIHandler handles the incident and remediation API
type APIHandler struct {
	store       IncidentService
	coordinator *remediation.Coordinator
	logger      *zap.Logger
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(store IncidentService, coordinator *remediation.Coordinator, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		store:       store,
		coordinator: coordinator,
		logger:      logger,
	}
}

// SetupRoutes configures all API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	// Incidents
	mux.HandleFunc("GET /api/incidents", h.handleListIncidents)
	mux.HandleFunc("GET /api/incidents/{id}", h.handleGetIncident)
	mux.HandleFunc("PATCH /api/incidents/{id}", h.handleUpdateIncident)
	mux.HandleFunc("PUT /api/incidents/{id}/status", h.handleUpdateStatus)
	mux.HandleFunc("GET /api/incidents/{id}/timeline", h.handleGetTimeline)
	mux.HandleFunc("POST /api/incidents/{id}/timeline", h.handleAddTimelineEvent)
	mux.HandleFunc("GET /api/escalations", h.handleEscalations)

	// Remediation
	mux.HandleFunc("POST /api/incidents/{id}/remediate", h.handleRemediate)
	mux.HandleFunc("POST /api/incidents/{id}/actions/execute", h.handleExecuteSafeActions)
	mux.HandleFunc("POST /api/incidents/{id}/actions/approval", h.handleRequestApproval)
	mux.HandleFunc("POST /api/incidents/{id}/rollback", h.handleRollback)
	mux.HandleFunc("GET /api/executions/{id}", h.handleExecutionStatus)
}

// ========== Incidents ==========

// handleListIncidents handles GET /api/incidents with optional status and severity filters.
// Pagination applies only when page or per_page is given.
func (h *APIHandler) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list incidents", zap.Error(err))
		api.RespondDomainError(w, err)
		return
	}

	query := r.URL.Query()
	status := strings.ToUpper(query.Get("status"))
	severity := strings.ToUpper(query.Get("severity"))
	filtered := make([]*incidents.Incident, 0, len(list))
	for _, incident := range list {
		if status != "" && string(incident.Status) != status {
			continue
		}
		if severity != "" && string(incident.Severity) != severity {
			continue
		}
		filtered = append(filtered, incident)
	}
	items := api.IncidentsToListItems(filtered)

	if query.Get("page") == "" && query.Get("per_page") == "" {
		api.RespondJSON(w, http.StatusOK, items)
		return
	}

	page, meta := api.Page(items, api.ParsePagination(r))
	api.RespondJSON(w, http.StatusOK, api.PaginatedResponse{Data: page, Pagination: meta})
}

// handleGetIncident handles GET /api/incidents/{id}
func (h *APIHandler) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	incident, err := h.store.Get(r.Context(), id)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	if incident == nil {
		api.RespondErrorWithCode(w, http.StatusNotFound, api.CodeNotFound, "Incident not found")
		return
	}

	timeline, err := h.store.GetHistory(r.Context(), id)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.IncidentResponse{Incident: incident, Timeline: timeline})
}

// handleUpdateIncident handles PATCH /api/incidents/{id}
func (h *APIHandler) handleUpdateIncident(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := api.DecodeJSON(r, &fields); err != nil {
		api.RespondDomainError(w, err)
		return
	}

	incident, err := h.store.UpdateFields(r.Context(), r.PathValue("id"), fields)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	if incident == nil {
		api.RespondErrorWithCode(w, http.StatusNotFound, api.CodeNotFound, "Incident not found")
		return
	}
	api.RespondJSON(w, http.StatusOK, incident)
}

// handleUpdateStatus handles PUT /api/incidents/{id}/status
func (h *APIHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateStatusRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondDomainError(w, err)
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	incident, err := h.store.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, incident)
}

// handleGetTimeline handles GET /api/incidents/{id}/timeline
func (h *APIHandler) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.requireIncident(w, r, id) {
		return
	}

	events, err := h.store.GetHistory(r.Context(), id)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.TimelineResponse{IncidentID: id, Events: events})
}

// handleAddTimelineEvent handles POST /api/incidents/{id}/timeline
func (h *APIHandler) handleAddTimelineEvent(w http.ResponseWriter, r *http.Request) {
	var req api.AddTimelineEventRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondDomainError(w, err)
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	metadata := req.Metadata
	if operator := middleware.OperatorFromContext(r.Context()); operator != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, ok := metadata["author"]; !ok {
			metadata["author"] = operator
		}
	}

	id := r.PathValue("id")
	if err := h.store.AddTimelineEvent(r.Context(), id, req.Event, metadata); err != nil {
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// handleEscalations handles GET /api/escalations
func (h *APIHandler) handleEscalations(w http.ResponseWriter, r *http.Request) {
	flagged, err := h.store.CheckEscalationThresholds(r.Context())
	if err != nil {
		h.logger.Error("failed to check escalation thresholds", zap.Error(err))
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.EscalationsResponse{
		Incidents: api.IncidentsToListItems(flagged),
		CheckedAt: time.Now().UTC(),
	})
}

// ========== Remediation ==========

// handleRemediate handles POST /api/incidents/{id}/remediate
func (h *APIHandler) handleRemediate(w http.ResponseWriter, r *http.Request) {
	h.runRemediation(w, r, h.coordinator.Remediate)
}

// handleExecuteSafeActions handles POST /api/incidents/{id}/actions/execute
func (h *APIHandler) handleExecuteSafeActions(w http.ResponseWriter, r *http.Request) {
	h.runRemediation(w, r, h.coordinator.ExecuteSafeActions)
}

type remediateFunc func(ctx context.Context, incidentID string, actions []remediation.RecommendedAction) (*remediation.Result, error)

func (h *APIHandler) runRemediation(w http.ResponseWriter, r *http.Request, run remediateFunc) {
	var req api.RemediateRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondDomainError(w, err)
		return
	}

	// remediation runs to completion even if the client goes away
	id := r.PathValue("id")
	result, err := run(context.WithoutCancel(r.Context()), id, req.Actions)
	if err != nil {
		h.logger.Warn("remediation aborted", zap.String("incident_id", id), zap.Error(err))
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, result)
}

// handleRequestApproval handles POST /api/incidents/{id}/actions/approval
func (h *APIHandler) handleRequestApproval(w http.ResponseWriter, r *http.Request) {
	var req api.RemediateRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondDomainError(w, err)
		return
	}

	id := r.PathValue("id")
	if !h.requireIncident(w, r, id) {
		return
	}

	pending := h.coordinator.RequestApproval(context.WithoutCancel(r.Context()), id, req.Actions)
	api.RespondJSON(w, http.StatusOK, api.ApprovalResponse{PendingApproval: pending})
}

// handleRollback handles POST /api/incidents/{id}/rollback
func (h *APIHandler) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req api.RollbackRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondDomainError(w, err)
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}
	if strings.TrimSpace(req.Action.ActionType) == "" {
		api.RespondValidationError(w, map[string]string{"action.action_type": "is required"})
		return
	}

	id := r.PathValue("id")
	if !h.requireIncident(w, r, id) {
		return
	}

	result := h.coordinator.Rollback(context.WithoutCancel(r.Context()), id, req.Action, req.Reason)
	api.RespondJSON(w, http.StatusOK, result)
}

// handleExecutionStatus handles GET /api/executions/{id}
func (h *APIHandler) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := h.coordinator.ExecutionStatus(r.Context(), id)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.ExecutionStatusResponse{ExecutionID: id, Status: status})
}

// requireIncident writes a 404 and returns false when the incident does not exist
func (h *APIHandler) requireIncident(w http.ResponseWriter, r *http.Request, id string) bool {
	incident, err := h.store.Get(r.Context(), id)
	if err != nil {
		api.RespondDomainError(w, err)
		return false
	}
	if incident == nil {
		api.RespondErrorWithCode(w, http.StatusNotFound, api.CodeNotFound, "Incident not found")
		return false
	}
	return true
}
