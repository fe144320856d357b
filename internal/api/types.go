package api

import (
	"time"

	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/remediation"
)

// ========== Incident Types ==========

// UpdateStatusRequest is the request body for PUT /api/incidents/:id/status.
type UpdateStatusRequest struct {
	Status incidents.Status `json:"status" validate:"required"`
}

// AddTimelineEventRequest is the request body for POST /api/incidents/:id/timeline.
type AddTimelineEventRequest struct {
	Event    string         `json:"event" validate:"required"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IncidentResponse is an incident with its timeline.
type IncidentResponse struct {
	*incidents.Incident
	Timeline []incidents.TimelineEvent `json:"timeline"`
}

// TimelineResponse is the response body for GET /api/incidents/:id/timeline.
type TimelineResponse struct {
	IncidentID string                    `json:"incident_id"`
	Events     []incidents.TimelineEvent `json:"events"`
}

// EscalationsResponse is the response body for GET /api/escalations.
type EscalationsResponse struct {
	Incidents []IncidentListItem `json:"incidents"`
	CheckedAt time.Time          `json:"checked_at"`
}

// ========== Alert Types ==========

// WebhookAlertError reports one alert of a webhook batch that could not be ingested.
type WebhookAlertError struct {
	Index   int               `json:"index"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// WebhookResponse is the response body for POST /webhook/alertmanager.
type WebhookResponse struct {
	Received int                 `json:"received"`
	Created  []string            `json:"created"`
	Errors   []WebhookAlertError `json:"errors,omitempty"`
}

// ========== Remediation Types ==========

// RemediateRequest is the request body for the remediate, execute and approval endpoints.
type RemediateRequest struct {
	Actions []remediation.RecommendedAction `json:"actions"`
}

// ApprovalResponse is the response body for POST /api/incidents/:id/actions/approval.
type ApprovalResponse struct {
	PendingApproval []string `json:"pending_approval"`
}

// RollbackRequest is the request body for POST /api/incidents/:id/rollback.
type RollbackRequest struct {
	Action remediation.RecommendedAction `json:"action"`
	Reason string                        `json:"reason" validate:"required"`
}

// ExecutionStatusResponse is the response body for GET /api/executions/:id.
type ExecutionStatusResponse struct {
	ExecutionID string                      `json:"execution_id"`
	Status      remediation.ExecutionStatus `json:"status"`
}

// ========== Auth Types ==========

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the response body for POST /auth/login.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	Username  string `json:"username"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// ========== Mapper Output Types ==========

// IncidentListItem is a compact representation of an incident for list views.
type IncidentListItem struct {
	ID               string             `json:"id"`
	Title            string             `json:"title"`
	Severity         incidents.Severity `json:"severity"`
	Status           incidents.Status   `json:"status"`
	Source           string             `json:"source"`
	AffectedServices []string           `json:"affected_services"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}
