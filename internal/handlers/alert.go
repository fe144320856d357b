package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/akmatori/incidentflow/internal/alerts"
	"github.com/akmatori/incidentflow/internal/api"
	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/utils"
)

// IncidentCreator opens incidents from alerts
type IncidentCreator interface {
	Create(ctx context.Context, alert incidents.Alert) (*incidents.Incident, error)
}

// AlertHandler turns direct alert posts and source webhooks into incidents
type AlertHandler struct {
	creator       IncidentCreator
	webhookSecret string
	logger        *zap.Logger

	// Registered adapters by source type
	adapters map[string]alerts.AlertAdapter
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(creator IncidentCreator, webhookSecret string, logger *zap.Logger) *AlertHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertHandler{
		creator:       creator,
		webhookSecret: webhookSecret,
		logger:        logger,
		adapters:      make(map[string]alerts.AlertAdapter),
	}
}

// RegisterAdapter registers an alert adapter for a source type
func (h *AlertHandler) RegisterAdapter(adapter alerts.AlertAdapter) {
	h.adapters[adapter.GetSourceType()] = adapter
	h.logger.Info("registered alert adapter", zap.String("source", adapter.GetSourceType()))
}

// SetupRoutes configures alert ingestion routes
func (h *AlertHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/alerts", h.HandleAlert)
	mux.HandleFunc("POST /webhook/{source}", h.HandleWebhook)
}

// HandleAlert handles POST /api/alerts with a single alert body
func (h *AlertHandler) HandleAlert(w http.ResponseWriter, r *http.Request) {
	var alert incidents.Alert
	if err := api.DecodeJSON(r, &alert); err != nil {
		api.RespondDomainError(w, err)
		return
	}

	incident, err := h.creator.Create(r.Context(), alert)
	if err != nil {
		api.RespondDomainError(w, err)
		return
	}

	h.logger.Info("incident created",
		zap.String("incident_id", incident.ID),
		zap.String("severity", string(incident.Severity)),
		zap.String("source", incident.Source))
	api.RespondJSON(w, http.StatusCreated, incident)
}

// HandleWebhook processes incoming webhook requests
// Route: /webhook/{source}
func (h *AlertHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	adapter, ok := h.adapters[source]
	if !ok {
		api.RespondError(w, http.StatusNotFound, "Unsupported source type")
		return
	}

	if err := adapter.ValidateWebhookSecret(r, h.webhookSecret); err != nil {
		h.logger.Warn("webhook secret validation failed",
			zap.String("source", source),
			zap.String("remote_addr", r.RemoteAddr))
		api.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.MaxBodySize))
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	parsed, err := adapter.ParsePayload(body)
	if err != nil {
		h.logger.Warn("failed to parse webhook payload",
			zap.String("source", source),
			zap.String("body", utils.EscapeForLogging(string(body), 256)),
			zap.Error(err))
		api.RespondError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	resp := api.WebhookResponse{
		Received: len(parsed),
		Created:  []string{},
	}
	for i, alert := range parsed {
		incident, err := h.creator.Create(r.Context(), alert)
		if err != nil {
			resp.Errors = append(resp.Errors, webhookError(i, err))
			h.logger.Warn("failed to create incident from webhook alert",
				zap.String("source", source),
				zap.String("alert_type", alert.AlertType),
				zap.Error(err))
			continue
		}
		resp.Created = append(resp.Created, incident.ID)
	}

	h.logger.Info("webhook processed",
		zap.String("source", source),
		zap.Int("received", resp.Received),
		zap.Int("created", len(resp.Created)))
	api.RespondJSON(w, http.StatusOK, resp)
}

func webhookError(index int, err error) api.WebhookAlertError {
	e := api.WebhookAlertError{Index: index, Error: err.Error()}
	var verr *incidents.ValidationError
	if errors.As(err, &verr) {
		e.Error = incidents.ErrValidation.Error()
		e.Details = verr.Fields
	}
	return e
}
