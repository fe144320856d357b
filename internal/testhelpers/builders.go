package testhelpers

import (
	"time"

	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/remediation"
)

// ========================================
// Alert Builder
// ========================================

// AlertBuilder builds incidents.Alert instances for testing
type AlertBuilder struct {
	alert incidents.Alert
}

// NewAlertBuilder creates a valid P2 alert for the api service
func NewAlertBuilder() *AlertBuilder {
	return &AlertBuilder{
		alert: incidents.Alert{
			Source:           "prometheus",
			AlertType:        "HighErrorRate",
			Severity:         string(incidents.SeverityP2),
			Message:          "Error rate above 5%",
			AffectedServices: []string{"api"},
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
			Metadata:         map[string]any{},
		},
	}
}

// WithSource sets the source
func (b *AlertBuilder) WithSource(source string) *AlertBuilder {
	b.alert.Source = source
	return b
}

// WithType sets the alert type
func (b *AlertBuilder) WithType(alertType string) *AlertBuilder {
	b.alert.AlertType = alertType
	return b
}

// WithSeverity sets the severity
func (b *AlertBuilder) WithSeverity(severity incidents.Severity) *AlertBuilder {
	b.alert.Severity = string(severity)
	return b
}

// WithMessage sets the message
func (b *AlertBuilder) WithMessage(message string) *AlertBuilder {
	b.alert.Message = message
	return b
}

// WithServices replaces the affected services
func (b *AlertBuilder) WithServices(services ...string) *AlertBuilder {
	b.alert.AffectedServices = services
	return b
}

// WithTimestamp sets the timestamp string as given
func (b *AlertBuilder) WithTimestamp(ts string) *AlertBuilder {
	b.alert.Timestamp = ts
	return b
}

// WithMetadata adds one metadata entry
func (b *AlertBuilder) WithMetadata(key string, value any) *AlertBuilder {
	if b.alert.Metadata == nil {
		b.alert.Metadata = map[string]any{}
	}
	b.alert.Metadata[key] = value
	return b
}

// Build returns the constructed alert
func (b *AlertBuilder) Build() incidents.Alert {
	return b.alert
}

// ========================================
// Incident Builder
// ========================================

// IncidentBuilder builds Incident instances for seeding repositories directly
type IncidentBuilder struct {
	incident incidents.Incident
}

// NewIncidentBuilder creates a RECEIVED P2 incident
func NewIncidentBuilder() *IncidentBuilder {
	now := time.Now().UTC()
	return &IncidentBuilder{
		incident: incidents.Incident{
			ID:               "inc-test",
			Title:            "HighErrorRate - api",
			Description:      "Error rate above 5%",
			Severity:         incidents.SeverityP2,
			Status:           incidents.StatusReceived,
			Source:           "prometheus",
			AffectedServices: []string{"api"},
			CreatedAt:        now,
			UpdatedAt:        now,
			Metadata:         map[string]any{},
		},
	}
}

// WithID sets the incident ID
func (b *IncidentBuilder) WithID(id string) *IncidentBuilder {
	b.incident.ID = id
	return b
}

// WithSeverity sets the severity
func (b *IncidentBuilder) WithSeverity(severity incidents.Severity) *IncidentBuilder {
	b.incident.Severity = severity
	return b
}

// WithStatus sets the status
func (b *IncidentBuilder) WithStatus(status incidents.Status) *IncidentBuilder {
	b.incident.Status = status
	return b
}

// CreatedAt sets both timestamps
func (b *IncidentBuilder) CreatedAt(t time.Time) *IncidentBuilder {
	b.incident.CreatedAt = t
	b.incident.UpdatedAt = t
	return b
}

// Build returns the constructed incident
func (b *IncidentBuilder) Build() *incidents.Incident {
	incident := b.incident
	return incident.Clone()
}

// ========================================
// Action Builder
// ========================================

// ActionBuilder builds remediation.RecommendedAction instances for testing
type ActionBuilder struct {
	action remediation.RecommendedAction
}

// NewActionBuilder creates a low-risk restart of the api service
func NewActionBuilder() *ActionBuilder {
	return &ActionBuilder{
		action: remediation.RecommendedAction{
			ActionType:      "restart_service",
			Description:     "Restart the api service",
			Target:          "api",
			RiskLevel:       remediation.RiskAutonomousSafe,
			EstimatedImpact: "brief unavailability",
		},
	}
}

// WithType sets the action type
func (b *ActionBuilder) WithType(actionType string) *ActionBuilder {
	b.action.ActionType = actionType
	return b
}

// WithTarget sets the target
func (b *ActionBuilder) WithTarget(target string) *ActionBuilder {
	b.action.Target = target
	return b
}

// WithRisk sets the risk level
func (b *ActionBuilder) WithRisk(risk remediation.RiskLevel) *ActionBuilder {
	b.action.RiskLevel = risk
	return b
}

// WithParam adds one parameter
func (b *ActionBuilder) WithParam(key string, value any) *ActionBuilder {
	if b.action.Parameters == nil {
		b.action.Parameters = map[string]any{}
	}
	b.action.Parameters[key] = value
	return b
}

// Build returns the constructed action
func (b *ActionBuilder) Build() remediation.RecommendedAction {
	return b.action
}
