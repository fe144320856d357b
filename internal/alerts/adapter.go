package alerts

import (
	"net/http"
	"strings"

	"github.com/akmatori/incidentflow/internal/incidents"
)

// AlertAdapter defines the interface for source-specific alert parsing
type AlertAdapter interface {
	// GetSourceType returns the source type name (e.g., "alertmanager")
	GetSourceType() string

	// ValidateWebhookSecret checks the request against the configured secret.
	// An empty secret accepts every request.
	ValidateWebhookSecret(r *http.Request, secret string) error

	// ParsePayload parses the raw request body into incident alerts.
	// A single webhook can contain multiple alerts (e.g., Alertmanager groups)
	ParsePayload(body []byte) ([]incidents.Alert, error)
}

// BaseAdapter provides common functionality for all adapters
type BaseAdapter struct {
	SourceType string
}

// GetSourceType returns the source type name
func (b *BaseAdapter) GetSourceType() string {
	return b.SourceType
}

// NormalizeSeverity maps a source severity onto P0-P3.
// Unknown values map to P2.
func NormalizeSeverity(severity string, severityMapping map[incidents.Severity][]string) incidents.Severity {
	severity = strings.ToLower(strings.TrimSpace(severity))

	// Check direct match first
	switch severity {
	case "critical":
		return incidents.SeverityP0
	case "high":
		return incidents.SeverityP1
	case "warning":
		return incidents.SeverityP2
	case "info", "informational":
		return incidents.SeverityP3
	}
	if s, ok := incidents.ParseSeverity(strings.ToUpper(severity)); ok {
		return s
	}

	for normalized, aliases := range severityMapping {
		for _, alias := range aliases {
			if strings.ToLower(alias) == severity {
				return normalized
			}
		}
	}

	return incidents.SeverityP2
}

// IsFiring reports whether a source status means the alert is active
func IsFiring(status string) bool {
	switch strings.ToLower(status) {
	case "resolved", "ok", "recovery", "inactive":
		return false
	default:
		return true
	}
}

// DefaultSeverityMapping provides default mapping for common severity values
var DefaultSeverityMapping = map[incidents.Severity][]string{
	incidents.SeverityP0: {"disaster", "emergency", "fatal", "page"},
	incidents.SeverityP1: {"major", "error", "severe"},
	incidents.SeverityP2: {"minor", "average", "warn"},
	incidents.SeverityP3: {"low", "notice", "debug", "none"},
}
