package incidents

import (
	"strconv"
	"time"
)

// Severity is the incident priority taken from the triggering alert
type Severity string

const (
	SeverityP0 Severity = "P0"
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
)

// ParseSeverity maps an alert severity string onto the Severity enum
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityP0, SeverityP1, SeverityP2, SeverityP3:
		return Severity(s), true
	}
	return "", false
}

// Status is the lifecycle position of an incident
type Status string

const (
	StatusReceived      Status = "RECEIVED"
	StatusInvestigating Status = "INVESTIGATING"
	StatusAnalyzing     Status = "ANALYZING"
	StatusRemediating   Status = "REMEDIATING"
	StatusResolved      Status = "RESOLVED"
)

// MetadataRestartAttempts is the metadata key holding the per-incident restart counter
const MetadataRestartAttempts = "restart_attempts"

// Incident is a tracked operational event and the owner of exactly one timeline
type Incident struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Severity         Severity       `json:"severity"`
	Status           Status         `json:"status"`
	Source           string         `json:"source"`
	AffectedServices []string       `json:"affected_services"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Metadata         map[string]any `json:"metadata"`
}

// IsOpen reports whether the incident has not been resolved yet
func (i *Incident) IsOpen() bool {
	return i.Status != StatusResolved
}

// MetadataInt reads a numeric metadata value. Missing or non-numeric values read as 0;
// JSON round trips turn counters into float64 or json.Number.
func (i *Incident) MetadataInt(key string) int {
	switch n := i.Metadata[key].(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	case string:
		v, _ := strconv.Atoi(n)
		return v
	case interface{ Int64() (int64, error) }:
		v, _ := n.Int64()
		return int(v)
	}
	return 0
}

// Clone returns a copy that shares no mutable state with i
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	c := *i
	c.AffectedServices = append([]string(nil), i.AffectedServices...)
	c.Metadata = make(map[string]any, len(i.Metadata))
	for k, v := range i.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// TimelineEvent is an immutable record of something that happened to an incident
type TimelineEvent struct {
	IncidentID string         `json:"incident_id"`
	Event      string         `json:"event"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Alert is the inbound request that opens an incident
type Alert struct {
	Source           string         `json:"source" validate:"required"`
	AlertType        string         `json:"alert_type" validate:"required"`
	Severity         string         `json:"severity" validate:"required,oneof=P0 P1 P2 P3"`
	Message          string         `json:"message" validate:"required"`
	AffectedServices []string       `json:"affected_services" validate:"required,min=1,dive,required"`
	Timestamp        string         `json:"timestamp" validate:"required,iso8601"`
	Metadata         map[string]any `json:"metadata"`
}
