package adapters

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/akmatori/incidentflow/internal/alerts"
	"github.com/akmatori/incidentflow/internal/incidents"
)

// AlertmanagerAdapter handles Prometheus Alertmanager webhooks
type AlertmanagerAdapter struct {
	alerts.BaseAdapter
	now func() time.Time
}

// NewAlertmanagerAdapter creates a new Alertmanager adapter
func NewAlertmanagerAdapter() *AlertmanagerAdapter {
	return &AlertmanagerAdapter{
		BaseAdapter: alerts.BaseAdapter{SourceType: "alertmanager"},
		now:         time.Now,
	}
}

// AlertmanagerPayload represents the webhook payload from Alertmanager
type AlertmanagerPayload struct {
	Alerts            []AlertmanagerAlert `json:"alerts"`
	Status            string              `json:"status"`
	Receiver          string              `json:"receiver"`
	GroupLabels       map[string]string   `json:"groupLabels"`
	CommonLabels      map[string]string   `json:"commonLabels"`
	CommonAnnotations map[string]string   `json:"commonAnnotations"`
	ExternalURL       string              `json:"externalURL"`
	Version           string              `json:"version"`
	GroupKey          string              `json:"groupKey"`
}

// AlertmanagerAlert represents a single alert in the payload
type AlertmanagerAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// ValidateWebhookSecret validates the webhook secret header
func (a *AlertmanagerAdapter) ValidateWebhookSecret(r *http.Request, secret string) error {
	if secret == "" {
		return nil // No secret configured, allow request
	}

	// Check custom header first
	got := r.Header.Get("X-Alertmanager-Secret")
	if got == "" {
		// Also check Authorization header for bearer style
		got = r.Header.Get("Authorization")
	}

	if !secretEqual(got, secret) && !secretEqual(got, "Bearer "+secret) {
		return fmt.Errorf("invalid webhook secret")
	}
	return nil
}

func secretEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ParsePayload converts the firing alerts of a webhook into incident alerts.
// Resolved alerts are skipped.
func (a *AlertmanagerAdapter) ParsePayload(body []byte) ([]incidents.Alert, error) {
	var payload AlertmanagerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse alertmanager payload: %w", err)
	}

	out := make([]incidents.Alert, 0, len(payload.Alerts))
	for _, alert := range payload.Alerts {
		status := alert.Status
		if status == "" {
			status = payload.Status
		}
		if !alerts.IsFiring(status) {
			continue
		}
		out = append(out, a.parseAlert(alert, payload))
	}
	return out, nil
}

func (a *AlertmanagerAdapter) parseAlert(alert AlertmanagerAlert, payload AlertmanagerPayload) incidents.Alert {
	labels := merged(payload.CommonLabels, alert.Labels)
	annotations := merged(payload.CommonAnnotations, alert.Annotations)

	message := annotations["summary"]
	if message == "" {
		message = annotations["description"]
	}
	if message == "" {
		message = labels["alertname"]
	}

	startedAt := alert.StartsAt
	if startedAt.IsZero() {
		startedAt = a.now()
	}

	metadata := map[string]any{
		"labels": labels,
	}
	if alert.Fingerprint != "" {
		metadata["fingerprint"] = alert.Fingerprint
	}
	if alert.GeneratorURL != "" {
		metadata["generator_url"] = alert.GeneratorURL
	}
	if url := annotations["runbook_url"]; url != "" {
		metadata["runbook_url"] = url
	}
	if d := annotations["description"]; d != "" && d != message {
		metadata["description"] = d
	}

	return incidents.Alert{
		Source:           a.SourceType,
		AlertType:        labels["alertname"],
		Severity:         string(alerts.NormalizeSeverity(labels["severity"], alerts.DefaultSeverityMapping)),
		Message:          message,
		AffectedServices: services(labels),
		Timestamp:        startedAt.UTC().Format(time.RFC3339Nano),
		Metadata:         metadata,
	}
}

// services picks the affected service from the service label, falling back to job
func services(labels map[string]string) []string {
	for _, key := range []string{"service", "job"} {
		if v := labels[key]; v != "" {
			return []string{v}
		}
	}
	return []string{}
}

func merged(common, own map[string]string) map[string]string {
	out := make(map[string]string, len(common)+len(own))
	for k, v := range common {
		out[k] = v
	}
	for k, v := range own {
		out[k] = v
	}
	return out
}
