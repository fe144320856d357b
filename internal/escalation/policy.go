package escalation

import (
	"time"

	"github.com/akmatori/incidentflow/internal/incidents"
)

// DefaultThresholds is how long an incident of each severity may stay open
var DefaultThresholds = map[incidents.Severity]time.Duration{
	incidents.SeverityP0: 5 * time.Minute,
	incidents.SeverityP1: 15 * time.Minute,
	incidents.SeverityP2: time.Hour,
	incidents.SeverityP3: 4 * time.Hour,
}

// Policy is a severity -> threshold table. It implements incidents.EscalationEvaluator.
type Policy struct {
	thresholds map[incidents.Severity]time.Duration
}

// NewPolicy builds a policy from DefaultThresholds with the given overrides applied.
// Non-positive overrides are ignored.
func NewPolicy(overrides map[incidents.Severity]time.Duration) *Policy {
	p := &Policy{thresholds: make(map[incidents.Severity]time.Duration, len(DefaultThresholds))}
	for sev, d := range DefaultThresholds {
		p.thresholds[sev] = d
	}
	for sev, d := range overrides {
		if d > 0 {
			p.thresholds[sev] = d
		}
	}
	return p
}

// Threshold returns the open-time allowance for a severity
func (p *Policy) Threshold(sev incidents.Severity) (time.Duration, bool) {
	d, ok := p.thresholds[sev]
	return d, ok
}

// RequiresEscalation reports whether the incident is unresolved and has been open longer than
// its severity threshold at now. Unknown severities never escalate.
func (p *Policy) RequiresEscalation(incident *incidents.Incident, now time.Time) bool {
	if incident == nil || !incident.IsOpen() {
		return false
	}
	threshold, ok := p.thresholds[incident.Severity]
	if !ok {
		return false
	}
	return now.Sub(incident.CreatedAt) > threshold
}
