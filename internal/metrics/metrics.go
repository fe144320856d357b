package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeExecuted labels actions that ran successfully.
	OutcomeExecuted = "executed"
	// OutcomeFailed labels actions that failed validation, business rules or execution.
	OutcomeFailed = "failed"
	// OutcomePendingApproval labels actions deferred to a human.
	OutcomePendingApproval = "pending_approval"
)

var (
	incidentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "incidentflow",
			Name:      "incidents_created_total",
			Help:      "Incidents opened from alerts, partitioned by severity.",
		},
		[]string{"severity"},
	)

	statusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "incidentflow",
			Name:      "status_transitions_total",
			Help:      "Accepted incident status transitions.",
		},
		[]string{"from", "to"},
	)

	remediationActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "incidentflow",
			Name:      "remediation_actions_total",
			Help:      "Remediation actions handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	remediationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "incidentflow",
			Name:      "remediation_seconds",
			Help:      "Remediation call latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	notifierFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "incidentflow",
			Name:      "notifier_failures_total",
			Help:      "Notifications that could not be delivered.",
		},
		[]string{"kind"},
	)

	escalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "incidentflow",
			Name:      "escalations_total",
			Help:      "Incidents flagged for escalation, partitioned by severity.",
		},
		[]string{"severity"},
	)
)

// Register attaches incidentflow collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		incidentsCreatedTotal,
		statusTransitionsTotal,
		remediationActionsTotal,
		remediationDurationSeconds,
		notifierFailuresTotal,
		escalationsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// IncidentCreated counts a new incident.
func IncidentCreated(severity string) {
	incidentsCreatedTotal.WithLabelValues(severity).Inc()
}

// StatusTransition counts an accepted status change.
func StatusTransition(from, to string) {
	statusTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RemediationAction counts one action outcome.
func RemediationAction(outcome string) {
	remediationActionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRemediation records how long a remediation call took.
func ObserveRemediation(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	remediationDurationSeconds.Observe(duration.Seconds())
}

// NotifierFailure counts a notification that failed or panicked.
func NotifierFailure(kind string) {
	notifierFailuresTotal.WithLabelValues(kind).Inc()
}

// EscalationFlagged counts an incident newly flagged by the escalation monitor.
func EscalationFlagged(severity string) {
	escalationsTotal.WithLabelValues(severity).Inc()
}
