package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/metrics"
	"github.com/akmatori/incidentflow/internal/notify"
	"github.com/akmatori/incidentflow/internal/utils"
)

// EscalationSource is the part of incidents.Store the monitor needs
type EscalationSource interface {
	CheckEscalationThresholds(ctx context.Context) ([]*incidents.Incident, error)
	AddTimelineEvent(ctx context.Context, id, text string, metadata map[string]any) error
}

// EscalationMonitor periodically looks for incidents past their severity threshold.
// Each incident is escalated once; it becomes eligible again only after it stops being flagged.
type EscalationMonitor struct {
	source   EscalationSource
	notifier notify.Notifier
	logger   *zap.Logger

	mu        sync.Mutex
	escalated map[string]struct{}
}

// NewEscalationMonitor creates a new escalation monitor
func NewEscalationMonitor(source EscalationSource, notifier notify.Notifier, logger *zap.Logger) *EscalationMonitor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationMonitor{
		source:    source,
		notifier:  notifier,
		logger:    logger,
		escalated: make(map[string]struct{}),
	}
}

// CheckAndEscalate escalates newly flagged incidents and returns how many it escalated.
// Notifications go out after the dedupe set is updated and the lock is released.
func (m *EscalationMonitor) CheckAndEscalate(ctx context.Context) (int, error) {
	flagged, err := m.source.CheckEscalationThresholds(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	current := make(map[string]struct{}, len(flagged))
	var fresh []*incidents.Incident
	for _, incident := range flagged {
		current[incident.ID] = struct{}{}
		if _, done := m.escalated[incident.ID]; !done {
			fresh = append(fresh, incident)
		}
	}
	m.escalated = current
	m.mu.Unlock()

	for _, incident := range fresh {
		m.escalate(ctx, incident)
	}
	return len(fresh), nil
}

func (m *EscalationMonitor) escalate(ctx context.Context, incident *incidents.Incident) {
	openFor := utils.FormatDuration(time.Since(incident.CreatedAt))
	text := fmt.Sprintf("Escalated: %s incident open for %s", incident.Severity, openFor)

	metrics.EscalationFlagged(string(incident.Severity))
	if err := m.source.AddTimelineEvent(ctx, incident.ID, text, map[string]any{
		"severity": string(incident.Severity),
		"status":   string(incident.Status),
	}); err != nil {
		m.logger.Warn("failed to record escalation",
			zap.String("incident_id", incident.ID),
			zap.Error(err))
	}

	m.send(ctx, notify.Notification{
		Kind:       notify.KindEscalation,
		IncidentID: incident.ID,
		Severity:   string(incident.Severity),
		Title:      "Incident escalated",
		Message:    fmt.Sprintf("%s (%s) has exceeded its response threshold", incident.Title, incident.Status),
		Timestamp:  time.Now().UTC(),
	})

	m.logger.Info("incident escalated",
		zap.String("incident_id", incident.ID),
		zap.String("severity", string(incident.Severity)))
}

// send delivers n; notifier errors and panics are logged and counted only
func (m *EscalationMonitor) send(ctx context.Context, n notify.Notification) {
	defer func() {
		if r := recover(); r != nil {
			metrics.NotifierFailure(string(n.Kind))
			m.logger.Warn("escalation notifier panicked",
				zap.String("incident_id", n.IncidentID),
				zap.Any("panic", r))
		}
	}()

	if err := m.notifier.Send(ctx, n); err != nil {
		metrics.NotifierFailure(string(n.Kind))
		m.logger.Warn("escalation notification failed",
			zap.String("incident_id", n.IncidentID),
			zap.Error(err))
	}
}

// Start begins the periodic monitoring
func (m *EscalationMonitor) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ticker.C:
			escalated, err := m.CheckAndEscalate(ctx)
			if err != nil {
				m.logger.Error("escalation monitor error", zap.Error(err))
			} else if escalated > 0 {
				m.logger.Info("escalation monitor run complete", zap.Int("escalated", escalated))
			}
		case <-stop:
			m.logger.Info("escalation monitor stopped")
			return
		}
	}
}
