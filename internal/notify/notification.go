package notify

import (
	"context"
	"errors"
	"time"
)

// Kind classifies a notification; it is also the AMQP routing key suffix
type Kind string

const (
	KindActionExecuted    Kind = "action_executed"
	KindActionFailed      Kind = "action_failed"
	KindApprovalRequested Kind = "approval_requested"
	KindRollback          Kind = "rollback"
	KindEscalation        Kind = "escalation"
)

// Notification is a fire-and-forget message about an incident
type Notification struct {
	Kind       Kind           `json:"kind"`
	IncidentID string         `json:"incident_id"`
	Severity   string         `json:"severity,omitempty"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Actions    []string       `json:"actions,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Notifier delivers notifications. Callers treat failures as non-fatal.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every notifier and joins their errors
type Multi []Notifier

func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications
type Nop struct{}

func (Nop) Send(context.Context, Notification) error { return nil }
