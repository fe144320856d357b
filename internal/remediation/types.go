package remediation

import (
	"context"
	"errors"

	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/notify"
)

// RiskLevel is the caller-declared risk of a recommended action
type RiskLevel string

const (
	RiskAutonomousSafe   RiskLevel = "AUTONOMOUS_SAFE"
	RiskRequiresApproval RiskLevel = "REQUIRES_APPROVAL"
)

// ActionRestartService is the action type subject to the per-incident restart cap
const ActionRestartService = "restart_service"

// RecommendedAction is a proposed remediation step produced by upstream analysis
type RecommendedAction struct {
	ActionType      string         `json:"action_type"`
	Description     string         `json:"description"`
	Target          string         `json:"target"`
	RiskLevel       RiskLevel      `json:"risk_level"`
	EstimatedImpact string         `json:"estimated_impact"`
	Parameters      map[string]any `json:"parameters,omitempty"`
}

// Result summarizes one remediation call. The three lists are disjoint.
type Result struct {
	Success         bool     `json:"success"`
	ExecutedActions []string `json:"executed_actions"`
	FailedActions   []string `json:"failed_actions"`
	PendingApproval []string `json:"pending_approval"`
}

func newResult() *Result {
	return &Result{
		ExecutedActions: []string{},
		FailedActions:   []string{},
		PendingApproval: []string{},
	}
}

// RollbackResult reports a best-effort rollback
type RollbackResult struct {
	Successful bool     `json:"rollback_successful"`
	Actions    []string `json:"rollback_actions"`
}

// ExecutionStatus is the state of a dispatched execution
type ExecutionStatus string

const (
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionFailed     ExecutionStatus = "failed"
)

// Outcome is what the executor reports for a finished execution
type Outcome struct {
	ExecutionID string `json:"execution_id"`
	Output      string `json:"output,omitempty"`
}

// Executor runs actions out of process. Errors wrapping ErrInvalidAction or
// incidents.ErrValidation are not retried.
type Executor interface {
	Execute(ctx context.Context, actionType, target string, params map[string]any) (Outcome, error)
	Status(ctx context.Context, executionID string) (ExecutionStatus, error)
}

// Notifier receives best-effort side-effect notifications
type Notifier interface {
	Send(ctx context.Context, n notify.Notification) error
}

// Verifier checks the post-condition of a successful execution
type Verifier interface {
	Verify(ctx context.Context, action RecommendedAction, outcome Outcome) error
}

// IncidentStore is the subset of the incident store the coordinator mutates through
type IncidentStore interface {
	Get(ctx context.Context, id string) (*incidents.Incident, error)
	UpdateStatus(ctx context.Context, id string, status incidents.Status) (*incidents.Incident, error)
	ReserveCounter(ctx context.Context, id, key string, limit int) (int, error)
	AddTimelineEvent(ctx context.Context, id, text string, metadata map[string]any) error
}

var (
	// ErrExecutionFailure is recorded when an action fails after all attempts
	ErrExecutionFailure = errors.New("action execution failed")

	// ErrInfrastructure is returned when the store cannot be read or updated
	ErrInfrastructure = errors.New("remediation infrastructure failure")

	// ErrRestartLimit marks a restart_service action rejected by the restart cap
	ErrRestartLimit = errors.New("restart limit exceeded")

	// ErrInvalidAction marks an action the executor or coordinator rejects as malformed
	ErrInvalidAction = errors.New("invalid action")

	// ErrVerification is returned by verifiers when a post-condition does not hold
	ErrVerification = errors.New("verification failed")
)
