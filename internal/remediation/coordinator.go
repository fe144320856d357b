package remediation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/logging"
	"github.com/akmatori/incidentflow/internal/metrics"
	"github.com/akmatori/incidentflow/internal/notify"
)

// Option configures a Coordinator
type Option func(*Coordinator)

func WithPolicy(p Policy) Option {
	return func(c *Coordinator) { c.policy = p.withDefaults() }
}

func WithVerifier(v Verifier) Option {
	return func(c *Coordinator) { c.verifier = v }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrNop(l) }
}

// Coordinator classifies recommended actions, executes the safe ones with retry and
// requests approval for the rest. Actions within one call are handled sequentially.
type Coordinator struct {
	store    IncidentStore
	executor Executor
	notifier Notifier
	verifier Verifier
	policy   Policy
	logger   *zap.Logger
}

// NewCoordinator creates a coordinator. A nil notifier discards notifications; the default
// verifier polls the executor for the execution status.
func NewCoordinator(store IncidentStore, executor Executor, notifier Notifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		executor: executor,
		notifier: notifier,
		policy:   DefaultPolicy(),
		logger:   zap.NewNop(),
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.verifier == nil {
		c.verifier = NewStatusVerifier(executor)
	}
	return c
}

// Remediate runs the full algorithm for one incident. Per-action problems are folded into
// the Result; the returned error is reserved for a missing incident or a store failure.
func (c *Coordinator) Remediate(ctx context.Context, incidentID string, actions []RecommendedAction) (*Result, error) {
	return c.run(ctx, incidentID, actions, true)
}

// ExecuteSafeActions executes only the autonomous-safe subset; approval-requiring actions
// are skipped without being reported.
func (c *Coordinator) ExecuteSafeActions(ctx context.Context, incidentID string, actions []RecommendedAction) (*Result, error) {
	return c.run(ctx, incidentID, actions, false)
}

func (c *Coordinator) run(ctx context.Context, incidentID string, actions []RecommendedAction, requestApproval bool) (*Result, error) {
	result := newResult()
	if len(actions) == 0 {
		result.Success = true
		return result, nil
	}

	start := time.Now()
	defer func() { metrics.ObserveRemediation(time.Since(start)) }()

	incident, err := c.loadIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	var safe, approval []RecommendedAction
	for _, action := range actions {
		if err := validateAction(action); err != nil {
			c.logger.Warn("rejecting invalid action",
				zap.String("incident_id", incidentID),
				zap.String("action_type", action.ActionType),
				zap.Error(err))
			c.recordFailed(result, action)
			continue
		}
		if c.policy.RequiresApproval(action) {
			approval = append(approval, action)
		} else {
			safe = append(safe, action)
		}
	}

	infraErr := c.executeSafe(ctx, incident, safe, result)

	if requestApproval && len(approval) > 0 {
		result.PendingApproval = append(result.PendingApproval, c.RequestApproval(ctx, incidentID, approval)...)
	}

	result.Success = len(result.FailedActions) == 0
	c.logger.Info("remediation finished",
		zap.String("incident_id", incidentID),
		zap.Bool("success", result.Success),
		zap.Strings("executed", result.ExecutedActions),
		zap.Strings("failed", result.FailedActions),
		zap.Strings("pending_approval", result.PendingApproval))

	return result, infraErr
}

func (c *Coordinator) loadIncident(ctx context.Context, incidentID string) (*incidents.Incident, error) {
	incident, err := c.store.Get(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("%w: load incident %s: %w", ErrInfrastructure, incidentID, err)
	}
	if incident == nil {
		return nil, fmt.Errorf("%w: %s", incidents.ErrNotFound, incidentID)
	}
	return incident, nil
}

// executeSafe runs eligible actions in order. The incident is moved to REMEDIATING before the
// first executor call; if that fails the remaining actions are failed and the error returned.
func (c *Coordinator) executeSafe(ctx context.Context, incident *incidents.Incident, safe []RecommendedAction, result *Result) error {
	remediating := false

	for i, action := range safe {
		restart := action.ActionType == ActionRestartService
		if restart {
			attempts, err := c.restartAttempts(ctx, incident.ID)
			if err != nil {
				c.failRemaining(result, safe[i:])
				return err
			}
			if attempts >= c.policy.RestartLimit {
				c.restartLimitExceeded(ctx, incident.ID, action, attempts, result)
				continue
			}
		}

		if !remediating {
			if err := c.enterRemediating(ctx, incident.ID); err != nil {
				c.logger.Error("cannot start remediation",
					zap.String("incident_id", incident.ID),
					zap.Error(err))
				c.failRemaining(result, safe[i:])
				return err
			}
			remediating = true
		}

		if restart {
			attempts, err := c.store.ReserveCounter(ctx, incident.ID, incidents.MetadataRestartAttempts, c.policy.RestartLimit)
			if errors.Is(err, incidents.ErrCounterLimit) {
				c.restartLimitExceeded(ctx, incident.ID, action, attempts, result)
				continue
			}
			if err != nil {
				c.failRemaining(result, safe[i:])
				return fmt.Errorf("%w: reserve restart attempt for %s: %w", ErrInfrastructure, incident.ID, err)
			}
		}

		c.executeOne(ctx, incident, action, result)
	}
	return nil
}

func (c *Coordinator) restartLimitExceeded(ctx context.Context, incidentID string, action RecommendedAction, attempts int, result *Result) {
	c.logger.Error("restart limit exceeded",
		zap.String("incident_id", incidentID),
		zap.String("target", action.Target),
		zap.Int("restart_attempts", attempts))
	c.recordFailed(result, action)
	c.addEvent(ctx, incidentID, fmt.Sprintf("Action %s on %s failed: %s", action.ActionType, action.Target, ErrRestartLimit),
		map[string]any{"action_type": action.ActionType, "restart_attempts": attempts})
}

// enterRemediating moves ANALYZING -> REMEDIATING. REMEDIATING is accepted as is; any other
// status cannot legally reach REMEDIATING in one step.
func (c *Coordinator) enterRemediating(ctx context.Context, incidentID string) error {
	incident, err := c.loadIncident(ctx, incidentID)
	if err != nil {
		return err
	}

	switch incident.Status {
	case incidents.StatusRemediating:
		return nil
	case incidents.StatusAnalyzing:
		if _, err := c.store.UpdateStatus(ctx, incidentID, incidents.StatusRemediating); err != nil {
			// a concurrent remediation may have won the same step
			if errors.Is(err, incidents.ErrStateTransition) {
				if again, gerr := c.loadIncident(ctx, incidentID); gerr == nil && again.Status == incidents.StatusRemediating {
					return nil
				}
			}
			return fmt.Errorf("%w: move incident %s to %s: %w", ErrInfrastructure, incidentID, incidents.StatusRemediating, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: incident %s: %w", ErrInfrastructure, incidentID,
			&incidents.StateTransitionError{From: incident.Status, To: incidents.StatusRemediating})
	}
}

func (c *Coordinator) executeOne(ctx context.Context, incident *incidents.Incident, action RecommendedAction, result *Result) {
	outcome, attempts, err := c.executeWithRetry(ctx, incident.ID, action)

	if err != nil {
		c.logger.Error("action failed",
			zap.String("incident_id", incident.ID),
			zap.String("action_type", action.ActionType),
			zap.String("target", action.Target),
			zap.Int("attempts", attempts),
			zap.Error(err))
		c.recordFailed(result, action)
		c.addEvent(ctx, incident.ID, fmt.Sprintf("Action %s on %s failed after %d attempt(s)", action.ActionType, action.Target, attempts),
			map[string]any{"action_type": action.ActionType, "target": action.Target, "error": err.Error()})
		c.notify(ctx, notify.Notification{
			Kind:       notify.KindActionFailed,
			IncidentID: incident.ID,
			Severity:   string(incident.Severity),
			Title:      "Remediation action failed",
			Message:    fmt.Sprintf("%s on %s failed: %v", action.ActionType, action.Target, err),
			Actions:    []string{action.ActionType},
		})
		c.Rollback(ctx, incident.ID, action, fmt.Sprintf("execution failed: %v", err))
		return
	}

	result.ExecutedActions = append(result.ExecutedActions, action.ActionType)
	metrics.RemediationAction(metrics.OutcomeExecuted)
	c.logger.Info("action executed",
		zap.String("incident_id", incident.ID),
		zap.String("action_type", action.ActionType),
		zap.String("target", action.Target),
		zap.String("execution_id", outcome.ExecutionID),
		zap.Int("attempts", attempts))
	c.addEvent(ctx, incident.ID, fmt.Sprintf("Executed %s on %s", action.ActionType, action.Target),
		map[string]any{"action_type": action.ActionType, "target": action.Target, "execution_id": outcome.ExecutionID, "attempts": attempts})
	c.notify(ctx, notify.Notification{
		Kind:       notify.KindActionExecuted,
		IncidentID: incident.ID,
		Severity:   string(incident.Severity),
		Title:      "Remediation action executed",
		Message:    fmt.Sprintf("%s on %s: %s", action.ActionType, action.Target, action.Description),
		Actions:    []string{action.ActionType},
		Metadata:   map[string]any{"execution_id": outcome.ExecutionID},
	})

	if err := c.verify(ctx, action, outcome); err != nil {
		c.logger.Warn("action verification failed",
			zap.String("incident_id", incident.ID),
			zap.String("action_type", action.ActionType),
			zap.String("execution_id", outcome.ExecutionID),
			zap.Error(err))
		c.addEvent(ctx, incident.ID, fmt.Sprintf("Verification of %s on %s failed", action.ActionType, action.Target),
			map[string]any{"action_type": action.ActionType, "error": err.Error()})
		c.Rollback(ctx, incident.ID, action, fmt.Sprintf("verification failed: %v", err))
	}
}

// executeWithRetry calls the executor up to MaxAttempts times, doubling the delay between
// attempts. Validation-class errors and context cancellation stop early.
func (c *Coordinator) executeWithRetry(ctx context.Context, incidentID string, action RecommendedAction) (Outcome, int, error) {
	delay := c.policy.BaseDelay
	var lastErr error

	attempt := 0
	for attempt < c.policy.MaxAttempts {
		attempt++
		outcome, err := c.executor.Execute(ctx, action.ActionType, action.Target, action.Parameters)
		if err == nil {
			return outcome, attempt, nil
		}
		lastErr = err

		if isPermanent(err) || attempt == c.policy.MaxAttempts {
			break
		}

		c.logger.Warn("action attempt failed, retrying",
			zap.String("incident_id", incidentID),
			zap.String("action_type", action.ActionType),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		if err := sleep(ctx, delay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
		delay *= 2
	}

	return Outcome{}, attempt, fmt.Errorf("%w: %s on %s: %w", ErrExecutionFailure, action.ActionType, action.Target, lastErr)
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrInvalidAction) || errors.Is(err, incidents.ErrValidation)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) verify(ctx context.Context, action RecommendedAction, outcome Outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: verifier panicked: %v", ErrVerification, r)
		}
	}()
	return c.verifier.Verify(ctx, action, outcome)
}

// RequestApproval notifies humans about actions that must not run automatically and
// returns their action types
func (c *Coordinator) RequestApproval(ctx context.Context, incidentID string, actions []RecommendedAction) []string {
	types := make([]string, 0, len(actions))
	lines := make([]string, 0, len(actions))
	for _, action := range actions {
		types = append(types, action.ActionType)
		lines = append(lines, fmt.Sprintf("%s on %s (impact: %s)", action.ActionType, action.Target, orDash(action.EstimatedImpact)))
		metrics.RemediationAction(metrics.OutcomePendingApproval)
	}
	if len(actions) == 0 {
		return types
	}

	c.logger.Info("approval requested",
		zap.String("incident_id", incidentID),
		zap.Strings("actions", types))
	c.addEvent(ctx, incidentID, "Approval requested for: "+strings.Join(types, ", "),
		map[string]any{"actions": types})

	n := notify.Notification{
		Kind:       notify.KindApprovalRequested,
		IncidentID: incidentID,
		Title:      "Approval required for remediation",
		Message:    strings.Join(lines, "\n"),
		Actions:    types,
	}
	if incident, err := c.store.Get(ctx, incidentID); err == nil && incident != nil {
		n.Severity = string(incident.Severity)
	}
	c.notify(ctx, n)
	return types
}

// ExecutionStatus polls a previously dispatched execution
func (c *Coordinator) ExecutionStatus(ctx context.Context, executionID string) (ExecutionStatus, error) {
	if strings.TrimSpace(executionID) == "" {
		return "", fmt.Errorf("%w: execution id is required", ErrInvalidAction)
	}
	return c.executor.Status(ctx, executionID)
}

func validateAction(a RecommendedAction) error {
	var missing []string
	if strings.TrimSpace(a.ActionType) == "" {
		missing = append(missing, "action_type")
	}
	if strings.TrimSpace(a.Target) == "" {
		missing = append(missing, "target")
	}
	if len(missing) > 0 {
		fields := make(map[string]string, len(missing))
		for _, f := range missing {
			fields[f] = "is required"
		}
		return &incidents.ValidationError{Fields: fields}
	}
	return nil
}

func (c *Coordinator) recordFailed(result *Result, action RecommendedAction) {
	result.FailedActions = append(result.FailedActions, action.ActionType)
	metrics.RemediationAction(metrics.OutcomeFailed)
}

func (c *Coordinator) failRemaining(result *Result, actions []RecommendedAction) {
	for _, action := range actions {
		c.recordFailed(result, action)
	}
}

// restartAttempts reads the restart counter without reserving; ReserveCounter is authoritative
func (c *Coordinator) restartAttempts(ctx context.Context, incidentID string) (int, error) {
	incident, err := c.loadIncident(ctx, incidentID)
	if err != nil {
		return 0, err
	}
	return incident.MetadataInt(incidents.MetadataRestartAttempts), nil
}

// addEvent records a timeline annotation; failures are logged only
func (c *Coordinator) addEvent(ctx context.Context, incidentID, text string, metadata map[string]any) {
	if err := c.store.AddTimelineEvent(ctx, incidentID, text, metadata); err != nil {
		c.logger.Warn("failed to add timeline event",
			zap.String("incident_id", incidentID),
			zap.String("event", text),
			zap.Error(err))
	}
}

// notify delivers n and swallows errors and panics from the notifier
func (c *Coordinator) notify(ctx context.Context, n notify.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.NotifierFailure(string(n.Kind))
			c.logger.Warn("notifier panicked",
				zap.String("incident_id", n.IncidentID),
				zap.String("kind", string(n.Kind)),
				zap.Any("panic", r))
		}
	}()

	if err := c.notifier.Send(ctx, n); err != nil {
		metrics.NotifierFailure(string(n.Kind))
		c.logger.Warn("notification failed",
			zap.String("incident_id", n.IncidentID),
			zap.String("kind", string(n.Kind)),
			zap.Error(err))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
