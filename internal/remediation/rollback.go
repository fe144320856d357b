package remediation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/akmatori/incidentflow/internal/notify"
)

// Rollback runs the inverse of action once. The outcome is logged and recorded on the
// incident timeline; it never affects a remediation Result.
func (c *Coordinator) Rollback(ctx context.Context, incidentID string, action RecommendedAction, reason string) RollbackResult {
	result := RollbackResult{Actions: []string{}}

	inverse, ok := c.policy.RollbackActions[action.ActionType]
	if !ok {
		c.logger.Warn("no rollback defined for action",
			zap.String("incident_id", incidentID),
			zap.String("action_type", action.ActionType),
			zap.String("reason", reason))
		c.addEvent(ctx, incidentID, fmt.Sprintf("Rollback of %s on %s skipped: no corrective action defined", action.ActionType, action.Target),
			map[string]any{"action_type": action.ActionType, "reason": reason, "rollback_successful": false})
		return result
	}

	result.Actions = append(result.Actions, inverse)
	outcome, err := c.executeRollback(ctx, inverse, action)
	result.Successful = err == nil

	fields := []zap.Field{
		zap.String("incident_id", incidentID),
		zap.String("action_type", action.ActionType),
		zap.String("rollback_action", inverse),
		zap.String("reason", reason),
		zap.Bool("rollback_successful", result.Successful),
	}
	status := "succeeded"
	if err != nil {
		status = "failed"
		c.logger.Error("rollback failed", append(fields, zap.Error(err))...)
	} else {
		c.logger.Info("rollback executed", append(fields, zap.String("execution_id", outcome.ExecutionID))...)
	}

	c.addEvent(ctx, incidentID, fmt.Sprintf("Rollback %s of %s on %s %s", inverse, action.ActionType, action.Target, status),
		map[string]any{
			"action_type":         action.ActionType,
			"rollback_actions":    result.Actions,
			"rollback_successful": result.Successful,
			"reason":              reason,
		})
	c.notify(ctx, notify.Notification{
		Kind:       notify.KindRollback,
		IncidentID: incidentID,
		Title:      "Remediation rollback " + status,
		Message:    fmt.Sprintf("%s on %s rolled back with %s: %s", action.ActionType, action.Target, inverse, reason),
		Actions:    result.Actions,
	})

	return result
}

// executeRollback calls the executor once and turns a panic into an error
func (c *Coordinator) executeRollback(ctx context.Context, inverse string, action RecommendedAction) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: rollback executor panicked: %v", ErrExecutionFailure, r)
		}
	}()
	return c.executor.Execute(ctx, inverse, action.Target, action.Parameters)
}
