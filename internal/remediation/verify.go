package remediation

import (
	"context"
	"fmt"
	"time"
)

// StatusVerifier treats an execution as verified once the executor reports it completed
type StatusVerifier struct {
	executor Executor
	Interval time.Duration
	Timeout  time.Duration
}

func NewStatusVerifier(executor Executor) *StatusVerifier {
	return &StatusVerifier{
		executor: executor,
		Interval: time.Second,
		Timeout:  30 * time.Second,
	}
}

// Verify polls until the execution leaves in_progress. Outcomes without an execution id
// have nothing to check.
func (v *StatusVerifier) Verify(ctx context.Context, action RecommendedAction, outcome Outcome) error {
	if outcome.ExecutionID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()

	for {
		status, err := v.executor.Status(ctx, outcome.ExecutionID)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrVerification, action.ActionType, err)
		}

		switch status {
		case ExecutionCompleted:
			return nil
		case ExecutionFailed:
			return fmt.Errorf("%w: %s execution %s reported failed", ErrVerification, action.ActionType, outcome.ExecutionID)
		}

		if err := sleep(ctx, v.Interval); err != nil {
			return fmt.Errorf("%w: %s execution %s still %s: %w", ErrVerification, action.ActionType, outcome.ExecutionID, status, err)
		}
	}
}

// VerifierFunc adapts a function to Verifier
type VerifierFunc func(ctx context.Context, action RecommendedAction, outcome Outcome) error

func (f VerifierFunc) Verify(ctx context.Context, action RecommendedAction, outcome Outcome) error {
	return f(ctx, action, outcome)
}
