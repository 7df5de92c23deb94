package workflows

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"
)

// Activities exposes the executor to a Temporal worker.
type Activities struct {
	Executor *Executor
}

func (a *Activities) ExecuteStep(ctx context.Context, input StepActivityInput) (StepOutcome, error) {
	if a.Executor == nil {
		return StepOutcome{}, temporal.NewNonRetryableApplicationError("executor required", stepFailureErrorType, nil)
	}
	outcome, err := a.Executor.ExecuteStep(ctx, input.PlanID, input.TraceID, input.Step)
	if err == nil {
		return outcome, nil
	}
	failure := stepFailure{StepID: input.Step.ID, Tool: input.Step.Tool}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		failure.Status = stepErr.Status
		failure.Body = stepErr.Body
	}
	return StepOutcome{}, temporal.NewNonRetryableApplicationError(err.Error(), stepFailureErrorType, err, failure)
}
