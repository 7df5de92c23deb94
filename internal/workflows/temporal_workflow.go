package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"trafficpilot/internal/plan"
)

const (
	ActivityExecuteStep  = "ExecuteStep"
	stepFailureErrorType = "StepExecutionFailure"
	defaultStepTimeout   = 30 * time.Second
)

// PlanExecutionInput carries only what execution needs. The plan's approval
// block, human-approval credential included, stays out of workflow history.
type PlanExecutionInput struct {
	PlanID      string
	TraceID     string
	Steps       []plan.Step
	StepTimeout time.Duration
}

func executionInput(p plan.Plan, stepTimeout time.Duration) PlanExecutionInput {
	return PlanExecutionInput{PlanID: p.PlanID, TraceID: p.TraceID(), Steps: p.Steps, StepTimeout: stepTimeout}
}

type StepActivityInput struct {
	PlanID  string
	TraceID string
	Step    plan.Step
}

// stepFailure travels as the details of the workflow's application error so
// the caller can rebuild a *StepError and the steps that did complete.
type stepFailure struct {
	StepID    string
	Tool      string
	Status    int
	Body      string
	Completed []StepOutcome
}

// PlanExecutionWorkflow runs each step as one activity attempt, in order,
// and stops at the first failure.
func PlanExecutionWorkflow(ctx workflow.Context, input PlanExecutionInput) (ExecutionResult, error) {
	result := ExecutionResult{PlanID: input.PlanID, TraceID: input.TraceID}
	if len(input.Steps) == 0 {
		return result, temporal.NewNonRetryableApplicationError(ErrEmptyPlan.Error(), stepFailureErrorType, nil)
	}
	timeout := input.StepTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	logger := workflow.GetLogger(ctx)
	for _, step := range input.Steps {
		var outcome StepOutcome
		err := workflow.ExecuteActivity(ctx, ActivityExecuteStep, StepActivityInput{
			PlanID:  input.PlanID,
			TraceID: input.TraceID,
			Step:    step,
		}).Get(ctx, &outcome)
		if err != nil {
			logger.Error("Step failed", "trace_id", input.TraceID, "step_id", step.ID, "error", err)
			failure := stepFailure{StepID: step.ID, Tool: step.Tool}
			var appErr *temporal.ApplicationError
			if errors.As(err, &appErr) && appErr.HasDetails() {
				_ = appErr.Details(&failure)
			}
			failure.Completed = result.Steps
			return result, temporal.NewNonRetryableApplicationError(err.Error(), stepFailureErrorType, nil, failure)
		}
		result.Steps = append(result.Steps, outcome)
	}
	return result, nil
}
