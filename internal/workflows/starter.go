package workflows

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"trafficpilot/internal/plan"
)

// TemporalRunner starts PlanExecutionWorkflow and waits for it, giving the
// orchestrator the same contract as Executor.Execute.
type TemporalRunner struct {
	Client      client.Client
	TaskQueue   string
	StepTimeout time.Duration
}

func (r *TemporalRunner) Execute(ctx context.Context, p plan.Plan) (ExecutionResult, error) {
	base := ExecutionResult{PlanID: p.PlanID, TraceID: p.TraceID()}
	if r == nil || r.Client == nil {
		return base, errors.New("temporal client required")
	}
	if p.PlanID == "" {
		return base, errors.New("plan_id required")
	}
	opts := client.StartWorkflowOptions{
		ID:        "plan-" + p.PlanID,
		TaskQueue: r.TaskQueue,
	}
	run, err := r.Client.ExecuteWorkflow(ctx, opts, PlanExecutionWorkflow, executionInput(p, r.StepTimeout))
	if err != nil {
		return base, err
	}
	var out ExecutionResult
	if err := run.Get(ctx, &out); err != nil {
		completed, stepErr := stepErrorFrom(err)
		base.Steps = completed
		return base, stepErr
	}
	return out, nil
}

// stepErrorFrom turns the workflow's application error back into a
// *StepError, returning it with the outcomes of the steps that completed before it. Other
// errors pass through.
func stepErrorFrom(err error) ([]StepOutcome, error) {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || appErr.Type() != stepFailureErrorType || !appErr.HasDetails() {
		return nil, err
	}
	var failure stepFailure
	if detailsErr := appErr.Details(&failure); detailsErr != nil || failure.StepID == "" {
		return nil, err
	}
	return failure.Completed, &StepError{StepID: failure.StepID, Tool: failure.Tool, Status: failure.Status, Body: failure.Body, Err: err}
}
