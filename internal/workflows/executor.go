// Package workflows executes approved plans step by step against the
// actuation endpoint, either in-process or hosted by Temporal.
package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trafficpilot/internal/audit"
	"trafficpilot/internal/logging"
	"trafficpilot/internal/metrics"
	"trafficpilot/internal/plan"
	"trafficpilot/internal/tools"
)

var ErrEmptyPlan = errors.New("plan has no steps")

// Caller sends one envelope to the actuation endpoint.
type Caller interface {
	Call(ctx context.Context, env tools.Envelope) (tools.Response, error)
}

type StepOutcome struct {
	StepID   string          `json:"step_id"`
	Tool     string          `json:"tool"`
	Status   int             `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Duration time.Duration   `json:"duration"`
}

type ExecutionResult struct {
	PlanID  string        `json:"plan_id"`
	TraceID string        `json:"trace_id"`
	Steps   []StepOutcome `json:"steps"`
}

// StepError reports the step that stopped a plan. Status and Body are set
// when the endpoint answered.
type StepError struct {
	StepID string
	Tool   string
	Status int
	Body   string
	Err    error
}

func (e *StepError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("step %s (%s) failed with status %d: %v", e.StepID, e.Tool, e.Status, e.Err)
	}
	return fmt.Sprintf("step %s (%s) failed: %v", e.StepID, e.Tool, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Executor runs steps one at a time and stops at the first failure. Nothing
// is retried and completed steps are not compensated.
type Executor struct {
	Caller     Caller
	Credential string
	Audit      *audit.Store
	Redactor   *tools.Redactor
	Logger     *slog.Logger
	Now        func() time.Time
}

func (e *Executor) Execute(ctx context.Context, p plan.Plan) (ExecutionResult, error) {
	result := ExecutionResult{PlanID: p.PlanID, TraceID: p.TraceID()}
	if len(p.Steps) == 0 {
		return result, ErrEmptyPlan
	}
	for _, step := range p.Steps {
		outcome, err := e.ExecuteStep(ctx, p.PlanID, p.TraceID(), step)
		if err != nil {
			return result, err
		}
		result.Steps = append(result.Steps, outcome)
	}
	return result, nil
}

// ExecuteStep validates and sends a single step. Unknown tools and invalid
// params are refused before any network call.
func (e *Executor) ExecuteStep(ctx context.Context, planID, traceID string, step plan.Step) (StepOutcome, error) {
	log := e.logger().With(logging.Trace(traceID))
	if err := tools.ValidateParams(step.Tool, step.Params); err != nil {
		stepErr := &StepError{StepID: step.ID, Tool: step.Tool, Err: err}
		e.finish(ctx, log, planID, traceID, step, tools.Response{}, 0, stepErr)
		return StepOutcome{}, stepErr
	}
	if e.Caller == nil {
		stepErr := &StepError{StepID: step.ID, Tool: step.Tool, Err: errors.New("actuation caller not configured")}
		e.finish(ctx, log, planID, traceID, step, tools.Response{}, 0, stepErr)
		return StepOutcome{}, stepErr
	}

	log.Info("Executing step", "step_id", step.ID, "method", step.Tool, "params", step.Params)
	start := e.now()
	resp, err := e.Caller.Call(ctx, tools.Envelope{
		Method:  step.Tool,
		Params:  step.Params,
		TraceID: traceID,
		Token:   e.Credential,
	})
	elapsed := e.now().Sub(start)
	log.Info("MCP response", "step_id", step.ID, "status", resp.Status, "body", e.redact(resp.Body))
	if err != nil {
		stepErr := &StepError{StepID: step.ID, Tool: step.Tool, Status: resp.Status, Body: e.redact(resp.Body), Err: err}
		e.finish(ctx, log, planID, traceID, step, resp, elapsed, stepErr)
		return StepOutcome{}, stepErr
	}
	e.finish(ctx, log, planID, traceID, step, resp, elapsed, nil)
	return StepOutcome{StepID: step.ID, Tool: step.Tool, Status: resp.Status, Result: resp.Result, Duration: elapsed}, nil
}

// finish records metrics and the tool-call audit row for one attempt.
func (e *Executor) finish(ctx context.Context, log *slog.Logger, planID, traceID string, step plan.Step, resp tools.Response, elapsed time.Duration, stepErr *StepError) {
	tool := step.Tool
	if _, err := tools.Lookup(tool); err != nil {
		tool = "unknown"
	}
	call := audit.ToolCall{
		TraceID:    traceID,
		PlanID:     planID,
		StepID:     step.ID,
		Tool:       step.Tool,
		Status:     "succeeded",
		HTTPStatus: resp.Status,
		Body:       e.redact(resp.Body),
	}
	outcome := "success"
	if stepErr != nil {
		outcome = "failure"
		call.Status = "failed"
		call.Error = stepErr.Err.Error()
		log.Error("Step failed", "step_id", step.ID, "method", step.Tool, "status", resp.Status, "err", stepErr.Err)
	}
	metrics.StepExecutionsTotal.WithLabelValues(tool, outcome).Inc()
	if elapsed > 0 {
		metrics.StepExecutionDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
	if err := e.Audit.RecordToolCall(ctx, call); err != nil {
		log.Warn("tool call audit write failed", "step_id", step.ID, "err", err)
	}
}

func (e *Executor) redact(body []byte) string {
	if e.Redactor == nil {
		return string(body)
	}
	return e.Redactor.RedactString(string(body))
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Executor) logger() *slog.Logger {
	return logging.OrDefault(e.Logger)
}
