// Package orchestrator drives one request through plan construction,
// authorization and execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"trafficpilot/internal/audit"
	"trafficpilot/internal/llm"
	"trafficpilot/internal/logging"
	"trafficpilot/internal/metrics"
	"trafficpilot/internal/plan"
	"trafficpilot/internal/policy"
	"trafficpilot/internal/workflows"
)

type State string

const (
	StateCreated   State = "created"
	StateApproved  State = "approved"
	StateRejected  State = "rejected"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var ErrNoSource = errors.New("scenario or description required")

type PolicyChecker interface {
	Check(ctx context.Context, p plan.Plan, credential, traceID string) (policy.PolicyDecision, error)
}

// Runner is satisfied by both workflows.Executor and workflows.TemporalRunner.
type Runner interface {
	Execute(ctx context.Context, p plan.Plan) (workflows.ExecutionResult, error)
}

type Advisor interface {
	Advise(ctx context.Context, description string) (llm.Advice, error)
}

// Request carries a scenario tag or, for the advisory path, a free-text
// description. An empty TraceID is generated.
type Request struct {
	Scenario    string
	Description string
	Credential  string
	TraceID     string
}

type Outcome struct {
	TraceID  string                    `json:"trace_id"`
	State    State                     `json:"state"`
	Plan     plan.Plan                 `json:"plan"`
	Decision policy.PolicyDecision     `json:"decision"`
	Result   workflows.ExecutionResult `json:"result"`
}

type Orchestrator struct {
	Catalog    *plan.Catalog
	Policy     PolicyChecker
	Runner     Runner
	Advisor    Advisor
	Audit      *audit.Store
	Logger     *slog.Logger
	NewTraceID func() string
}

// Run handles one request. A policy rejection returns a nil error with
// State == StateRejected; every other non-success returns an error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	traceID := strings.TrimSpace(req.TraceID)
	if traceID == "" {
		traceID = o.newTraceID()
	}
	out := Outcome{TraceID: traceID}
	log := o.logger().With(logging.Trace(traceID))

	if o.Catalog == nil || o.Policy == nil || o.Runner == nil {
		return out, errors.New("orchestrator requires catalog, policy and runner")
	}

	src, sourceKind, err := o.source(ctx, req)
	if err != nil {
		metrics.PlansBuiltTotal.WithLabelValues(sourceKind, "error").Inc()
		log.Error("Plan source failed", "source", sourceKind, "err", err)
		return out, err
	}
	p, err := o.Catalog.Build(src, traceID)
	if err != nil {
		metrics.PlansBuiltTotal.WithLabelValues(sourceKind, "error").Inc()
		log.Error("Plan construction failed", "source", sourceKind, "err", err)
		return out, err
	}
	metrics.PlansBuiltTotal.WithLabelValues(sourceKind, "ok").Inc()
	out.Plan = p
	out.State = StateCreated
	log.Info("Plan generated", "plan_id", p.PlanID, "goal", p.Goal, "autonomy_level", p.Approval.AutonomyLevel,
		"human_approval_required", p.RequiresHumanApproval(), "steps", len(p.Steps))
	o.record(ctx, log, out, "plan.generated", map[string]any{"goal": p.Goal, "source": sourceKind, "reason": p.Approval.Reason})

	dec, err := o.Policy.Check(ctx, p, req.Credential, traceID)
	if err != nil {
		out.State = StateRejected
		out.Decision = policy.PolicyDecision{Allowed: false, Reason: "policy evaluation failed"}
		metrics.PlanExecutionsTotal.WithLabelValues(string(StateRejected)).Inc()
		log.Error("Policy evaluation failed, plan not executed", "plan_id", p.PlanID, "err", err)
		o.record(ctx, log, out, "plan.rejected", map[string]any{"error": err.Error()})
		return out, fmt.Errorf("policy evaluation: %w", err)
	}
	out.Decision = dec
	if !dec.Allowed {
		out.State = StateRejected
		metrics.PlanExecutionsTotal.WithLabelValues(string(StateRejected)).Inc()
		log.Warn("Plan rejected", "plan_id", p.PlanID, "reason", dec.Reason)
		o.record(ctx, log, out, "plan.rejected", map[string]any{"reason": dec.Reason})
		return out, nil
	}
	out.State = StateApproved
	log.Info("Plan approved", "plan_id", p.PlanID, "reason", dec.Reason)

	out.State = StateExecuting
	result, err := o.Runner.Execute(ctx, p)
	out.Result = result
	if err != nil {
		out.State = StateFailed
		metrics.PlanExecutionsTotal.WithLabelValues(string(StateFailed)).Inc()
		fields := map[string]any{"error": err.Error(), "completed_steps": len(result.Steps)}
		var stepErr *workflows.StepError
		if errors.As(err, &stepErr) {
			fields["step_id"] = stepErr.StepID
			fields["status"] = stepErr.Status
		}
		log.Error("Plan execution failed", "plan_id", p.PlanID, "completed_steps", len(result.Steps), "err", err)
		o.record(ctx, log, out, "plan.failed", fields)
		return out, err
	}
	out.State = StateCompleted
	metrics.PlanExecutionsTotal.WithLabelValues(string(StateCompleted)).Inc()
	log.Info("Plan completed", "plan_id", p.PlanID, "steps", len(result.Steps))
	o.record(ctx, log, out, "plan.completed", map[string]any{"steps": len(result.Steps)})
	return out, nil
}

func (o *Orchestrator) source(ctx context.Context, req Request) (plan.Source, string, error) {
	if description := strings.TrimSpace(req.Description); description != "" {
		if o.Advisor == nil {
			return nil, "advisory", fmt.Errorf("%w: advisor not configured", llm.ErrAdvisoryDecision)
		}
		advice, err := o.Advisor.Advise(ctx, description)
		if err != nil {
			return nil, "advisory", err
		}
		return plan.AdvisoryDecision{AutonomyLevel: advice.AutonomyLevel, Reason: advice.Reason}, "advisory", nil
	}
	if strings.TrimSpace(req.Scenario) == "" {
		return nil, "scenario", ErrNoSource
	}
	return plan.CannedScenario{Name: req.Scenario}, "scenario", nil
}

func (o *Orchestrator) record(ctx context.Context, log *slog.Logger, out Outcome, action string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["plan_id"] = out.Plan.PlanID
	fields["state"] = string(out.State)
	if err := o.Audit.AppendEvent(ctx, audit.Event{
		TraceID:   out.TraceID,
		Component: "orchestrator",
		Action:    action,
		Fields:    fields,
	}); err != nil {
		log.Warn("audit append failed", "action", action, "err", err)
	}
}

func (o *Orchestrator) newTraceID() string {
	if o.NewTraceID != nil {
		return o.NewTraceID()
	}
	return uuid.NewString()
}

func (o *Orchestrator) logger() *slog.Logger {
	return logging.OrDefault(o.Logger)
}
