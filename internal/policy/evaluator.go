package policy

import (
	"context"
	"errors"
	"log/slog"

	"trafficpilot/internal/audit"
	"trafficpilot/internal/logging"
	"trafficpilot/internal/metrics"
	"trafficpilot/internal/plan"
)

var ErrNoChecker = errors.New("policy checker required")

type Checker interface {
	Evaluate(ctx context.Context, input PolicyInput) (PolicyDecision, error)
}

type CheckerFunc func(ctx context.Context, input PolicyInput) (PolicyDecision, error)

func (f CheckerFunc) Evaluate(ctx context.Context, input PolicyInput) (PolicyDecision, error) {
	return f(ctx, input)
}

// Evaluator authorizes plans. Callers depend on Check only, so the Checker
// can be the local StaticChecker or a remote PolicyService.
type Evaluator struct {
	Checker Checker
	Audit   *audit.Store
	Logger  *slog.Logger
}

func NewEvaluator(checker Checker, store *audit.Store, logger *slog.Logger) *Evaluator {
	return &Evaluator{Checker: checker, Audit: store, Logger: logger}
}

// Check evaluates p once. A denial is a decision, not an error; errors mean
// the checker itself could not answer.
func (e *Evaluator) Check(ctx context.Context, p plan.Plan, credential, traceID string) (PolicyDecision, error) {
	logger := logging.OrDefault(e.Logger)
	if e.Checker == nil {
		return PolicyDecision{}, ErrNoChecker
	}
	dec, err := e.Checker.Evaluate(ctx, inputFromPlan(p, credential, traceID))
	if err != nil {
		metrics.PolicyDecisionsTotal.WithLabelValues("error").Inc()
		logger.Error("policy evaluation failed", logging.Trace(traceID), "plan_id", p.PlanID, "error", err)
		return PolicyDecision{}, err
	}
	if dec.Reason == "" {
		if dec.Allowed {
			dec.Reason = "allowed by policy"
		} else {
			dec.Reason = "denied by policy"
		}
	}
	outcome := "deny"
	if dec.Allowed {
		outcome = "allow"
	}
	metrics.PolicyDecisionsTotal.WithLabelValues(outcome).Inc()
	logger.Info("Policy evaluated", logging.Trace(traceID), "plan_id", p.PlanID, "allowed", dec.Allowed, "reason", dec.Reason)
	if err := e.Audit.AppendEvent(ctx, audit.Event{
		TraceID:   traceID,
		Component: "policy_engine",
		Action:    "policy.evaluate",
		Decision:  outcome,
		Fields: map[string]any{
			"plan_id":        p.PlanID,
			"autonomy_level": p.Approval.AutonomyLevel,
			"allowed":        dec.Allowed,
			"reason":         dec.Reason,
		},
	}); err != nil {
		logger.Warn("audit append failed", logging.Trace(traceID), "error", err)
	}
	return dec, nil
}
