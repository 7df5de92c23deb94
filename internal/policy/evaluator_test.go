package policy

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"trafficpilot/internal/audit"
	"trafficpilot/internal/logging"
	"trafficpilot/internal/plan"
)

type fakeAuditWriter struct {
	events [][]byte
}

func (f *fakeAuditWriter) InsertAuditEvent(ctx context.Context, payload []byte) (string, error) {
	f.events = append(f.events, payload)
	return "audit_1", nil
}

func (f *fakeAuditWriter) InsertToolCall(ctx context.Context, traceID string, payload []byte) (string, error) {
	return "tool_1", nil
}

var errTestPolicy = errors.New("policy error")

func buildPlan(t *testing.T, scenario string) plan.Plan {
	t.Helper()
	p, err := plan.NewCatalog("", "human").Build(plan.CannedScenario{Name: scenario}, "trace-1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return p
}

func TestEvaluatorNoChecker(t *testing.T) {
	e := Evaluator{}
	if _, err := e.Check(context.Background(), plan.Plan{}, "user", "t"); !errors.Is(err, ErrNoChecker) {
		t.Fatalf("err: %v", err)
	}
}

func TestEvaluatorUsesChecker(t *testing.T) {
	var got PolicyInput
	e := Evaluator{Checker: CheckerFunc(func(ctx context.Context, input PolicyInput) (PolicyDecision, error) {
		got = input
		return PolicyDecision{Allowed: false, Reason: "nope"}, nil
	})}
	p := buildPlan(t, plan.ScenarioCriticalInfraReroute)
	dec, err := e.Check(context.Background(), p, "user", "trace-1")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if dec.Allowed || dec.Reason != "nope" {
		t.Fatalf("decision: %#v", dec)
	}
	if got.PlanID != p.PlanID || got.AutonomyLevel != 3 || got.HumanToken != "human" || got.Credential != "user" || got.TraceID != "trace-1" {
		t.Fatalf("input: %#v", got)
	}
}

func TestEvaluatorDefaultsAutonomyLevel(t *testing.T) {
	var got PolicyInput
	e := Evaluator{Checker: CheckerFunc(func(ctx context.Context, input PolicyInput) (PolicyDecision, error) {
		got = input
		return PolicyDecision{Allowed: true}, nil
	})}
	dec, err := e.Check(context.Background(), plan.Plan{PlanID: "p"}, "user", "t")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got.AutonomyLevel != 1 {
		t.Fatalf("level: %d", got.AutonomyLevel)
	}
	if dec.Reason == "" {
		t.Fatalf("reason must always be populated")
	}
}

func TestEvaluatorError(t *testing.T) {
	e := Evaluator{Checker: CheckerFunc(func(ctx context.Context, input PolicyInput) (PolicyDecision, error) {
		return PolicyDecision{}, errTestPolicy
	})}
	if _, err := e.Check(context.Background(), plan.Plan{}, "user", "t"); !errors.Is(err, errTestPolicy) {
		t.Fatalf("err: %v", err)
	}
}

func TestEvaluatorAuditsDecision(t *testing.T) {
	var buf bytes.Buffer
	writer := &fakeAuditWriter{}
	e := NewEvaluator(StaticChecker{UserToken: "user", HumanToken: "human"}, audit.NewWithDB(writer), logging.New("policy_engine", &buf))
	p := buildPlan(t, plan.ScenarioEmergencyCorridor)
	before := p
	dec, err := e.Check(context.Background(), p, "user", "trace-9")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !dec.Allowed || dec.Reason != ReasonAutoApproved {
		t.Fatalf("decision: %#v", dec)
	}
	if len(writer.events) != 1 || !strings.Contains(string(writer.events[0]), `"trace_id":"trace-9"`) {
		t.Fatalf("audit events: %s", writer.events)
	}
	out := buf.String()
	if !strings.Contains(out, `"trace_id":"trace-9"`) || !strings.Contains(out, `"reason":"auto-approved for low autonomy"`) {
		t.Fatalf("log: %s", out)
	}
	if p.PlanID != before.PlanID || p.Approval != before.Approval || len(p.Steps) != len(before.Steps) {
		t.Fatalf("plan mutated")
	}
}
