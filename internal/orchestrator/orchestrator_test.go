package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"trafficpilot/internal/audit"
	"trafficpilot/internal/llm"
	"trafficpilot/internal/plan"
	"trafficpilot/internal/policy"
	"trafficpilot/internal/tools"
	"trafficpilot/internal/workflows"
)

const (
	userToken  = "user-token"
	humanToken = "human-approval-token"
)

type fakeStore struct {
	mu       sync.Mutex
	corridor string
}

func (f *fakeStore) GetEntity(ctx context.Context, entityID, traceID, token string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]any{"id": entityID, "priorityCorridor": f.corridor}, nil
}

func (f *fakeStore) UpdateAttribute(ctx context.Context, entityID, attr string, value any, traceID, token string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corridor, _ = value.(string)
	return map[string]any{"result": "updated"}, nil
}

type fakeAuditWriter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (f *fakeAuditWriter) InsertAuditEvent(ctx context.Context, payload []byte) (string, error) {
	var ev audit.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return "audit_1", nil
}

func (f *fakeAuditWriter) InsertToolCall(ctx context.Context, traceID string, payload []byte) (string, error) {
	return "toolcall_1", nil
}

func (f *fakeAuditWriter) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.events {
		out = append(out, ev.Action)
	}
	return out
}

type harness struct {
	orch   *Orchestrator
	store  *fakeStore
	writer *fakeAuditWriter
	calls  *int
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, catalogHumanToken string) harness {
	t.Helper()
	store := &fakeStore{corridor: "none"}
	actuator := tools.NewServer(userToken, store, quietLogger())
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		actuator.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	writer := &fakeAuditWriter{}
	store2 := audit.NewWithDB(writer)
	exec := &workflows.Executor{
		Caller:     &tools.Client{URL: srv.URL + "/mcp"},
		Credential: userToken,
		Audit:      store2,
		Logger:     quietLogger(),
	}
	evaluator := policy.NewEvaluator(&policy.StaticChecker{UserToken: userToken, HumanToken: humanToken}, store2, quietLogger())
	orch := &Orchestrator{
		Catalog: plan.NewCatalog("TrafficSignal:001", catalogHumanToken),
		Policy:  evaluator,
		Runner:  exec,
		Audit:   store2,
		Logger:  quietLogger(),
	}
	return harness{orch: orch, store: store, writer: writer, calls: &calls}
}

func TestRunEmergencyCorridor(t *testing.T) {
	h := newHarness(t, humanToken)
	out, err := h.orch.Run(context.Background(), Request{Scenario: "A", Credential: userToken, TraceID: "trace-a"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out.State != StateCompleted || !out.Decision.Allowed || out.Decision.Reason != policy.ReasonAutoApproved {
		t.Fatalf("outcome: %#v", out)
	}
	if *h.calls != 3 || h.store.corridor != plan.PriorityEmergency {
		t.Fatalf("calls %d corridor %s", *h.calls, h.store.corridor)
	}
	if out.TraceID != "trace-a" || out.Plan.TraceID() != "trace-a" || out.Result.TraceID != "trace-a" {
		t.Fatalf("trace ids: %#v", out)
	}
	actions := strings.Join(h.writer.actions(), ",")
	if actions != "plan.generated,policy.evaluate,plan.completed" {
		t.Fatalf("audit actions: %s", actions)
	}
}

func TestRunCriticalInfraWithHumanApproval(t *testing.T) {
	h := newHarness(t, humanToken)
	out, err := h.orch.Run(context.Background(), Request{Scenario: "B", Credential: userToken})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out.State != StateCompleted || out.Decision.Reason != policy.ReasonHumanOversight {
		t.Fatalf("outcome: %#v", out)
	}
	if h.store.corridor != plan.PriorityCriticalInfra {
		t.Fatalf("corridor: %s", h.store.corridor)
	}
	if out.TraceID == "" {
		t.Fatalf("expected generated trace id")
	}
}

func TestRunCriticalInfraWithoutHumanApproval(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.orch.Run(context.Background(), Request{Scenario: "critical-infra-reroute", Credential: userToken})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out.State != StateRejected || out.Decision.Reason != policy.ReasonMissingHumanApproval {
		t.Fatalf("outcome: %#v", out)
	}
	if *h.calls != 0 {
		t.Fatalf("calls: %d", *h.calls)
	}
}

func TestRunInvalidUserCredential(t *testing.T) {
	h := newHarness(t, humanToken)
	out, err := h.orch.Run(context.Background(), Request{Scenario: "A", Credential: "wrong-token"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out.State != StateRejected || out.Decision.Allowed || out.Decision.Reason != policy.ReasonInvalidCredential {
		t.Fatalf("outcome: %#v", out)
	}
	if *h.calls != 0 || h.store.corridor != "none" {
		t.Fatalf("calls %d corridor %s", *h.calls, h.store.corridor)
	}
	if !strings.Contains(strings.Join(h.writer.actions(), ","), "plan.rejected") {
		t.Fatalf("audit actions: %v", h.writer.actions())
	}
}

func TestRunInvalidScenario(t *testing.T) {
	h := newHarness(t, humanToken)
	if _, err := h.orch.Run(context.Background(), Request{Scenario: "Z", Credential: userToken}); !errors.Is(err, plan.ErrInvalidScenario) {
		t.Fatalf("err: %v", err)
	}
	if _, err := h.orch.Run(context.Background(), Request{Credential: userToken}); !errors.Is(err, ErrNoSource) {
		t.Fatalf("err: %v", err)
	}
	if *h.calls != 0 {
		t.Fatalf("calls: %d", *h.calls)
	}
}

type fakeAdvisor struct {
	advice llm.Advice
	err    error
}

func (f fakeAdvisor) Advise(ctx context.Context, description string) (llm.Advice, error) {
	return f.advice, f.err
}

func TestRunAdvisoryPath(t *testing.T) {
	h := newHarness(t, humanToken)
	h.orch.Advisor = fakeAdvisor{advice: llm.Advice{AutonomyLevel: 3, Reason: "flooding near substation"}}
	out, err := h.orch.Run(context.Background(), Request{Description: "Heavy rain near the substation", Credential: userToken})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out.Plan.Approval.AutonomyLevel != 3 || out.Plan.Approval.Reason != "flooding near substation" {
		t.Fatalf("plan: %#v", out.Plan)
	}
	if out.State != StateCompleted {
		t.Fatalf("state: %s", out.State)
	}
}

func TestRunAdvisoryFailures(t *testing.T) {
	h := newHarness(t, humanToken)
	h.orch.Advisor = fakeAdvisor{advice: llm.Advice{AutonomyLevel: 2, Reason: "unsure"}}
	if _, err := h.orch.Run(context.Background(), Request{Description: "something", Credential: userToken}); !errors.Is(err, plan.ErrUnsupportedAutonomyLevel) {
		t.Fatalf("err: %v", err)
	}
	h.orch.Advisor = fakeAdvisor{err: llm.ErrAdvisoryDecision}
	if _, err := h.orch.Run(context.Background(), Request{Description: "something", Credential: userToken}); !errors.Is(err, llm.ErrAdvisoryDecision) {
		t.Fatalf("err: %v", err)
	}
	h.orch.Advisor = nil
	if _, err := h.orch.Run(context.Background(), Request{Description: "something", Credential: userToken}); !errors.Is(err, llm.ErrAdvisoryDecision) {
		t.Fatalf("err: %v", err)
	}
	if *h.calls != 0 {
		t.Fatalf("calls: %d", *h.calls)
	}
}

func TestRunPolicyErrorFailsClosed(t *testing.T) {
	h := newHarness(t, humanToken)
	boom := errors.New("opa unreachable")
	h.orch.Policy = policy.NewEvaluator(policy.CheckerFunc(func(ctx context.Context, in policy.PolicyInput) (policy.PolicyDecision, error) {
		return policy.PolicyDecision{}, boom
	}), nil, quietLogger())
	out, err := h.orch.Run(context.Background(), Request{Scenario: "A", Credential: userToken})
	if !errors.Is(err, boom) {
		t.Fatalf("err: %v", err)
	}
	if out.State != StateRejected || out.Decision.Allowed || *h.calls != 0 {
		t.Fatalf("outcome: %#v calls %d", out, *h.calls)
	}
}

type failingRunner struct{}

func (failingRunner) Execute(ctx context.Context, p plan.Plan) (workflows.ExecutionResult, error) {
	return workflows.ExecutionResult{PlanID: p.PlanID, TraceID: p.TraceID()}, &workflows.StepError{StepID: "set-priority", Tool: plan.ToolSetPriority, Status: 502, Err: errors.New("bad gateway")}
}

func TestRunExecutionFailure(t *testing.T) {
	h := newHarness(t, humanToken)
	h.orch.Runner = failingRunner{}
	out, err := h.orch.Run(context.Background(), Request{Scenario: "A", Credential: userToken, TraceID: "trace-f"})
	var stepErr *workflows.StepError
	if !errors.As(err, &stepErr) || stepErr.StepID != "set-priority" {
		t.Fatalf("err: %v", err)
	}
	if out.State != StateFailed {
		t.Fatalf("state: %s", out.State)
	}
	actions := h.writer.actions()
	if actions[len(actions)-1] != "plan.failed" {
		t.Fatalf("audit actions: %v", actions)
	}
}

func TestRunRequiresCollaborators(t *testing.T) {
	o := &Orchestrator{NewTraceID: func() string { return "fixed" }}
	out, err := o.Run(context.Background(), Request{Scenario: "A"})
	if err == nil || out.TraceID != "fixed" {
		t.Fatalf("out %#v err %v", out, err)
	}
}
