package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	ScenarioEmergencyCorridor    = "emergency-corridor"
	ScenarioCriticalInfraReroute = "critical-infra-reroute"

	DefaultAutonomy  = 1
	ElevatedAutonomy = 3

	DefaultSignalID = "TrafficSignal:001"
)

const (
	ToolGetSignalState = "getTrafficSignalState"
	ToolSetPriority    = "setPriorityCorridor"
	ToolNotifyAgents   = "notifyTrafficAgents"

	PriorityEmergency     = "emergency"
	PriorityCriticalInfra = "critical-infra"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// ErrUnsupportedAutonomyLevel also matches ErrInvalidScenario under errors.Is.
var ErrUnsupportedAutonomyLevel = fmt.Errorf("%w: unsupported autonomy level", ErrInvalidScenario)

// Source selects which canned plan to build.
type Source interface {
	resolve() (scenario string, reason string, err error)
}

// CannedScenario names a known scenario directly.
type CannedScenario struct {
	Name string
}

func (s CannedScenario) resolve() (string, string, error) {
	name, ok := scenarioAliases[strings.ToLower(strings.TrimSpace(s.Name))]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidScenario, s.Name)
	}
	return name, "", nil
}

// AdvisoryDecision is an untrusted planner verdict. Only the autonomy level
// selects the plan; the reason is kept for audit.
type AdvisoryDecision struct {
	AutonomyLevel int
	Reason        string
}

func (d AdvisoryDecision) resolve() (string, string, error) {
	switch d.AutonomyLevel {
	case DefaultAutonomy:
		return ScenarioEmergencyCorridor, d.Reason, nil
	case ElevatedAutonomy:
		return ScenarioCriticalInfraReroute, d.Reason, nil
	default:
		return "", "", fmt.Errorf("%w: %d", ErrUnsupportedAutonomyLevel, d.AutonomyLevel)
	}
}

var scenarioAliases = map[string]string{
	ScenarioEmergencyCorridor:    ScenarioEmergencyCorridor,
	"a":                          ScenarioEmergencyCorridor,
	ScenarioCriticalInfraReroute: ScenarioCriticalInfraReroute,
	"b":                          ScenarioCriticalInfraReroute,
}

// Scenarios lists the canonical scenario names.
func Scenarios() []string {
	return []string{ScenarioEmergencyCorridor, ScenarioCriticalInfraReroute}
}

// Catalog builds canned plans. Its fields are read-only configuration.
type Catalog struct {
	SignalID   string
	HumanToken string
	NewID      func() string
}

func NewCatalog(signalID, humanToken string) *Catalog {
	return &Catalog{SignalID: signalID, HumanToken: humanToken}
}

// Build constructs the plan for src. Identical inputs yield identical goal,
// steps and approval; only PlanID differs between calls.
func (c *Catalog) Build(src Source, traceID string) (Plan, error) {
	if src == nil {
		return Plan{}, fmt.Errorf("%w: no source", ErrInvalidScenario)
	}
	scenario, reason, err := src.resolve()
	if err != nil {
		return Plan{}, err
	}
	var p Plan
	switch scenario {
	case ScenarioEmergencyCorridor:
		p = c.emergencyCorridor(traceID)
	case ScenarioCriticalInfraReroute:
		p = c.criticalInfraReroute(traceID)
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrInvalidScenario, scenario)
	}
	if reason != "" {
		p = p.withReason(reason)
	}
	return p, nil
}

func (c *Catalog) emergencyCorridor(traceID string) Plan {
	return Plan{
		PlanID:    c.newID(),
		Goal:      "Create an ambulance corridor",
		Steps:     c.corridorSteps(PriorityEmergency, "Ambulance corridor activated"),
		Approval:  Approval{AutonomyLevel: DefaultAutonomy},
		Telemetry: Telemetry{TraceID: traceID},
	}
}

func (c *Catalog) criticalInfraReroute(traceID string) Plan {
	return Plan{
		PlanID:    c.newID(),
		Goal:      "Handle heavy rain near critical infrastructure",
		Steps:     c.corridorSteps(PriorityCriticalInfra, "Heavy rain: rerouting around critical infrastructure"),
		Approval:  Approval{AutonomyLevel: ElevatedAutonomy, HumanToken: c.HumanToken},
		Telemetry: Telemetry{TraceID: traceID},
	}
}

func (c *Catalog) corridorSteps(priority, message string) []Step {
	signal := c.signalID()
	return []Step{
		{ID: "read-state", Tool: ToolGetSignalState, Params: map[string]any{"entity_id": signal}},
		{ID: "set-priority", Tool: ToolSetPriority, Params: map[string]any{"entity_id": signal, "value": priority}},
		{ID: "notify", Tool: ToolNotifyAgents, Params: map[string]any{"message": message}},
	}
}

func (c *Catalog) signalID() string {
	if strings.TrimSpace(c.SignalID) == "" {
		return DefaultSignalID
	}
	return c.SignalID
}

func (c *Catalog) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}
