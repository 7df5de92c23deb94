package plan

// Step is one named tool invocation. IDs are unique within a plan only.
type Step struct {
	ID     string         `json:"id"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// Approval is the plan's authorization metadata. HumanToken is a credential
// and is never serialized.
type Approval struct {
	AutonomyLevel int    `json:"autonomy_level"`
	HumanToken    string `json:"-"`
	Reason        string `json:"reason,omitempty"`
}

type Telemetry struct {
	TraceID string `json:"trace_id"`
}

// Plan is built once per request and treated as read-only afterwards.
type Plan struct {
	PlanID    string    `json:"plan_id"`
	Goal      string    `json:"goal"`
	Steps     []Step    `json:"steps"`
	Approval  Approval  `json:"approval"`
	Telemetry Telemetry `json:"telemetry"`
}

func (p Plan) TraceID() string {
	return p.Telemetry.TraceID
}

// RequiresHumanApproval reports whether the plan's autonomy tier needs a
// human-approval credential.
func (p Plan) RequiresHumanApproval() bool {
	return p.Approval.AutonomyLevel >= ElevatedAutonomy
}

// withReason returns a copy annotated with the advisory reason. It is the
// only annotation a plan ever receives.
func (p Plan) withReason(reason string) Plan {
	p.Approval.Reason = reason
	return p
}
