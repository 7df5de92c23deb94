package policy

import "trafficpilot/internal/plan"

const (
	ReasonInvalidCredential    = "invalid user credential"
	ReasonMissingHumanApproval = "missing human approval for elevated autonomy"
	ReasonHumanOversight       = "approved with human oversight"
	ReasonAutoApproved         = "auto-approved for low autonomy"
)

// PolicyInput is everything a checker may look at. It is also the OPA input
// document.
type PolicyInput struct {
	PlanID        string `json:"plan_id"`
	TraceID       string `json:"trace_id"`
	Credential    string `json:"credential"`
	AutonomyLevel int    `json:"autonomy_level"`
	HumanToken    string `json:"human_token,omitempty"`
}

// PolicyDecision is the verdict. Reason is always populated.
type PolicyDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func inputFromPlan(p plan.Plan, credential, traceID string) PolicyInput {
	level := p.Approval.AutonomyLevel
	if level == 0 {
		level = plan.DefaultAutonomy
	}
	return PolicyInput{
		PlanID:        p.PlanID,
		TraceID:       traceID,
		Credential:    credential,
		AutonomyLevel: level,
		HumanToken:    p.Approval.HumanToken,
	}
}
