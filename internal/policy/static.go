package policy

import (
	"context"
	"crypto/subtle"

	"trafficpilot/internal/plan"
)

// StaticChecker applies the token rules against configured credentials.
type StaticChecker struct {
	UserToken  string
	HumanToken string
}

func (s StaticChecker) Evaluate(ctx context.Context, input PolicyInput) (PolicyDecision, error) {
	if !tokenEqual(input.Credential, s.UserToken) {
		return PolicyDecision{Allowed: false, Reason: ReasonInvalidCredential}, nil
	}
	if input.AutonomyLevel >= plan.ElevatedAutonomy {
		if input.HumanToken == "" || !tokenEqual(input.HumanToken, s.HumanToken) {
			return PolicyDecision{Allowed: false, Reason: ReasonMissingHumanApproval}, nil
		}
		return PolicyDecision{Allowed: true, Reason: ReasonHumanOversight}, nil
	}
	return PolicyDecision{Allowed: true, Reason: ReasonAutoApproved}, nil
}

// tokenEqual never matches an unset expected token.
func tokenEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
