package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Advice is the planner's verdict on how much autonomy an incident warrants.
type Advice struct {
	AutonomyLevel int    `json:"autonomy_level"`
	Reason        string `json:"reason"`
}

const systemPrompt = `You classify traffic incidents for an automated traffic-management system.
Autonomy level 1 means routine: the system may act on its own (for example clearing an ambulance corridor).
Autonomy level 3 means elevated: a human must approve (for example rerouting around critical infrastructure).
Reply with a JSON object only: {"autonomy_level": 1 or 3, "reason": "<one sentence>"}.`

var adviceSchema = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["autonomy_level", "reason"],
  "properties": {
    "autonomy_level": {"type": "integer"},
    "reason": {"type": "string", "minLength": 1}
  }
}`)

// Advise asks the configured model for a decision. Any failure, including a
// reply that does not match the expected shape, wraps ErrAdvisoryDecision.
func (r *Router) Advise(ctx context.Context, description string) (Advice, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Advice{}, fmt.Errorf("%w: description required", ErrAdvisoryDecision)
	}
	client, err := r.client()
	if err != nil {
		return Advice{}, fmt.Errorf("%w: %v", ErrAdvisoryDecision, err)
	}
	prompt := "Incident:\n" + SanitizePromptInput(description)
	if len(r.RedactPatterns) > 0 {
		prompt = Redact(prompt, r.RedactPatterns)
	}
	maxTokens := r.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	raw, err := client.Complete(ctx, systemPrompt, prompt, maxTokens)
	if err != nil {
		return Advice{}, fmt.Errorf("%w: %v", ErrAdvisoryDecision, err)
	}
	return ParseAdvice(raw)
}

// ParseAdvice decodes a model reply, tolerating a surrounding code fence.
func ParseAdvice(raw string) (Advice, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return Advice{}, fmt.Errorf("%w: empty reply", ErrAdvisoryDecision)
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return Advice{}, fmt.Errorf("%w: %v", ErrAdvisoryDecision, err)
	}
	result, err := gojsonschema.Validate(adviceSchema, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return Advice{}, fmt.Errorf("%w: %v", ErrAdvisoryDecision, err)
	}
	if !result.Valid() {
		msg := "reply does not match schema"
		if errs := result.Errors(); len(errs) > 0 {
			msg = errs[0].String()
		}
		return Advice{}, fmt.Errorf("%w: %s", ErrAdvisoryDecision, msg)
	}
	var advice Advice
	if err := json.Unmarshal([]byte(body), &advice); err != nil {
		return Advice{}, fmt.Errorf("%w: %v", ErrAdvisoryDecision, err)
	}
	return advice, nil
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var errNoAdvisor = errors.New("advisor not configured")

// Unconfigured is an advisor that always fails; hosts use it when no
// provider is set so description requests are refused rather than guessed.
type Unconfigured struct{}

func (Unconfigured) Advise(context.Context, string) (Advice, error) {
	return Advice{}, fmt.Errorf("%w: %v", ErrAdvisoryDecision, errNoAdvisor)
}
