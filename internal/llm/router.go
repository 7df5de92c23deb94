// Package llm asks a hosted language model for an autonomy-level decision on
// a free-text incident description.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"
)

var ErrAdvisoryDecision = errors.New("advisory decision failed")

var marshalJSON = json.Marshal

// defaultHTTPClient serves provider clients built without one.
var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

type completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Router picks the provider client from configuration.
type Router struct {
	Provider       string
	Model          string
	APIBase        string
	APIKey         string
	MaxTokens      int
	HTTPClient     *http.Client
	RedactPatterns []string
}

func (r *Router) client() (completer, error) {
	provider := strings.ToLower(strings.TrimSpace(r.Provider))
	switch provider {
	case "openai":
		key := r.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return &OpenAIClient{APIBase: r.APIBase, APIKey: key, Model: r.Model, HTTPClient: r.HTTPClient}, nil
	case "anthropic":
		key := r.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return &AnthropicClient{APIBase: r.APIBase, APIKey: key, Model: r.Model, HTTPClient: r.HTTPClient}, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

func Redact(input string, patterns []string) string {
	out := input
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		out = re.ReplaceAllString(out, "[REDACTED]")
	}
	return strings.TrimSpace(out)
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?previous`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+a`),
	regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
	regexp.MustCompile(`(?i)system\s*:\s*you`),
	regexp.MustCompile(`(?i)<\|im_(start|end)\|>`),
}

// SanitizePromptInput strips control characters and common prompt-injection
// phrases from an incident description.
func SanitizePromptInput(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	for _, re := range injectionPatterns {
		cleaned = re.ReplaceAllString(cleaned, "[FILTERED]")
	}
	return cleaned
}
