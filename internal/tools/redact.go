package tools

import "regexp"

// Redactor masks credentials in payloads before they reach the logs.
// Patterns with two capture groups keep the surrounding text and mask only
// what lies between them.
type Redactor struct {
	patterns []*regexp.Regexp
}

func DefaultRedactPatterns() []string {
	return []string{
		`("token"\s*:\s*")[^"]*(")`,
		`((?i)authorization:\s*bearer\s+)\S+()`,
	}
}

func NewRedactor(patterns []string) *Redactor {
	if len(patterns) == 0 {
		return nil
	}
	var compiled []*regexp.Regexp
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if re, err := regexp.Compile(pattern); err == nil {
			compiled = append(compiled, re)
		}
	}
	if len(compiled) == 0 {
		return nil
	}
	return &Redactor{patterns: compiled}
}

func (r *Redactor) Redact(input []byte) []byte {
	if r == nil || len(input) == 0 {
		return input
	}
	return []byte(r.RedactString(string(input)))
}

func (r *Redactor) RedactString(input string) string {
	if r == nil || input == "" {
		return input
	}
	out := input
	for _, re := range r.patterns {
		repl := "***"
		if re.NumSubexp() == 2 {
			repl = "${1}***${2}"
		}
		out = re.ReplaceAllString(out, repl)
	}
	return out
}
