package secrets

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const redactedText = "[REDACTED]"

// Redactor removes known secret values and credential-shaped text from strings.
type Redactor struct {
	literals []string
	patterns []*regexp.Regexp
}

// NewRedactor redacts every non-empty literal plus key=value credential pairs
// and connection strings with embedded passwords.
func NewRedactor(literals ...string) *Redactor {
	defaultPatterns := []string{
		`postgres(?:ql)?://[^:\s]+:[^@\s]+@[^\s"']+`,
		`redis://[^:\s]*:[^@\s]+@[^\s"']+`,
		`(?i)(?:password|passwd|pwd|secret|token)["\s]*[:=]["\s]*[^\s"',}]+`,
	}

	patterns := make([]*regexp.Regexp, len(defaultPatterns))
	for i, pattern := range defaultPatterns {
		patterns[i] = regexp.MustCompile(pattern)
	}

	r := &Redactor{patterns: patterns}
	for _, l := range literals {
		if l != "" {
			r.literals = append(r.literals, l)
		}
	}
	return r
}

// RedactString redacts sensitive data from a string
func (r *Redactor) RedactString(input string) string {
	result := input
	for _, l := range r.literals {
		result = strings.ReplaceAll(result, l, redactedText)
	}
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, redactedText)
	}
	return result
}

// Contains reports whether input holds any registered literal.
func (r *Redactor) Contains(input string) bool {
	for _, l := range r.literals {
		if strings.Contains(input, l) {
			return true
		}
	}
	return false
}

// SecretSafeString carries a caller-supplied password. Formatting, logging and
// JSON encoding all print the redaction marker.
type SecretSafeString struct {
	value string
}

// NewSecretSafeString creates a new secret-safe string
func NewSecretSafeString(value string) *SecretSafeString {
	return &SecretSafeString{value: value}
}

// Value returns the actual value (use carefully)
func (s *SecretSafeString) Value() string {
	if s == nil {
		return ""
	}
	return s.value
}

// Empty reports whether no usable value is held. A nil receiver is empty.
func (s *SecretSafeString) Empty() bool {
	return s == nil || s.value == ""
}

func (s *SecretSafeString) String() string {
	return redactedText
}

func (s *SecretSafeString) GoString() string {
	return fmt.Sprintf("SecretSafeString{%s}", redactedText)
}

func (s *SecretSafeString) MarshalJSON() ([]byte, error) {
	return json.Marshal(redactedText)
}
