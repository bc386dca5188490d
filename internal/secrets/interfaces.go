// Package secrets supplies the override secret and keeps it out of logs,
// audit records and error text.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SecretProvider retrieves a secret by key.
type SecretProvider interface {
	GetSecret(ctx context.Context, key string) (*Secret, error)
}

// Secret represents a secret with metadata
type Secret struct {
	Key       string            `json:"key"`
	Value     []byte            `json:"-"` // Never serialize the actual value
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// String never returns the value.
func (s *Secret) String() string {
	return fmt.Sprintf("Secret{%s:[REDACTED]}", s.Key)
}

// Redact returns a copy safe for logging.
func (s *Secret) Redact() *Secret {
	redacted := *s
	if len(redacted.Value) > 0 {
		redacted.Value = []byte(redactedText)
	}
	return &redacted
}

// ErrSecretNotFound is matched by SecretNotFoundError.
var ErrSecretNotFound = errors.New("secret not found")

// SecretNotFoundError wraps secret not found errors with context
type SecretNotFoundError struct {
	Key      string
	Provider string
}

func (e *SecretNotFoundError) Error() string {
	return fmt.Sprintf("secret '%s' not found in provider '%s'", e.Key, e.Provider)
}

func (e *SecretNotFoundError) Is(target error) bool {
	return target == ErrSecretNotFound
}
