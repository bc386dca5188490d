// Package provider implements the metrics provider boundary: sources that
// return a snapshot of named numeric-or-string metrics on demand.
package provider

import (
	"context"
	"fmt"
)

// Provider returns the current metrics snapshot.
type Provider interface {
	Snapshot(ctx context.Context) (map[string]any, error)
}

// ProviderError represents provider-specific errors
type ProviderError struct {
	Provider  string `json:"provider"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Temporary bool   `json:"temporary"`
	Cause     error  `json:"-"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s (%s)", e.Provider, e.Message, e.Code)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

const (
	ErrCodeCircuitOpen = "CIRCUIT_OPEN"
	ErrCodeUnavailable = "UNAVAILABLE"
	ErrCodeInvalidData = "INVALID_DATA"
)

func copySnapshot(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
