package http

import (
	"time"

	"github.com/sawpanic/phasegate/internal/validators"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidateResponse wraps a read-only validation of the target phase.
type ValidateResponse struct {
	CurrentPhase string                      `json:"current_phase"`
	Target       string                      `json:"target"`
	IsNext       bool                        `json:"is_next"`
	Result       validators.ValidationResult `json:"result"`
}

// NextTradeResponse reports when the current phase may trade again.
// NextAllowed is omitted when a trade is allowed now.
type NextTradeResponse struct {
	Phase       string     `json:"phase"`
	Date        string     `json:"date"`
	Limited     bool       `json:"limited"`
	Limit       int        `json:"limit,omitempty"`
	TradesUsed  int        `json:"trades_used"`
	NextAllowed *time.Time `json:"next_allowed,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	System    SystemInfo             `json:"system"`
	Checks    map[string]CheckResult `json:"checks"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult represents individual health check results
type CheckResult struct {
	Status    string        `json:"status"` // "pass", "warn", "fail"
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}
