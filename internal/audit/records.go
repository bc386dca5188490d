// Package audit defines the append-only transition and override records and
// the line-oriented logs that hold them.
package audit

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/sawpanic/phasegate/internal/phase"
)

// ActionForceAdvance is the only override action.
const ActionForceAdvance = "force_advance"

// PhaseTransition records one successful phase change. Written once, never
// mutated.
type PhaseTransition struct {
	TransitionID     string         `json:"transition_id"`
	FromPhase        phase.Phase    `json:"from_phase"`
	ToPhase          phase.Phase    `json:"to_phase"`
	Timestamp        time.Time      `json:"timestamp"`
	ValidationPassed bool           `json:"validation_passed"`
	Forced           bool           `json:"forced"`
	MetricsSnapshot  map[string]any `json:"metrics_snapshot"`
}

// SanitizeSnapshot returns a copy of snapshot that JSON can encode: NaN and
// infinities, at any depth, become their strconv text ("NaN", "+Inf", "-Inf").
func SanitizeSnapshot(snapshot map[string]any) map[string]any {
	if snapshot == nil {
		return nil
	}
	out := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return strconv.FormatFloat(n, 'g', -1, 64)
		}
	case float32:
		if f := float64(n); math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 32)
		}
	case map[string]any:
		return SanitizeSnapshot(n)
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = sanitizeValue(e)
		}
		return out
	}
	return v
}

// OverrideAttempt records one forced-advance attempt. It never carries the
// override secret.
type OverrideAttempt struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Blocked   bool      `json:"blocked"`
	Reason    string    `json:"reason"`
}

// HistoryLog is the append-only record of successful transitions.
type HistoryLog interface {
	Append(ctx context.Context, t PhaseTransition) error
	// Latest returns the most recent record, or nil when the log is empty.
	Latest(ctx context.Context) (*PhaseTransition, error)
}

// OverrideLog is the append-only record of override attempts.
type OverrideLog interface {
	Append(ctx context.Context, a OverrideAttempt) error
}

// OverrideReader is implemented by override logs that can be read back.
type OverrideReader interface {
	Entries(ctx context.Context) ([]OverrideAttempt, error)
}
