// Package validators decides whether a metrics snapshot satisfies the
// thresholds for a target phase. Everything here is pure: no I/O, no clocks.
package validators

import (
	"encoding/json"
	"fmt"

	"github.com/sawpanic/phasegate/internal/phase"
)

// ValidationResult is the outcome of checking a snapshot against a target
// phase. It is immutable; accessors return copies.
type ValidationResult struct {
	target              phase.Phase
	canAdvance          bool
	criteriaMet         map[string]bool
	missingRequirements []string
	metricsSummary      map[string]string
}

// Target is the phase the result was computed for.
func (r ValidationResult) Target() phase.Phase { return r.target }

// CanAdvance is true iff every requirement for the target is met.
func (r ValidationResult) CanAdvance() bool { return r.canAdvance }

// CriteriaMet maps each requirement's metric name to whether it passed.
func (r ValidationResult) CriteriaMet() map[string]bool {
	out := make(map[string]bool, len(r.criteriaMet))
	for k, v := range r.criteriaMet {
		out[k] = v
	}
	return out
}

// MissingRequirements describes each unmet requirement in evaluation order.
func (r ValidationResult) MissingRequirements() []string {
	return append([]string(nil), r.missingRequirements...)
}

// MetricsSummary is the formatted snapshot the decision was based on.
func (r ValidationResult) MetricsSummary() map[string]string {
	out := make(map[string]string, len(r.metricsSummary))
	for k, v := range r.metricsSummary {
		out[k] = v
	}
	return out
}

type resultJSON struct {
	Target              phase.Phase       `json:"target_phase"`
	CanAdvance          bool              `json:"can_advance"`
	CriteriaMet         map[string]bool   `json:"criteria_met"`
	MissingRequirements []string          `json:"missing_requirements"`
	MetricsSummary      map[string]string `json:"metrics_summary"`
}

func (r ValidationResult) MarshalJSON() ([]byte, error) {
	missing := r.missingRequirements
	if missing == nil {
		missing = []string{}
	}
	return json.Marshal(resultJSON{
		Target:              r.target,
		CanAdvance:          r.canAdvance,
		CriteriaMet:         r.criteriaMet,
		MissingRequirements: missing,
		MetricsSummary:      r.metricsSummary,
	})
}

// Validator evaluates snapshots against a fixed set of thresholds.
type Validator struct {
	thresholds Thresholds
}

// New returns a Validator using thresholds.
func New(thresholds Thresholds) *Validator {
	return &Validator{thresholds: thresholds}
}

// Thresholds returns the configured thresholds.
func (v *Validator) Thresholds() Thresholds { return v.thresholds }

// Validate checks snapshot against the requirements for target. Missing or
// non-numeric metrics count as unmet.
func (v *Validator) Validate(target phase.Phase, snapshot map[string]any) ValidationResult {
	metrics := FromSnapshot(snapshot)
	reqs := v.thresholds.Requirements(target)

	result := ValidationResult{
		target:         target,
		canAdvance:     true,
		criteriaMet:    make(map[string]bool, len(reqs)),
		metricsSummary: summarize(snapshot),
	}

	for _, req := range reqs {
		value, ok := metrics.Value(req.Metric)
		if !ok {
			result.criteriaMet[req.Metric] = false
			result.canAdvance = false
			result.missingRequirements = append(result.missingRequirements,
				fmt.Sprintf("%s missing (requires %s %g)", req.Metric, req.Comparison, req.Threshold))
			continue
		}

		met := req.Met(value)
		result.criteriaMet[req.Metric] = met
		if !met {
			result.canAdvance = false
			result.missingRequirements = append(result.missingRequirements,
				fmt.Sprintf("%s is %g, requires %s %g", req.Metric, value, req.Comparison, req.Threshold))
		}
	}

	return result
}

func summarize(snapshot map[string]any) map[string]string {
	out := make(map[string]string, len(snapshot))
	for k, v := range snapshot {
		out[k] = formatValue(v)
	}
	return out
}
