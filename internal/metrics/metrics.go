// Package metrics holds the Prometheus collectors for phase transitions,
// override attempts and trade-limit checks.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/phasegate/internal/phase"
)

// Override outcomes.
const (
	OutcomeAllowed        = "allowed"
	OutcomeNotConfigured  = "not_configured"
	OutcomePasswordNeeded = "password_required"
	OutcomeInvalid        = "invalid_password"
	OutcomeRateLimited    = "rate_limited"
	OutcomeRejected       = "rejected"
)

// Registry holds every phasegate collector. A nil *Registry records nothing.
type Registry struct {
	Transitions        *prometheus.CounterVec
	TransitionFailures *prometheus.CounterVec
	OverrideAttempts   *prometheus.CounterVec
	TradeLimitChecks   *prometheus.CounterVec
	CurrentPhase       prometheus.Gauge
	ValidationDuration prometheus.Histogram
}

// NewRegistry creates the collectors and registers them with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phasegate_transitions_total",
				Help: "Completed phase transitions",
			},
			[]string{"from", "to", "forced"},
		),
		TransitionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phasegate_transition_failures_total",
				Help: "Failed advance attempts by the stage that failed",
			},
			[]string{"stage"},
		),
		OverrideAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phasegate_override_attempts_total",
				Help: "Forced override attempts by outcome",
			},
			[]string{"outcome"},
		),
		TradeLimitChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phasegate_trade_limit_checks_total",
				Help: "Trade limit checks by phase and result",
			},
			[]string{"phase", "result"},
		),
		CurrentPhase: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "phasegate_current_phase",
				Help: "Current phase ordinal (0=experience .. 3=scaling)",
			},
		),
		ValidationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "phasegate_validation_duration_seconds",
				Help:    "Time spent validating a transition, including the metrics fetch",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
			},
		),
	}

	reg.MustRegister(
		r.Transitions,
		r.TransitionFailures,
		r.OverrideAttempts,
		r.TradeLimitChecks,
		r.CurrentPhase,
		r.ValidationDuration,
	)
	return r
}

func (r *Registry) RecordTransition(from, to phase.Phase, forced bool) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(from.Token(), to.Token(), strconv.FormatBool(forced)).Inc()
	r.CurrentPhase.Set(float64(to))
}

func (r *Registry) RecordTransitionFailure(stage string) {
	if r == nil {
		return
	}
	r.TransitionFailures.WithLabelValues(stage).Inc()
	log.Debug().Str("stage", stage).Msg("transition failure recorded")
}

func (r *Registry) RecordOverride(outcome string) {
	if r == nil {
		return
	}
	r.OverrideAttempts.WithLabelValues(outcome).Inc()
}

// RecordTradeCheck counts a limiter decision; allowed selects the result label.
func (r *Registry) RecordTradeCheck(p phase.Phase, allowed bool) {
	if r == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "blocked"
	}
	r.TradeLimitChecks.WithLabelValues(p.Token(), result).Inc()
}

func (r *Registry) SetCurrentPhase(p phase.Phase) {
	if r == nil {
		return
	}
	r.CurrentPhase.Set(float64(p))
}

func (r *Registry) ObserveValidation(d time.Duration) {
	if r == nil {
		return
	}
	r.ValidationDuration.Observe(d.Seconds())
}
