package validators

import (
	"fmt"

	"github.com/sawpanic/phasegate/internal/phase"
)

// Comparison is the direction a metric must satisfy against its threshold.
type Comparison int

const (
	AtLeast Comparison = iota
	AtMost
)

func (c Comparison) String() string {
	if c == AtMost {
		return "<="
	}
	return ">="
}

// Requirement is a single named metric threshold.
type Requirement struct {
	Metric     string
	Comparison Comparison
	Threshold  float64
}

// Met reports whether value satisfies the requirement.
func (r Requirement) Met(value float64) bool {
	if r.Comparison == AtMost {
		return value <= r.Threshold
	}
	return value >= r.Threshold
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s %s %g", r.Metric, r.Comparison, r.Threshold)
}

// ProofThresholds gate Experience -> ProofOfConcept.
type ProofThresholds struct {
	MinSessions      float64 `yaml:"min_sessions"`
	MinWinRate       float64 `yaml:"min_win_rate"`
	MinAvgRiskReward float64 `yaml:"min_avg_risk_reward"`
}

// TrialThresholds gate ProofOfConcept -> RealMoneyTrial.
type TrialThresholds struct {
	MinSessions      float64 `yaml:"min_sessions"`
	MinWinRate       float64 `yaml:"min_win_rate"`
	MinAvgRiskReward float64 `yaml:"min_avg_risk_reward"`
	MaxDrawdown      float64 `yaml:"max_drawdown"`
}

// ScalingThresholds gate RealMoneyTrial -> Scaling.
type ScalingThresholds struct {
	MinSessions      float64 `yaml:"min_sessions"`
	MinWinRate       float64 `yaml:"min_win_rate"`
	MinAvgRiskReward float64 `yaml:"min_avg_risk_reward"`
	MaxDrawdown      float64 `yaml:"max_drawdown"`
	MinProfitFactor  float64 `yaml:"min_profit_factor"`
}

// Thresholds holds the tunable values for each target phase. Which metrics are
// checked for a phase is fixed; only the numbers are configurable.
type Thresholds struct {
	Proof   ProofThresholds   `yaml:"proof"`
	Trial   TrialThresholds   `yaml:"trial"`
	Scaling ScalingThresholds `yaml:"scaling"`
}

// DefaultThresholds returns the production gate values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Proof: ProofThresholds{
			MinSessions:      30,
			MinWinRate:       0.55,
			MinAvgRiskReward: 1.5,
		},
		Trial: TrialThresholds{
			MinSessions:      20,
			MinWinRate:       0.60,
			MinAvgRiskReward: 2.0,
			MaxDrawdown:      0.10,
		},
		Scaling: ScalingThresholds{
			MinSessions:      60,
			MinWinRate:       0.60,
			MinAvgRiskReward: 2.0,
			MaxDrawdown:      0.15,
			MinProfitFactor:  1.5,
		},
	}
}

// Validate rejects thresholds that could never be met or are nonsensical.
func (t Thresholds) Validate() error {
	for _, target := range phase.All() {
		for _, req := range t.Requirements(target) {
			if req.Threshold < 0 {
				return fmt.Errorf("threshold %s for %s must not be negative", req.Metric, target.Token())
			}
			if (req.Metric == MetricWinRate || req.Metric == MetricMaxDrawdown) && req.Threshold > 1 {
				return fmt.Errorf("threshold %s for %s must be a fraction in [0,1]", req.Metric, target.Token())
			}
		}
	}
	return nil
}

// Requirements returns the ordered requirement set for reaching target.
func (t Thresholds) Requirements(target phase.Phase) []Requirement {
	switch target {
	case phase.ProofOfConcept:
		return []Requirement{
			{Metric: MetricSessionCount, Comparison: AtLeast, Threshold: t.Proof.MinSessions},
			{Metric: MetricWinRate, Comparison: AtLeast, Threshold: t.Proof.MinWinRate},
			{Metric: MetricAvgRiskReward, Comparison: AtLeast, Threshold: t.Proof.MinAvgRiskReward},
		}
	case phase.RealMoneyTrial:
		return []Requirement{
			{Metric: MetricSessionCount, Comparison: AtLeast, Threshold: t.Trial.MinSessions},
			{Metric: MetricWinRate, Comparison: AtLeast, Threshold: t.Trial.MinWinRate},
			{Metric: MetricAvgRiskReward, Comparison: AtLeast, Threshold: t.Trial.MinAvgRiskReward},
			{Metric: MetricMaxDrawdown, Comparison: AtMost, Threshold: t.Trial.MaxDrawdown},
		}
	case phase.Scaling:
		return []Requirement{
			{Metric: MetricSessionCount, Comparison: AtLeast, Threshold: t.Scaling.MinSessions},
			{Metric: MetricWinRate, Comparison: AtLeast, Threshold: t.Scaling.MinWinRate},
			{Metric: MetricAvgRiskReward, Comparison: AtLeast, Threshold: t.Scaling.MinAvgRiskReward},
			{Metric: MetricMaxDrawdown, Comparison: AtMost, Threshold: t.Scaling.MaxDrawdown},
			{Metric: MetricProfitFactor, Comparison: AtLeast, Threshold: t.Scaling.MinProfitFactor},
		}
	default:
		return nil
	}
}
