package validators

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/phasegate/internal/phase"
)

func passingProof() map[string]any {
	return map[string]any{
		MetricSessionCount:  30,
		MetricWinRate:       0.6,
		MetricAvgRiskReward: "1.8",
		"strategy":          "mean_revert_v2",
	}
}

func TestValidate_ProofOfConcept(t *testing.T) {
	v := New(DefaultThresholds())

	tests := []struct {
		name        string
		snapshot    map[string]any
		canAdvance  bool
		failing     []string
		missingSize int
	}{
		{
			name:       "all_met_at_boundary",
			snapshot:   passingProof(),
			canAdvance: true,
		},
		{
			name: "win_rate_below",
			snapshot: map[string]any{
				MetricSessionCount:  40,
				MetricWinRate:       0.5,
				MetricAvgRiskReward: 2.0,
			},
			failing:     []string{MetricWinRate},
			missingSize: 1,
		},
		{
			name: "missing_metric_is_unmet",
			snapshot: map[string]any{
				MetricSessionCount: int64(45),
				MetricWinRate:      float32(0.7),
			},
			failing:     []string{MetricAvgRiskReward},
			missingSize: 1,
		},
		{
			name: "non_numeric_string_is_unmet",
			snapshot: map[string]any{
				MetricSessionCount:  "many",
				MetricWinRate:       0.7,
				MetricAvgRiskReward: 3,
			},
			failing:     []string{MetricSessionCount},
			missingSize: 1,
		},
		{
			name: "infinite_value_is_unmet",
			snapshot: map[string]any{
				MetricSessionCount:  40,
				MetricWinRate:       0.7,
				MetricAvgRiskReward: math.Inf(1),
			},
			failing:     []string{MetricAvgRiskReward},
			missingSize: 1,
		},
		{
			name: "nan_string_is_unmet",
			snapshot: map[string]any{
				MetricSessionCount:  40,
				MetricWinRate:       "NaN",
				MetricAvgRiskReward: 2.0,
			},
			failing:     []string{MetricWinRate},
			missingSize: 1,
		},
		{
			name:        "empty_snapshot",
			snapshot:    map[string]any{},
			failing:     []string{MetricSessionCount, MetricWinRate, MetricAvgRiskReward},
			missingSize: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(phase.ProofOfConcept, tt.snapshot)

			assert.Equal(t, tt.canAdvance, result.CanAdvance())
			assert.Equal(t, phase.ProofOfConcept, result.Target())
			assert.Len(t, result.CriteriaMet(), 3)
			assert.Len(t, result.MissingRequirements(), tt.missingSize)
			for _, metric := range tt.failing {
				assert.False(t, result.CriteriaMet()[metric], metric)
			}
		})
	}
}

func TestValidate_TrialUsesUpperBoundForDrawdown(t *testing.T) {
	v := New(DefaultThresholds())
	snapshot := map[string]any{
		MetricSessionCount:  25,
		MetricWinRate:       0.65,
		MetricAvgRiskReward: 2.2,
		MetricMaxDrawdown:   0.08,
	}

	result := v.Validate(phase.RealMoneyTrial, snapshot)
	assert.True(t, result.CanAdvance())

	snapshot[MetricMaxDrawdown] = 0.12
	result = v.Validate(phase.RealMoneyTrial, snapshot)
	assert.False(t, result.CanAdvance())
	assert.False(t, result.CriteriaMet()[MetricMaxDrawdown])
	require.Len(t, result.MissingRequirements(), 1)
	assert.Contains(t, result.MissingRequirements()[0], "max_drawdown")
}

func TestValidate_ScalingRequiresProfitFactor(t *testing.T) {
	v := New(DefaultThresholds())
	result := v.Validate(phase.Scaling, map[string]any{
		MetricSessionCount:  80,
		MetricWinRate:       0.62,
		MetricAvgRiskReward: 2.5,
		MetricMaxDrawdown:   0.05,
	})
	assert.False(t, result.CanAdvance())
	assert.Len(t, result.CriteriaMet(), 5)
	assert.False(t, result.CriteriaMet()[MetricProfitFactor])

	result = v.Validate(phase.Scaling, map[string]any{
		MetricSessionCount:  80,
		MetricWinRate:       0.62,
		MetricAvgRiskReward: 2.5,
		MetricMaxDrawdown:   0.05,
		MetricProfitFactor:  math.Inf(1),
	})
	assert.False(t, result.CanAdvance(), "a profit factor with no losing trades is not evaluated")
	assert.False(t, result.CriteriaMet()[MetricProfitFactor])
}

func TestValidate_ExperienceHasNoRequirements(t *testing.T) {
	result := New(DefaultThresholds()).Validate(phase.Experience, nil)
	assert.True(t, result.CanAdvance())
	assert.Empty(t, result.CriteriaMet())
}

func TestValidationResult_Immutable(t *testing.T) {
	result := New(DefaultThresholds()).Validate(phase.ProofOfConcept, map[string]any{MetricWinRate: 0.1})

	criteria := result.CriteriaMet()
	criteria[MetricWinRate] = true
	missing := result.MissingRequirements()
	missing[0] = "tampered"
	summary := result.MetricsSummary()
	summary[MetricWinRate] = "0.99"

	assert.False(t, result.CriteriaMet()[MetricWinRate])
	assert.NotEqual(t, "tampered", result.MissingRequirements()[0])
	assert.Equal(t, "0.1", result.MetricsSummary()[MetricWinRate])
}

func TestValidationResult_JSON(t *testing.T) {
	result := New(DefaultThresholds()).Validate(phase.ProofOfConcept, passingProof())

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "proof", decoded["target_phase"])
	assert.Equal(t, true, decoded["can_advance"])
	assert.Equal(t, []any{}, decoded["missing_requirements"])
	summary := decoded["metrics_summary"].(map[string]any)
	assert.Equal(t, "1.8", summary[MetricAvgRiskReward])
	assert.Equal(t, "mean_revert_v2", summary["strategy"])
}

func TestValidate_Fast(t *testing.T) {
	v := New(DefaultThresholds())
	snapshot := passingProof()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		v.Validate(phase.Scaling, snapshot)
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond*10)
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	bad := DefaultThresholds()
	bad.Trial.MinWinRate = 1.5
	assert.Error(t, bad.Validate())

	bad = DefaultThresholds()
	bad.Scaling.MinProfitFactor = -1
	assert.Error(t, bad.Validate())
}
