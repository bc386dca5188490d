package validators

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Metric names understood by the validators. The metrics provider supplies
// values under these keys; anything else in a snapshot is carried for audit
// but never evaluated.
const (
	MetricSessionCount  = "session_count"
	MetricWinRate       = "win_rate"
	MetricAvgRiskReward = "avg_risk_reward"
	MetricMaxDrawdown   = "max_drawdown"
	MetricProfitFactor  = "profit_factor"
)

// Metrics is the typed view of a provider snapshot. A nil field means the
// metric was absent or not numeric.
type Metrics struct {
	SessionCount  *float64
	WinRate       *float64
	AvgRiskReward *float64
	MaxDrawdown   *float64
	ProfitFactor  *float64
}

// FromSnapshot converts a raw provider snapshot into Metrics. Values may be
// any Go numeric type or a numeric string.
func FromSnapshot(snapshot map[string]any) Metrics {
	return Metrics{
		SessionCount:  lookup(snapshot, MetricSessionCount),
		WinRate:       lookup(snapshot, MetricWinRate),
		AvgRiskReward: lookup(snapshot, MetricAvgRiskReward),
		MaxDrawdown:   lookup(snapshot, MetricMaxDrawdown),
		ProfitFactor:  lookup(snapshot, MetricProfitFactor),
	}
}

// Value returns the metric stored under name.
func (m Metrics) Value(name string) (float64, bool) {
	var v *float64
	switch name {
	case MetricSessionCount:
		v = m.SessionCount
	case MetricWinRate:
		v = m.WinRate
	case MetricAvgRiskReward:
		v = m.AvgRiskReward
	case MetricMaxDrawdown:
		v = m.MaxDrawdown
	case MetricProfitFactor:
		v = m.ProfitFactor
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

func lookup(snapshot map[string]any, key string) *float64 {
	raw, ok := snapshot[key]
	if !ok || raw == nil {
		return nil
	}
	f, ok := toFloat(raw)
	if !ok {
		return nil
	}
	return &f
}

// toFloat accepts finite numbers only; NaN and infinities count as absent.
func toFloat(v any) (float64, bool) {
	f, ok := numeric(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case fmt.Stringer:
		return numeric(n.String())
	default:
		return 0, false
	}
}

func formatValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
