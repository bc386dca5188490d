package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/phasegate/internal/audit"
	"github.com/sawpanic/phasegate/internal/phase"
)

// Status is the read-only summary exposed to CLI and HTTP consumers.
type Status struct {
	CurrentPhase     phase.Phase            `json:"current_phase"`
	NextPhase        *phase.Phase           `json:"next_phase,omitempty"`
	LastTransition   *audit.PhaseTransition `json:"last_transition,omitempty"`
	DailyTradeLimit  *int                   `json:"daily_trade_limit,omitempty"`
	TradesToday      int                    `json:"trades_today"`
	NextAllowedTrade *time.Time             `json:"next_allowed_trade,omitempty"`
	PendingIntent    *Intent                `json:"pending_intent,omitempty"`
	RecoveryRequired bool                   `json:"recovery_required"`
	GeneratedAt      time.Time              `json:"generated_at"`
}

// Status reports the phase as the config store holds it, so CurrentPhase and
// LastTransition agree even when another process advanced.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.refreshPhase(ctx); err != nil {
		return Status{}, err
	}

	m.stateMu.RLock()
	current, needsRecovery := m.current, m.needsRecovery
	m.stateMu.RUnlock()

	now := m.clock().UTC()
	st := Status{
		CurrentPhase:     current,
		TradesToday:      m.limiter.Count(now),
		NextAllowedTrade: m.limiter.NextAllowedTrade(current, now),
		RecoveryRequired: needsRecovery,
		GeneratedAt:      now,
	}
	if next, ok := current.Next(); ok {
		st.NextPhase = &next
	}
	if limit, ok := m.limiter.Limit(current); ok {
		st.DailyTradeLimit = &limit
	}

	latest, err := m.history.Latest(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read history log: %w", err)
	}
	st.LastTransition = latest

	intent, err := m.intents.Load(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read transition intent: %w", err)
	}
	st.PendingIntent = intent
	return st, nil
}
