package progression

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// RecoveryAction describes what Recover did with a leftover intent.
type RecoveryAction string

const (
	RecoveryNone       RecoveryAction = "none"
	RecoveryCompleted  RecoveryAction = "completed"
	RecoveryRolledBack RecoveryAction = "rolled_back"
	RecoveryDiscarded  RecoveryAction = "discarded"
)

// RecoveryResult reports the reconciled intent, if any.
type RecoveryResult struct {
	Action RecoveryAction `json:"action"`
	Intent *Intent        `json:"intent,omitempty"`
}

// Recover reconciles the config store with the history log using the
// pending intent:
//   - store at To and the latest history record is the intent: completed
//   - store at To without a matching record: store reverted to From
//   - store at From: nothing durable happened
//
// Any other combination returns *InconsistentStateError and keeps the intent.
func (m *Manager) Recover(ctx context.Context) (RecoveryResult, error) {
	m.advanceMu.Lock()
	defer m.advanceMu.Unlock()

	intent, err := m.intents.Load(ctx)
	if err != nil {
		return RecoveryResult{}, fmt.Errorf("failed to read transition intent: %w", err)
	}
	if intent == nil {
		m.stateMu.Lock()
		m.needsRecovery = false
		m.stateMu.Unlock()
		return RecoveryResult{Action: RecoveryNone}, nil
	}

	stored, err := m.store.Load(ctx)
	if err != nil {
		return RecoveryResult{}, fmt.Errorf("failed to load current phase: %w", err)
	}
	latest, err := m.history.Latest(ctx)
	if err != nil {
		return RecoveryResult{}, fmt.Errorf("failed to read history log: %w", err)
	}

	var action RecoveryAction
	resolved := stored
	switch {
	case stored == intent.To && latest != nil && latest.TransitionID == intent.TransitionID:
		action = RecoveryCompleted
	case stored == intent.To:
		if err := m.store.Save(ctx, intent.From); err != nil {
			return RecoveryResult{}, &InconsistentStateError{
				TransitionID:    intent.TransitionID,
				Prior:           intent.From,
				Intended:        intent.To,
				CompensationErr: err,
			}
		}
		action = RecoveryRolledBack
		resolved = intent.From
	case stored == intent.From:
		action = RecoveryDiscarded
	default:
		return RecoveryResult{}, &InconsistentStateError{
			TransitionID: intent.TransitionID,
			Prior:        intent.From,
			Intended:     intent.To,
			Err:          fmt.Errorf("config store holds %s, matching neither side of the intent", stored.Token()),
		}
	}

	if err := m.intents.Clear(ctx); err != nil {
		return RecoveryResult{}, fmt.Errorf("failed to clear transition intent: %w", err)
	}

	m.stateMu.Lock()
	m.current = resolved
	m.needsRecovery = false
	m.stateMu.Unlock()
	m.metrics.SetCurrentPhase(resolved)

	log.Warn().
		Str("transition_id", intent.TransitionID).
		Str("action", string(action)).
		Str("phase", resolved.Token()).
		Msg("Recovered pending transition intent")
	return RecoveryResult{Action: action, Intent: intent}, nil
}
