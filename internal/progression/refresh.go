package progression

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Refresh reloads state other processes may have written since New: the
// current phase, the pending-intent flag and, when the limiter has a store,
// the trade counters. Unsaved counter changes made through this manager are
// discarded, so in-process callers should Save the limiter first.
func (m *Manager) Refresh(ctx context.Context) error {
	if err := m.refreshPhase(ctx); err != nil {
		return err
	}
	if m.limiter.Persistent() {
		if err := m.limiter.Load(ctx); err != nil {
			return err
		}
	}
	return nil
}

// refreshPhase adopts the config store's phase. It leaves the state alone
// while this manager is advancing or recovering, and while an intent is
// pending, since the store may then hold a half-applied transition.
func (m *Manager) refreshPhase(ctx context.Context) error {
	if !m.advanceMu.TryLock() {
		return nil
	}
	defer m.advanceMu.Unlock()

	pending, err := m.intents.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read transition intent: %w", err)
	}
	if pending != nil {
		m.stateMu.Lock()
		m.needsRecovery = true
		m.stateMu.Unlock()
		return nil
	}

	m.stateMu.RLock()
	stuck := m.needsRecovery && !m.tracksIntents
	m.stateMu.RUnlock()
	if stuck {
		return nil
	}

	stored, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load current phase: %w", err)
	}

	m.stateMu.Lock()
	prev := m.current
	m.current = stored
	m.needsRecovery = false
	m.stateMu.Unlock()

	if prev != stored {
		m.metrics.SetCurrentPhase(stored)
		log.Info().Str("from", prev.Token()).Str("to", stored.Token()).Msg("Phase changed by another writer")
	}
	return nil
}
