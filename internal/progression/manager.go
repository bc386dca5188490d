// Package progression implements the phase manager: validation, the
// two-store transition protocol with compensating rollback, override
// verification and intent-based crash recovery.
package progression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/phasegate/internal/audit"
	"github.com/sawpanic/phasegate/internal/configstore"
	"github.com/sawpanic/phasegate/internal/limiter"
	"github.com/sawpanic/phasegate/internal/metrics"
	"github.com/sawpanic/phasegate/internal/net/ratelimit"
	"github.com/sawpanic/phasegate/internal/phase"
	"github.com/sawpanic/phasegate/internal/provider"
	"github.com/sawpanic/phasegate/internal/secrets"
	"github.com/sawpanic/phasegate/internal/validators"
)

// DefaultSecretKey is the environment variable holding the override secret.
const DefaultSecretKey = "PHASEGATE_OVERRIDE_PASSWORD"

// Options wires the manager's collaborators. Store, History, Overrides and
// Provider are required.
type Options struct {
	Store     configstore.Store
	History   audit.HistoryLog
	Overrides audit.OverrideLog
	Provider  provider.Provider

	Validator *validators.Validator
	Limiter   *limiter.Limiter
	Intents   IntentStore
	Metrics   *metrics.Registry

	Secrets   secrets.SecretProvider
	SecretKey string
	Throttle  *ratelimit.Limiter

	// RecoverOnStart reconciles a leftover intent before the phase is loaded.
	RecoverOnStart bool

	Clock func() time.Time
	NewID func() string
}

// AdvanceOptions selects a forced override. Password nil and empty are both
// "not provided".
type AdvanceOptions struct {
	Force    bool
	Password *secrets.SecretSafeString
}

// Manager owns the current phase. AdvancePhase and Recover are serialized;
// reads never wait for an in-flight advance.
type Manager struct {
	advanceMu sync.Mutex

	stateMu       sync.RWMutex
	current       phase.Phase
	needsRecovery bool
	// tracksIntents is false when no IntentStore was given; a failed
	// compensation then stays flagged until Recover.
	tracksIntents bool

	store     configstore.Store
	history   audit.HistoryLog
	overrides audit.OverrideLog
	provider  provider.Provider
	validator *validators.Validator
	limiter   *limiter.Limiter
	intents   IntentStore
	metrics   *metrics.Registry
	secrets   secrets.SecretProvider
	secretKey string
	throttle  *ratelimit.Limiter
	clock     func() time.Time
	newID     func() string
}

// New builds a manager and loads the current phase from the config store.
func New(ctx context.Context, opts Options) (*Manager, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("progression: config store is required")
	case opts.History == nil:
		return nil, errors.New("progression: history log is required")
	case opts.Overrides == nil:
		return nil, errors.New("progression: override log is required")
	case opts.Provider == nil:
		return nil, errors.New("progression: metrics provider is required")
	}

	m := &Manager{
		store:     opts.Store,
		history:   opts.History,
		overrides: opts.Overrides,
		provider:  opts.Provider,
		validator: opts.Validator,
		limiter:   opts.Limiter,
		intents:   opts.Intents,
		metrics:   opts.Metrics,
		secrets:   opts.Secrets,
		secretKey: opts.SecretKey,
		throttle:  opts.Throttle,
		clock:     opts.Clock,
		newID:     opts.NewID,

		tracksIntents: opts.Intents != nil,
	}
	if m.validator == nil {
		m.validator = validators.New(validators.DefaultThresholds())
	}
	if m.limiter == nil {
		m.limiter = limiter.New(limiter.DefaultConfig(), nil)
	}
	if m.intents == nil {
		m.intents = noIntents{}
	}
	if m.secrets == nil {
		m.secrets = secrets.NewEnvProvider("")
	}
	if m.secretKey == "" {
		m.secretKey = DefaultSecretKey
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}

	m.primeThrottle(ctx)

	if opts.RecoverOnStart {
		if _, err := m.Recover(ctx); err != nil {
			return nil, err
		}
	}

	current, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current phase: %w", err)
	}
	m.current = current
	m.metrics.SetCurrentPhase(current)

	if pending, err := m.intents.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to read transition intent: %w", err)
	} else if pending != nil {
		log.Warn().Str("transition_id", pending.TransitionID).Msg("Unresolved transition intent found; advances blocked until recover")
		m.needsRecovery = true
	}

	log.Info().Str("phase", current.Token()).Msg("Phase manager ready")
	return m, nil
}

// CurrentPhase returns the in-memory phase.
func (m *Manager) CurrentPhase() phase.Phase {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.current
}

func (m *Manager) setCurrent(p phase.Phase) {
	m.stateMu.Lock()
	m.current = p
	m.stateMu.Unlock()
}

// Limiter exposes the trade limiter for counter maintenance.
func (m *Manager) Limiter() *limiter.Limiter { return m.limiter }

// ValidateTransition fetches metrics and evaluates them for target. Read-only.
func (m *Manager) ValidateTransition(ctx context.Context, target phase.Phase) (validators.ValidationResult, error) {
	result, _, err := m.validate(ctx, target)
	return result, err
}

func (m *Manager) validate(ctx context.Context, target phase.Phase) (validators.ValidationResult, map[string]any, error) {
	start := time.Now()
	defer func() { m.metrics.ObserveValidation(time.Since(start)) }()

	if !target.Valid() {
		return validators.ValidationResult{}, nil, fmt.Errorf("%w: %d", phase.ErrUnknownPhase, int(target))
	}

	snapshot, err := m.provider.Snapshot(ctx)
	if err != nil {
		return validators.ValidationResult{}, nil, fmt.Errorf("failed to fetch metrics: %w", err)
	}
	return m.validator.Validate(target, snapshot), snapshot, nil
}

// CheckTrade consumes one trade for date under the current phase.
func (m *Manager) CheckTrade(date time.Time) error {
	p := m.CurrentPhase()
	err := m.limiter.CheckLimit(p, date)
	m.metrics.RecordTradeCheck(p, err == nil)
	return err
}

// NextAllowedTrade probes the limiter for the current phase without consuming.
func (m *Manager) NextAllowedTrade(date time.Time) *time.Time {
	return m.limiter.NextAllowedTrade(m.CurrentPhase(), date)
}

// AdvancePhase moves to target. Without force the target must be the next
// phase and pass validation. With force the override password is verified
// and every attempt is written to the override log.
//
// On any returned error other than *InconsistentStateError the in-memory
// phase, the config store and the history log are unchanged.
func (m *Manager) AdvancePhase(ctx context.Context, target phase.Phase, opts AdvanceOptions) (audit.PhaseTransition, error) {
	m.advanceMu.Lock()
	defer m.advanceMu.Unlock()

	m.stateMu.RLock()
	from, blocked := m.current, m.needsRecovery
	m.stateMu.RUnlock()

	if blocked {
		if opts.Force {
			return audit.PhaseTransition{}, m.rejectForced(ctx, reasonRecoveryRequired, ErrRecoveryRequired)
		}
		return audit.PhaseTransition{}, ErrRecoveryRequired
	}
	if !target.Valid() || target == from {
		invalid := &InvalidTransitionError{From: from, To: target, Forced: opts.Force}
		if opts.Force {
			return audit.PhaseTransition{}, m.rejectForced(ctx, reasonInvalidTarget, invalid)
		}
		return audit.PhaseTransition{}, invalid
	}

	var snapshot map[string]any
	var redactor *secrets.Redactor
	if !opts.Force {
		if !target.IsNextOf(from) {
			return audit.PhaseTransition{}, &InvalidTransitionError{From: from, To: target}
		}
		result, snap, err := m.validate(ctx, target)
		if err != nil {
			m.metrics.RecordTransitionFailure("metrics")
			return audit.PhaseTransition{}, err
		}
		if !result.CanAdvance() {
			m.metrics.RecordTransitionFailure("validation")
			log.Info().
				Str("from", from.Token()).
				Str("to", target.Token()).
				Strs("missing", result.MissingRequirements()).
				Msg("Phase advance refused: criteria not met")
			return audit.PhaseTransition{}, &CriteriaNotMetError{Result: result}
		}
		snapshot = snap
	} else {
		r, err := m.verifyOverride(ctx, opts.Password)
		if err != nil {
			return audit.PhaseTransition{}, err
		}
		redactor = r

		snap, err := m.provider.Snapshot(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Metrics unavailable for forced advance; recording empty snapshot")
			snap = map[string]any{}
		}
		snapshot = snap
	}

	record := audit.PhaseTransition{
		TransitionID:     m.newID(),
		FromPhase:        from,
		ToPhase:          target,
		Timestamp:        m.clock().UTC(),
		ValidationPassed: !opts.Force,
		Forced:           opts.Force,
		MetricsSnapshot:  audit.SanitizeSnapshot(snapshot),
	}
	// Encoding problems surface here, before either store is touched.
	if _, err := json.Marshal(record); err != nil {
		m.metrics.RecordTransitionFailure("encode")
		return audit.PhaseTransition{}, fmt.Errorf("failed to encode transition %s: %w", record.TransitionID, err)
	}

	if err := m.commit(ctx, record); err != nil {
		return audit.PhaseTransition{}, err
	}

	m.metrics.RecordTransition(from, target, opts.Force)
	log.Info().
		Str("transition_id", record.TransitionID).
		Str("from", from.Token()).
		Str("to", target.Token()).
		Bool("forced", opts.Force).
		Msg("Phase advanced")

	if opts.Force {
		if err := m.appendOverride(ctx, false, overrideSuccessReason(from, target), redactor); err != nil {
			return record, &OverrideAuditError{TransitionID: record.TransitionID, Err: err}
		}
	}
	return record, nil
}

// commit runs the intent, config store and history log writes. Compensation
// ignores cancellation of ctx so an interrupted caller cannot strand a
// half-applied transition.
func (m *Manager) commit(ctx context.Context, record audit.PhaseTransition) error {
	from, to := record.FromPhase, record.ToPhase
	intent := Intent{
		TransitionID: record.TransitionID,
		From:         from,
		To:           to,
		Forced:       record.Forced,
		CreatedAt:    record.Timestamp,
	}

	if err := m.intents.Save(ctx, intent); err != nil {
		m.metrics.RecordTransitionFailure(StageIntent)
		return &TransitionNotDurableError{TransitionID: record.TransitionID, Stage: StageIntent, Err: err}
	}

	m.setCurrent(to)

	if err := m.store.Save(ctx, to); err != nil {
		m.setCurrent(from)
		m.clearIntent(ctx, record.TransitionID)
		m.metrics.RecordTransitionFailure(StageConfigStore)
		log.Error().Err(err).Str("transition_id", record.TransitionID).Msg("Config store write failed; phase unchanged")
		return &TransitionNotDurableError{TransitionID: record.TransitionID, Stage: StageConfigStore, Err: err}
	}

	if err := m.history.Append(ctx, record); err != nil {
		m.metrics.RecordTransitionFailure(StageHistoryLog)

		if cerr := m.store.Save(context.WithoutCancel(ctx), from); cerr != nil {
			m.stateMu.Lock()
			m.current = from
			m.needsRecovery = true
			m.stateMu.Unlock()
			log.Error().
				Err(cerr).
				Str("transition_id", record.TransitionID).
				Str("prior", from.Token()).
				Str("intended", to.Token()).
				Msg("Compensating config store write failed; state is inconsistent")
			return &InconsistentStateError{
				TransitionID:    record.TransitionID,
				Prior:           from,
				Intended:        to,
				Err:             err,
				CompensationErr: cerr,
			}
		}

		m.setCurrent(from)
		m.clearIntent(ctx, record.TransitionID)
		log.Error().Err(err).Str("transition_id", record.TransitionID).Msg("History log write failed; config store reverted")
		return &TransitionNotDurableError{TransitionID: record.TransitionID, Stage: StageHistoryLog, Err: err}
	}

	m.clearIntent(ctx, record.TransitionID)
	return nil
}

// clearIntent is best effort; a stale intent is reconciled by Recover.
func (m *Manager) clearIntent(ctx context.Context, id string) {
	if err := m.intents.Clear(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Str("transition_id", id).Msg("Failed to clear transition intent")
	}
}
