package progression

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/phasegate/internal/audit"
	"github.com/sawpanic/phasegate/internal/metrics"
	"github.com/sawpanic/phasegate/internal/phase"
	"github.com/sawpanic/phasegate/internal/secrets"
)

// Override log reasons. Each refusal cause has its own text.
const (
	reasonRateLimited      = "rate limited"
	reasonNotConfigured    = "password not configured"
	reasonPasswordRequired = "password required"
	reasonInvalidPassword  = "invalid password"
	reasonSecretLookup     = "secret lookup failed"
	reasonRecoveryRequired = "recovery required"
	reasonInvalidTarget    = "invalid target"
)

// throttleReplayWindow bounds how far back primeThrottle reads the override log.
const throttleReplayWindow = time.Hour

// reasonRedactor applies only credential patterns. Reasons are fixed texts
// built from phase tokens, so literal secret replacement could only mangle them.
var reasonRedactor = secrets.NewRedactor()

// VerifyOverride checks the supplied password against the configured secret
// and writes exactly one OverrideAttempt, allowed or blocked.
func (m *Manager) VerifyOverride(ctx context.Context, password *secrets.SecretSafeString) error {
	redactor, err := m.verifyOverride(ctx, password)
	if err != nil {
		return err
	}
	return m.appendOverride(ctx, false, "override verified", redactor)
}

// verifyOverride refuses with an audited OverrideError, or returns the
// redactor to use for the success record. AdvancePhase writes that record
// only after the transition is durable.
func (m *Manager) verifyOverride(ctx context.Context, password *secrets.SecretSafeString) (*secrets.Redactor, error) {
	redactor := secrets.NewRedactor()

	if m.throttle != nil && !m.throttle.AllowAt(audit.ActionForceAdvance, m.clock()) {
		return nil, m.refuseOverride(ctx, ReasonRateLimited, reasonRateLimited, metrics.OutcomeRateLimited, redactor)
	}

	secret, err := m.secrets.GetSecret(ctx, m.secretKey)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return nil, m.refuseOverride(ctx, ReasonNotConfigured, reasonNotConfigured, metrics.OutcomeNotConfigured, redactor)
		}
		auditErr := m.appendOverride(ctx, true, reasonSecretLookup, redactor)
		return nil, errors.Join(fmt.Errorf("override secret lookup failed: %w", err), auditErr)
	}
	redactor = secrets.NewRedactor(string(secret.Value))

	if password.Empty() {
		return nil, m.refuseOverride(ctx, ReasonPasswordRequired, reasonPasswordRequired, metrics.OutcomePasswordNeeded, redactor)
	}

	want := sha256.Sum256(secret.Value)
	got := sha256.Sum256([]byte(password.Value()))
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return nil, m.refuseOverride(ctx, ReasonInvalidPassword, reasonInvalidPassword, metrics.OutcomeInvalid, redactor)
	}

	m.metrics.RecordOverride(metrics.OutcomeAllowed)
	return redactor, nil
}

func (m *Manager) refuseOverride(ctx context.Context, reason OverrideReason, text, outcome string, redactor *secrets.Redactor) error {
	m.metrics.RecordOverride(outcome)
	log.Warn().Str("action", audit.ActionForceAdvance).Str("reason", text).Msg("Override attempt blocked")

	refused := &OverrideError{Reason: reason}
	if err := m.appendOverride(ctx, true, text, redactor); err != nil {
		return errors.Join(refused, err)
	}
	return refused
}

// rejectForced audits a forced attempt refused before password verification
// and returns cause, joined with any audit failure.
func (m *Manager) rejectForced(ctx context.Context, text string, cause error) error {
	m.metrics.RecordOverride(metrics.OutcomeRejected)
	log.Warn().Str("action", audit.ActionForceAdvance).Str("reason", text).Msg("Override attempt blocked")

	if err := m.appendOverride(ctx, true, text, reasonRedactor); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// appendOverride writes the record even when ctx is already cancelled.
func (m *Manager) appendOverride(ctx context.Context, blocked bool, reason string, redactor *secrets.Redactor) error {
	attempt := audit.OverrideAttempt{
		Timestamp: m.clock().UTC(),
		Action:    audit.ActionForceAdvance,
		Blocked:   blocked,
		Reason:    reasonRedactor.RedactString(reason),
	}
	if err := m.overrides.Append(context.WithoutCancel(ctx), attempt); err != nil {
		m.metrics.RecordTransitionFailure(StageOverrideLog)
		log.Error().Str("reason", attempt.Reason).Bool("blocked", blocked).Msg("Failed to append override attempt")
		return fmt.Errorf("failed to append override attempt: %s", redactor.RedactString(err.Error()))
	}
	return nil
}

func overrideSuccessReason(from, to phase.Phase) string {
	return fmt.Sprintf("forced advance from %s to %s", from.Token(), to.Token())
}

// primeThrottle replays recent override attempts into the throttle so its
// budget survives process restarts. An unreadable log leaves the throttle
// empty rather than blocking startup.
func (m *Manager) primeThrottle(ctx context.Context) {
	if m.throttle == nil {
		return
	}
	reader, ok := m.overrides.(audit.OverrideReader)
	if !ok {
		return
	}

	entries, err := reader.Entries(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Override log unreadable; throttle starts empty")
		return
	}

	cutoff := m.clock().Add(-throttleReplayWindow)
	replayed := 0
	for _, a := range entries {
		if a.Action != audit.ActionForceAdvance || a.Timestamp.Before(cutoff) {
			continue
		}
		// These were refused before reaching the throttle.
		if a.Reason == reasonRecoveryRequired || a.Reason == reasonInvalidTarget {
			continue
		}
		m.throttle.AllowAt(audit.ActionForceAdvance, a.Timestamp)
		replayed++
	}
	if replayed > 0 {
		log.Debug().Int("attempts", replayed).Msg("Override throttle primed from log")
	}
}
