package progression

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sawpanic/phasegate/internal/phase"
	"github.com/sawpanic/phasegate/internal/validators"
)

// Stages at which an advance can fail after validation.
const (
	StageIntent      = "intent"
	StageConfigStore = "config_store"
	StageHistoryLog  = "history_log"
	StageOverrideLog = "override_log"
)

var (
	ErrCriteriaNotMet = errors.New("transition criteria not met")

	ErrOverrideNotConfigured    = errors.New("override not configured")
	ErrOverridePasswordRequired = errors.New("override password required")
	ErrInvalidOverridePassword  = errors.New("invalid override password")
	ErrOverrideRateLimited      = errors.New("override rate limited")

	// ErrRecoveryRequired blocks advances after a failed compensation until
	// Recover has reconciled the stores.
	ErrRecoveryRequired = errors.New("unresolved transition intent; run recover")
)

// CriteriaNotMetError carries the failed validation. No persistence was attempted.
type CriteriaNotMetError struct {
	Result validators.ValidationResult
}

func (e *CriteriaNotMetError) Error() string {
	return fmt.Sprintf("%s for %s: %s", ErrCriteriaNotMet, e.Result.Target().Token(),
		strings.Join(e.Result.MissingRequirements(), "; "))
}

func (e *CriteriaNotMetError) Is(target error) bool { return target == ErrCriteriaNotMet }

// InvalidTransitionError rejects a target that the state machine does not allow.
type InvalidTransitionError struct {
	From   phase.Phase
	To     phase.Phase
	Forced bool
}

func (e *InvalidTransitionError) Error() string {
	switch {
	case !e.To.Valid():
		return fmt.Sprintf("invalid transition: %v is not a phase", e.To)
	case e.From == e.To:
		return fmt.Sprintf("invalid transition: already in phase %s", e.From.Token())
	default:
		return fmt.Sprintf("invalid transition %s -> %s: only one step forward is allowed without force",
			e.From.Token(), e.To.Token())
	}
}

// OverrideReason names why a forced advance was refused.
type OverrideReason string

const (
	ReasonNotConfigured    OverrideReason = "not_configured"
	ReasonPasswordRequired OverrideReason = "password_required"
	ReasonInvalidPassword  OverrideReason = "invalid_password"
	ReasonRateLimited      OverrideReason = "rate_limited"
)

// OverrideError is returned for every refused override. Its text never
// includes caller input or the configured secret.
type OverrideError struct {
	Reason OverrideReason
}

func (e *OverrideError) sentinel() error {
	switch e.Reason {
	case ReasonNotConfigured:
		return ErrOverrideNotConfigured
	case ReasonPasswordRequired:
		return ErrOverridePasswordRequired
	case ReasonInvalidPassword:
		return ErrInvalidOverridePassword
	case ReasonRateLimited:
		return ErrOverrideRateLimited
	}
	return nil
}

func (e *OverrideError) Error() string {
	if s := e.sentinel(); s != nil {
		return s.Error()
	}
	return "override refused"
}

func (e *OverrideError) Is(target error) bool {
	s := e.sentinel()
	return s != nil && target == s
}

// TransitionNotDurableError means a write failed and the prior phase was
// restored everywhere. Unwraps to the storage error.
type TransitionNotDurableError struct {
	TransitionID string
	Stage        string
	Err          error
}

func (e *TransitionNotDurableError) Error() string {
	return fmt.Sprintf("transition %s not durable: %s write failed: %v", e.TransitionID, e.Stage, e.Err)
}

func (e *TransitionNotDurableError) Unwrap() error { return e.Err }

// InconsistentStateError means the compensating write failed: the config
// store may still hold Intended while the history log has no record of it.
// The intent marker is left in place for Recover.
type InconsistentStateError struct {
	TransitionID    string
	Prior           phase.Phase
	Intended        phase.Phase
	Err             error
	CompensationErr error
}

func (e *InconsistentStateError) Error() string {
	msg := fmt.Sprintf("INCONSISTENT STATE: transition %s (%s -> %s) could not be reverted",
		e.TransitionID, e.Prior.Token(), e.Intended.Token())
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if e.CompensationErr != nil {
		msg += fmt.Sprintf("; compensation failed: %v", e.CompensationErr)
	}
	return msg
}

func (e *InconsistentStateError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.CompensationErr != nil {
		errs = append(errs, e.CompensationErr)
	}
	return errs
}

// OverrideAuditError is returned together with a durable transition when the
// successful override record could not be appended.
type OverrideAuditError struct {
	TransitionID string
	Err          error
}

func (e *OverrideAuditError) Error() string {
	return fmt.Sprintf("transition %s completed but override audit failed: %v", e.TransitionID, e.Err)
}

func (e *OverrideAuditError) Unwrap() error { return e.Err }
