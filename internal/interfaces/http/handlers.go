package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/phasegate/internal/limiter"
	"github.com/sawpanic/phasegate/internal/phase"
	"github.com/sawpanic/phasegate/internal/progression"
	"github.com/sawpanic/phasegate/internal/provider"
	"github.com/sawpanic/phasegate/internal/validators"
)

// PhaseService is the read-only view of the phase manager the API serves.
// Refresh picks up writes made by the CLI in other processes.
type PhaseService interface {
	Refresh(ctx context.Context) error
	CurrentPhase() phase.Phase
	Status(ctx context.Context) (progression.Status, error)
	ValidateTransition(ctx context.Context, target phase.Phase) (validators.ValidationResult, error)
	Limiter() *limiter.Limiter
}

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	svc   PhaseService
	clock func() time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc PhaseService) *Handlers {
	return &Handlers{svc: svc, clock: time.Now}
}

// Status handles GET /status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	if !h.refresh(w, r) {
		return
	}
	st, err := h.svc.Status(r.Context())
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID(r.Context())).Msg("Status lookup failed")
		writeError(w, r, http.StatusInternalServerError, "status_unavailable", "phase status could not be read")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Validate handles GET /validate/{phase}. It never changes state.
func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	target, err := phase.Parse(mux.Vars(r)["phase"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown_phase", err.Error())
		return
	}

	if !h.refresh(w, r) {
		return
	}
	result, err := h.svc.ValidateTransition(r.Context(), target)
	if err != nil {
		var perr *provider.ProviderError
		if errors.As(err, &perr) {
			writeError(w, r, http.StatusServiceUnavailable, "metrics_unavailable", perr.Message)
			return
		}
		log.Error().Err(err).Str("request_id", requestID(r.Context())).Msg("Validation failed")
		writeError(w, r, http.StatusInternalServerError, "validation_failed", "metrics could not be evaluated")
		return
	}

	current := h.svc.CurrentPhase()
	writeJSON(w, http.StatusOK, ValidateResponse{
		CurrentPhase: current.Token(),
		Target:       target.Token(),
		IsNext:       target.IsNextOf(current),
		Result:       result,
	})
}

// NextTrade handles GET /limit/next?date=YYYY-MM-DD. It probes without
// consuming a trade; date defaults to today in UTC.
func (h *Handlers) NextTrade(w http.ResponseWriter, r *http.Request) {
	date := h.clock().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(limiter.DateLayout, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	if !h.refresh(w, r) {
		return
	}
	current := h.svc.CurrentPhase()
	lim := h.svc.Limiter()
	resp := NextTradeResponse{
		Phase:       current.Token(),
		Date:        limiter.Day(date).Format(limiter.DateLayout),
		TradesUsed:  lim.Count(date),
		NextAllowed: lim.NextAllowedTrade(current, date),
	}
	if limit, ok := lim.Limit(current); ok {
		resp.Limited = true
		resp.Limit = limit
	}
	writeJSON(w, http.StatusOK, resp)
}

// refresh reloads shared state and writes a 500 when that fails.
func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) bool {
	if err := h.svc.Refresh(r.Context()); err != nil {
		log.Error().Err(err).Str("request_id", requestID(r.Context())).Msg("State refresh failed")
		writeError(w, r, http.StatusInternalServerError, "state_unavailable", "phase state could not be read")
		return false
	}
	return true
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}
