// Package limiter enforces per-calendar-day trade ceilings for phases that
// have one. Days are UTC calendar dates.
package limiter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/phasegate/internal/phase"
)

// DefaultWindowOpenHour is the UTC hour the daily trading window opens.
const DefaultWindowOpenHour = 7

// DateLayout is the serialized form of a counter date.
const DateLayout = "2006-01-02"

// Config controls which phases are limited and when the window reopens.
type Config struct {
	// DailyLimits maps a phase to its per-day trade ceiling. Phases absent
	// from the map are unlimited and never get a counter.
	DailyLimits    map[phase.Phase]int
	WindowOpenHour int
}

// DefaultConfig limits ProofOfConcept to a single trade per day.
func DefaultConfig() Config {
	return Config{
		DailyLimits:    map[phase.Phase]int{phase.ProofOfConcept: 1},
		WindowOpenHour: DefaultWindowOpenHour,
	}
}

// TradeLimitExceededError is returned when a phase has used its daily quota.
// Callers should schedule a retry at NextAllowed rather than retrying early.
type TradeLimitExceededError struct {
	Phase       phase.Phase
	Limit       int
	NextAllowed time.Time
}

func (e *TradeLimitExceededError) Error() string {
	return fmt.Sprintf("daily trade limit of %d reached for phase %s; next trade allowed at %s",
		e.Limit, e.Phase.Token(), e.NextAllowed.Format(time.RFC3339))
}

// CounterStore persists counter state on demand.
type CounterStore interface {
	Load(ctx context.Context) (map[string]int, error)
	Save(ctx context.Context, counts map[string]int) error
}

// Limiter tracks trades per UTC day. Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	config Config
	counts map[time.Time]int
	store  CounterStore
}

// New creates a limiter. store may be nil when persistence is not needed.
func New(config Config, store CounterStore) *Limiter {
	limits := make(map[phase.Phase]int, len(config.DailyLimits))
	for p, n := range config.DailyLimits {
		limits[p] = n
	}
	config.DailyLimits = limits

	return &Limiter{
		config: config,
		counts: make(map[time.Time]int),
		store:  store,
	}
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Limit returns the daily ceiling for p; ok is false when p is unlimited.
func (l *Limiter) Limit(p phase.Phase) (limit int, ok bool) {
	limit, ok = l.config.DailyLimits[p]
	return limit, ok
}

// CheckLimit consumes one trade for date under phase p. When p has a ceiling
// and the date's count has reached it, a *TradeLimitExceededError is returned
// and the count is left unchanged.
func (l *Limiter) CheckLimit(p phase.Phase, date time.Time) error {
	limit, limited := l.Limit(p)
	if !limited {
		return nil
	}

	day := Day(date)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[day] >= limit {
		next := l.nextWindowOpen(day)
		log.Warn().
			Str("phase", p.Token()).
			Str("date", day.Format(DateLayout)).
			Int("limit", limit).
			Time("next_allowed", next).
			Msg("Daily trade limit reached")
		return &TradeLimitExceededError{Phase: p, Limit: limit, NextAllowed: next}
	}

	l.counts[day]++
	log.Debug().
		Str("phase", p.Token()).
		Str("date", day.Format(DateLayout)).
		Int("count", l.counts[day]).
		Int("limit", limit).
		Msg("Trade counted against daily limit")
	return nil
}

// NextAllowedTrade is a read-only probe. It returns nil when p is unlimited or
// the date still has quota, otherwise the next window open.
func (l *Limiter) NextAllowedTrade(p phase.Phase, date time.Time) *time.Time {
	limit, limited := l.Limit(p)
	if !limited {
		return nil
	}

	day := Day(date)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[day] < limit {
		return nil
	}
	next := l.nextWindowOpen(day)
	return &next
}

// Count returns the number of trades recorded for date.
func (l *Limiter) Count(date time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[Day(date)]
}

// ResetDailyCounter purges every entry strictly before currentDate. Entries
// for currentDate and later are kept.
func (l *Limiter) ResetDailyCounter(currentDate time.Time) int {
	cutoff := Day(currentDate)

	l.mu.Lock()
	defer l.mu.Unlock()

	purged := 0
	for day := range l.counts {
		if day.Before(cutoff) {
			delete(l.counts, day)
			purged++
		}
	}

	if purged > 0 {
		log.Info().
			Str("cutoff", cutoff.Format(DateLayout)).
			Int("purged", purged).
			Msg("Purged stale trade counters")
	}
	return purged
}

// Snapshot returns the counters keyed by DateLayout date strings.
func (l *Limiter) Snapshot() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]int, len(l.counts))
	for day, n := range l.counts {
		out[day.Format(DateLayout)] = n
	}
	return out
}

// Dates returns the tracked dates in ascending order.
func (l *Limiter) Dates() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	days := make([]time.Time, 0, len(l.counts))
	for day := range l.counts {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// Persistent reports whether a counter store is configured.
func (l *Limiter) Persistent() bool { return l.store != nil }

// Save writes the current counters to the configured store.
func (l *Limiter) Save(ctx context.Context) error {
	if l.store == nil {
		return fmt.Errorf("no counter store configured")
	}
	if err := l.store.Save(ctx, l.Snapshot()); err != nil {
		return fmt.Errorf("failed to save trade counters: %w", err)
	}
	return nil
}

// Load replaces the in-memory counters with the store's content.
func (l *Limiter) Load(ctx context.Context) error {
	if l.store == nil {
		return fmt.Errorf("no counter store configured")
	}

	raw, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load trade counters: %w", err)
	}

	counts := make(map[time.Time]int, len(raw))
	for key, n := range raw {
		day, err := time.Parse(DateLayout, key)
		if err != nil {
			return fmt.Errorf("invalid counter date %q: %w", key, err)
		}
		if n < 0 {
			return fmt.Errorf("invalid counter value %d for %s", n, key)
		}
		counts[day] = n
	}

	l.mu.Lock()
	l.counts = counts
	l.mu.Unlock()

	log.Debug().Int("dates", len(counts)).Msg("Loaded trade counters")
	return nil
}

func (l *Limiter) nextWindowOpen(day time.Time) time.Time {
	return day.AddDate(0, 0, 1).Add(time.Duration(l.config.WindowOpenHour) * time.Hour)
}
