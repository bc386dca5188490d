package breakers

import (
    "errors"
    "time"

    cb "github.com/sony/gobreaker"
)

// Config tunes when the breaker opens and how long it stays open.
type Config struct {
    ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
    Interval            time.Duration `yaml:"interval"`
    Timeout             time.Duration `yaml:"open_timeout"`
}

func DefaultConfig() Config {
    return Config{ConsecutiveFailures: 3, Interval: 60 * time.Second, Timeout: 60 * time.Second}
}

type Breaker struct{ cb *cb.CircuitBreaker }

func New(name string, cfg Config) *Breaker {
    if cfg.ConsecutiveFailures == 0 { cfg.ConsecutiveFailures = 3 }
    st := cb.Settings{Name: name}
    st.Interval = cfg.Interval
    st.Timeout = cfg.Timeout
    st.ReadyToTrip = func(counts cb.Counts) bool {
        if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures { return true }
        total := counts.Requests
        if total < 20 { return false }
        if float64(counts.TotalFailures)/float64(total) > 0.05 { return true }
        return false
    }
    return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

func (b *Breaker) Execute(fn func() (any, error)) (any, error) { return b.cb.Execute(fn) }

func (b *Breaker) Name() string { return b.cb.Name() }

func (b *Breaker) State() string { return b.cb.State().String() }

// IsOpen reports whether err was produced by a rejecting breaker.
func IsOpen(err error) bool {
    return errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests)
}
