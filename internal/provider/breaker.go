package provider

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/phasegate/infra/breakers"
)

// BreakerProvider stops calling a failing provider until the breaker half-opens.
type BreakerProvider struct {
	next    Provider
	breaker *breakers.Breaker
}

func NewBreakerProvider(next Provider, breaker *breakers.Breaker) *BreakerProvider {
	return &BreakerProvider{next: next, breaker: breaker}
}

func (p *BreakerProvider) Snapshot(ctx context.Context) (map[string]any, error) {
	v, err := p.breaker.Execute(func() (any, error) {
		return p.next.Snapshot(ctx)
	})
	if err != nil {
		if breakers.IsOpen(err) {
			log.Warn().Str("breaker", p.breaker.Name()).Msg("metrics provider circuit open")
			return nil, &ProviderError{
				Provider:  p.breaker.Name(),
				Code:      ErrCodeCircuitOpen,
				Message:   "circuit breaker open",
				Temporary: true,
				Cause:     err,
			}
		}
		return nil, err
	}
	return v.(map[string]any), nil
}
