package provider

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ChainProvider returns the first successful snapshot, trying providers in order.
type ChainProvider struct {
	name      string
	providers []Provider
}

func NewChainProvider(name string, providers ...Provider) *ChainProvider {
	return &ChainProvider{name: name, providers: providers}
}

func (c *ChainProvider) Snapshot(ctx context.Context) (map[string]any, error) {
	var lastErr error
	for i, p := range c.providers {
		metrics, err := p.Snapshot(ctx)
		if err == nil {
			if i > 0 {
				log.Info().Str("chain", c.name).Int("attempt", i+1).Msg("metrics served by fallback provider")
			}
			return metrics, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug().Err(err).Str("chain", c.name).Int("attempt", i+1).Msg("metrics provider failed")
		lastErr = err
	}

	return nil, &ProviderError{
		Provider:  c.name,
		Code:      ErrCodeUnavailable,
		Message:   fmt.Sprintf("all %d providers in chain failed", len(c.providers)),
		Temporary: true,
		Cause:     lastErr,
	}
}
