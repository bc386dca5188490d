package provider

import (
	"context"
	"sync"
)

// StaticProvider serves an in-memory snapshot that callers may replace.
type StaticProvider struct {
	mu      sync.RWMutex
	metrics map[string]any
}

func NewStaticProvider(metrics map[string]any) *StaticProvider {
	return &StaticProvider{metrics: copySnapshot(metrics)}
}

// Set replaces the served snapshot.
func (p *StaticProvider) Set(metrics map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = copySnapshot(metrics)
}

func (p *StaticProvider) Snapshot(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copySnapshot(p.metrics), nil
}
