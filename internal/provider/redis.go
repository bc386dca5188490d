package provider

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisProvider reads the snapshot from a hash; every field is one metric.
type RedisProvider struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

func NewRedisProvider(client redis.UniversalClient, key string, timeout time.Duration) *RedisProvider {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisProvider{client: client, key: key, timeout: timeout}
}

func (p *RedisProvider) Snapshot(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	fields, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return nil, &ProviderError{
			Provider:  "redis",
			Code:      ErrCodeUnavailable,
			Message:   "HGETALL " + p.key + " failed",
			Temporary: true,
			Cause:     err,
		}
	}

	metrics := make(map[string]any, len(fields))
	for k, v := range fields {
		metrics[k] = v
	}
	return metrics, nil
}
