package secrets

import (
	"context"
	"os"
	"strings"
	"time"
)

// EnvProvider implements SecretProvider for environment variables.
// Keys are upper-cased; a non-empty prefix is joined with an underscore.
type EnvProvider struct {
	prefix string
	lookup func(string) (string, bool)
}

// NewEnvProvider creates a new environment variable secret provider
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix, lookup: os.LookupEnv}
}

// GetSecret returns SecretNotFoundError when the variable is unset or empty.
func (p *EnvProvider) GetSecret(ctx context.Context, key string) (*Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	envKey := p.EnvKey(key)
	value, ok := p.lookup(envKey)
	if !ok || value == "" {
		return nil, &SecretNotFoundError{Key: key, Provider: "environment"}
	}

	return &Secret{
		Key:       key,
		Value:     []byte(value),
		CreatedAt: time.Now().UTC(),
		Metadata: map[string]string{
			"source":  "environment",
			"env_key": envKey,
		},
	}, nil
}

// EnvKey is the variable name consulted for key.
func (p *EnvProvider) EnvKey(key string) string {
	if p.prefix == "" {
		return strings.ToUpper(key)
	}
	return strings.ToUpper(p.prefix) + "_" + strings.ToUpper(key)
}
