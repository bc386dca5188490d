package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvProvider_GetSecret(t *testing.T) {
	t.Setenv("PHASEGATE_OVERRIDE_PASSWORD", "s3cr3t")
	p := NewEnvProvider("phasegate")

	secret, err := p.GetSecret(context.Background(), "override_password")
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cr3t"), secret.Value)
	assert.Equal(t, "PHASEGATE_OVERRIDE_PASSWORD", secret.Metadata["env_key"])

	data, err := json.Marshal(secret)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cr3t")
	assert.NotContains(t, fmt.Sprint(secret), "s3cr3t")
	assert.NotContains(t, string(secret.Redact().Value), "s3cr3t")
}

func TestEnvProvider_Missing(t *testing.T) {
	tests := []struct {
		name string
		set  bool
	}{
		{name: "unset"},
		{name: "empty", set: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.set {
				t.Setenv("PG_OVERRIDE_TEST", "")
			}
			_, err := NewEnvProvider("").GetSecret(context.Background(), "pg_override_test")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSecretNotFound)

			var notFound *SecretNotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, "environment", notFound.Provider)
		})
	}
}

func TestRedactor(t *testing.T) {
	r := NewRedactor("s3cr3t", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "literal", input: "compare s3cr3t failed", want: "compare [REDACTED] failed"},
		{name: "key_value", input: "password=hunter2 rest", want: "[REDACTED] rest"},
		{name: "dsn", input: "dial postgres://app:pw@db:5432/pg failed", want: "dial [REDACTED] failed"},
		{name: "clean", input: "invalid password", want: "invalid password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.RedactString(tt.input))
		})
	}

	assert.True(t, r.Contains("xx s3cr3t xx"))
	assert.False(t, r.Contains("nothing here"))
}

func TestSecretSafeString(t *testing.T) {
	s := NewSecretSafeString("s3cr3t")

	assert.Equal(t, "s3cr3t", s.Value())
	assert.False(t, s.Empty())
	assert.NotContains(t, fmt.Sprintf("%v %s %+v %#v", s, s, s, s), "s3cr3t")

	data, err := json.Marshal(struct{ P *SecretSafeString }{P: s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cr3t")

	var nilPassword *SecretSafeString
	assert.True(t, nilPassword.Empty())
	assert.Equal(t, "", nilPassword.Value())
	assert.True(t, NewSecretSafeString("").Empty())
}
