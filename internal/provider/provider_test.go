package provider

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/phasegate/infra/breakers"
)

func TestStaticProvider_CopiesSnapshot(t *testing.T) {
	src := map[string]any{"win_rate": 0.6}
	p := NewStaticProvider(src)
	src["win_rate"] = 0.1

	got, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.6, got["win_rate"])

	got["win_rate"] = 0.2
	again, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.6, again["win_rate"])

	p.Set(map[string]any{"session_count": 40})
	again, err = p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"session_count": 40}, again)
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		content  string
		missing  bool
		wantCode string
		want     map[string]any
	}{
		{
			name:    "object",
			content: `{"session_count": 31, "win_rate": 0.58, "note": "weekly"}`,
			want: map[string]any{
				"session_count": json.Number("31"),
				"win_rate":      json.Number("0.58"),
				"note":          "weekly",
			},
		},
		{name: "array", content: `[1,2]`, wantCode: ErrCodeInvalidData},
		{name: "null", content: `null`, wantCode: ErrCodeInvalidData},
		{name: "missing", missing: true, wantCode: ErrCodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if !tt.missing {
				require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			}

			got, err := NewFileProvider(path).Snapshot(context.Background())
			if tt.wantCode != "" {
				var perr *ProviderError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, tt.wantCode, perr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedisProvider(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectHGetAll("phasegate:metrics").SetVal(map[string]string{
		"session_count": "35",
		"win_rate":      "0.61",
	})

	got, err := NewRedisProvider(client, "phasegate:metrics", time.Second).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"session_count": "35", "win_rate": "0.61"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisProvider_Error(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectHGetAll("phasegate:metrics").SetErr(errors.New("connection refused"))

	_, err := NewRedisProvider(client, "phasegate:metrics", 0).Snapshot(context.Background())
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeUnavailable, perr.Code)
	assert.True(t, perr.Temporary)
}

type failingProvider struct {
	calls int
	err   error
}

func (f *failingProvider) Snapshot(ctx context.Context) (map[string]any, error) {
	f.calls++
	return nil, f.err
}

func TestBreakerProvider_OpensAfterFailures(t *testing.T) {
	inner := &failingProvider{err: errors.New("disk gone")}
	p := NewBreakerProvider(inner, breakers.New("metrics", breakers.DefaultConfig()))

	for i := 0; i < 3; i++ {
		_, err := p.Snapshot(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk gone")
	}

	_, err := p.Snapshot(context.Background())
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeCircuitOpen, perr.Code)
	assert.Equal(t, 3, inner.calls, "open breaker must not call the provider")
}

func TestBreakerProvider_Success(t *testing.T) {
	p := NewBreakerProvider(NewStaticProvider(map[string]any{"a": 1}), breakers.New("metrics", breakers.DefaultConfig()))

	got, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, got)
}

func TestChainProvider(t *testing.T) {
	first := &failingProvider{err: errors.New("redis down")}
	chain := NewChainProvider("metrics", first, NewStaticProvider(map[string]any{"win_rate": 0.7}))

	got, err := chain.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.7, got["win_rate"])
	assert.Equal(t, 1, first.calls)

	allFail := NewChainProvider("metrics", first, &failingProvider{err: errors.New("file gone")})
	_, err = allFail.Snapshot(context.Background())
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeUnavailable, perr.Code)
	assert.Contains(t, errors.Unwrap(err).Error(), "file gone")
}
