package limiter

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/phasegate/internal/phase"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCheckLimit_ProofOfConceptOnePerDay(t *testing.T) {
	l := New(DefaultConfig(), nil)
	date := time.Date(2026, 3, 14, 15, 42, 0, 0, time.UTC)

	require.NoError(t, l.CheckLimit(phase.ProofOfConcept, date))
	assert.Equal(t, 1, l.Count(date))

	err := l.CheckLimit(phase.ProofOfConcept, date)
	require.Error(t, err)

	var exceeded *TradeLimitExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, phase.ProofOfConcept, exceeded.Phase)
	assert.Equal(t, 1, exceeded.Limit)
	assert.Equal(t, time.Date(2026, 3, 15, 7, 0, 0, 0, time.UTC), exceeded.NextAllowed)
	assert.Equal(t, 1, l.Count(date), "a rejected check must not increment")

	// Next calendar day has fresh quota.
	require.NoError(t, l.CheckLimit(phase.ProofOfConcept, date.Add(24*time.Hour)))
}

func TestCheckLimit_NextAllowedIgnoresTimeOfDay(t *testing.T) {
	l := New(DefaultConfig(), nil)
	early := time.Date(2026, 3, 14, 0, 5, 0, 0, time.UTC)
	late := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)

	require.NoError(t, l.CheckLimit(phase.ProofOfConcept, early))
	err := l.CheckLimit(phase.ProofOfConcept, late)

	var exceeded *TradeLimitExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, time.Date(2026, 3, 15, 7, 0, 0, 0, time.UTC), exceeded.NextAllowed)
}

func TestCheckLimit_NonUTCInputUsesUTCDate(t *testing.T) {
	l := New(DefaultConfig(), nil)
	tokyo := time.FixedZone("JST", 9*3600)
	// 2026-03-15 02:00 JST is 2026-03-14 17:00 UTC.
	require.NoError(t, l.CheckLimit(phase.ProofOfConcept, time.Date(2026, 3, 15, 2, 0, 0, 0, tokyo)))
	assert.Equal(t, 1, l.Count(day(2026, 3, 14)))
	assert.Equal(t, 0, l.Count(day(2026, 3, 15)))
}

func TestCheckLimit_UnlimitedPhases(t *testing.T) {
	for _, p := range []phase.Phase{phase.Experience, phase.RealMoneyTrial, phase.Scaling} {
		t.Run(p.Token(), func(t *testing.T) {
			l := New(DefaultConfig(), nil)
			date := day(2026, 3, 14)
			for i := 0; i < 1000; i++ {
				require.NoError(t, l.CheckLimit(p, date))
			}
			assert.Empty(t, l.Snapshot(), "unlimited phases must not create counters")
			assert.Nil(t, l.NextAllowedTrade(p, date))
		})
	}
}

func TestNextAllowedTrade_ReadOnly(t *testing.T) {
	l := New(DefaultConfig(), nil)
	date := day(2026, 5, 1)

	assert.Nil(t, l.NextAllowedTrade(phase.ProofOfConcept, date))
	assert.Equal(t, 0, l.Count(date), "probe must not mutate")

	require.NoError(t, l.CheckLimit(phase.ProofOfConcept, date))

	next := l.NextAllowedTrade(phase.ProofOfConcept, date)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 5, 2, 7, 0, 0, 0, time.UTC), *next)

	again := l.NextAllowedTrade(phase.ProofOfConcept, date)
	require.NotNil(t, again)
	assert.Equal(t, 1, l.Count(date))
}

func TestResetDailyCounter_PurgesOnlyPast(t *testing.T) {
	l := New(DefaultConfig(), nil)
	d := day(2026, 6, 10)
	dates := []time.Time{d.AddDate(0, 0, -2), d.AddDate(0, 0, -1), d, d.AddDate(0, 0, 1)}
	for _, date := range dates {
		require.NoError(t, l.CheckLimit(phase.ProofOfConcept, date))
	}

	purged := l.ResetDailyCounter(d.Add(13 * time.Hour))

	assert.Equal(t, 2, purged)
	assert.Equal(t, []time.Time{d, d.AddDate(0, 0, 1)}, l.Dates())
	assert.Equal(t, 1, l.Count(d))
	assert.Equal(t, 1, l.Count(d.AddDate(0, 0, 1)))
}

func TestResetDailyCounter_EmptyState(t *testing.T) {
	l := New(DefaultConfig(), nil)
	assert.Equal(t, 0, l.ResetDailyCounter(day(2026, 1, 1)))
	assert.Empty(t, l.Snapshot())
}

func TestCheckLimit_ConcurrentSingleWinner(t *testing.T) {
	l := New(DefaultConfig(), nil)
	date := day(2026, 7, 4)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.CheckLimit(phase.ProofOfConcept, date); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, l.Count(date))
}

func TestCustomLimitAndWindow(t *testing.T) {
	l := New(Config{
		DailyLimits:    map[phase.Phase]int{phase.RealMoneyTrial: 3},
		WindowOpenHour: 13,
	}, nil)
	date := day(2026, 2, 27)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.CheckLimit(phase.RealMoneyTrial, date))
	}
	err := l.CheckLimit(phase.RealMoneyTrial, date)

	var exceeded *TradeLimitExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 3, exceeded.Limit)
	assert.Equal(t, time.Date(2026, 2, 28, 13, 0, 0, 0, time.UTC), exceeded.NextAllowed)
	assert.NoError(t, l.CheckLimit(phase.ProofOfConcept, date))
}

func TestFileCounterStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := NewFileCounterStore(filepath.Join(t.TempDir(), "counters.json"))

	first := New(DefaultConfig(), store)
	require.NoError(t, first.Load(ctx), "missing file loads as empty")
	require.NoError(t, first.CheckLimit(phase.ProofOfConcept, day(2026, 8, 1)))
	require.NoError(t, first.Save(ctx))

	restarted := New(DefaultConfig(), store)
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, 1, restarted.Count(day(2026, 8, 1)))

	err := restarted.CheckLimit(phase.ProofOfConcept, day(2026, 8, 1))
	var exceeded *TradeLimitExceededError
	assert.ErrorAs(t, err, &exceeded, "quota survives restart")
}

func TestLimiter_SaveWithoutStore(t *testing.T) {
	l := New(DefaultConfig(), nil)
	assert.Error(t, l.Save(context.Background()))
	assert.Error(t, l.Load(context.Background()))
}

func TestRedisCounterStore(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	store := NewRedisCounterStore(db, "phasegate:trade_counts", time.Second)

	t.Run("load_parses_hash", func(t *testing.T) {
		mock.ExpectHGetAll("phasegate:trade_counts").SetVal(map[string]string{
			"2026-08-01": "1",
			"2026-08-02": "0",
		})

		l := New(DefaultConfig(), store)
		require.NoError(t, l.Load(ctx))
		assert.Equal(t, 1, l.Count(day(2026, 8, 1)))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("load_rejects_garbage", func(t *testing.T) {
		mock.ExpectHGetAll("phasegate:trade_counts").SetVal(map[string]string{"2026-08-01": "x"})
		_, err := store.Load(ctx)
		assert.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("load_surfaces_redis_error", func(t *testing.T) {
		mock.ExpectHGetAll("phasegate:trade_counts").SetErr(errors.New("connection refused"))
		_, err := store.Load(ctx)
		assert.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("save_replaces_hash_in_transaction", func(t *testing.T) {
		mock.ExpectTxPipeline()
		mock.ExpectDel("phasegate:trade_counts").SetVal(1)
		mock.ExpectHSet("phasegate:trade_counts", "2026-08-01", 1).SetVal(1)
		mock.ExpectTxPipelineExec()

		require.NoError(t, store.Save(ctx, map[string]int{"2026-08-01": 1}))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
