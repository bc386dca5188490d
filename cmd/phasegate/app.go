package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/phasegate/infra/breakers"
	"github.com/sawpanic/phasegate/internal/audit"
	"github.com/sawpanic/phasegate/internal/config"
	"github.com/sawpanic/phasegate/internal/configstore"
	"github.com/sawpanic/phasegate/internal/infrastructure/db"
	httpapi "github.com/sawpanic/phasegate/internal/interfaces/http"
	"github.com/sawpanic/phasegate/internal/limiter"
	"github.com/sawpanic/phasegate/internal/metrics"
	"github.com/sawpanic/phasegate/internal/net/ratelimit"
	"github.com/sawpanic/phasegate/internal/progression"
	"github.com/sawpanic/phasegate/internal/provider"
	"github.com/sawpanic/phasegate/internal/secrets"
	"github.com/sawpanic/phasegate/internal/validators"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg      *config.Config
	manager  *progression.Manager
	limiter  *limiter.Limiter
	history  audit.HistoryLog
	override *audit.FileOverrideLog
	registry *prometheus.Registry
	checks   []httpapi.Check
	closers  []func() error

	// persistCounters is false for the in-memory limiter store.
	persistCounters bool
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	a.registry.MustRegister(collectors.NewGoCollector())
	reg := metrics.NewRegistry(a.registry)

	store := configstore.NewFileStore(cfg.State.ConfigPath)
	created, err := store.Init(ctx, cfg.State.InitialPhase)
	if err != nil {
		return fmt.Errorf("failed to initialize config store: %w", err)
	}
	if created {
		log.Info().Str("path", store.Path()).Str("phase", cfg.State.InitialPhase.Token()).Msg("Config store created")
	}
	a.checks = append(a.checks, httpapi.Check{
		Name:     "config_store",
		Critical: true,
		Probe: func(ctx context.Context) error {
			_, err := store.Load(ctx)
			return err
		},
	})

	if a.history, err = a.buildHistory(ctx); err != nil {
		return err
	}
	a.override = audit.NewFileOverrideLog(cfg.Override.LogPath)

	prov, err := a.buildProvider()
	if err != nil {
		return err
	}
	if a.limiter, err = a.buildLimiter(ctx); err != nil {
		return err
	}

	opts := progression.Options{
		Store:          store,
		History:        a.history,
		Overrides:      a.override,
		Provider:       prov,
		Validator:      validators.New(cfg.Thresholds),
		Limiter:        a.limiter,
		Metrics:        reg,
		Secrets:        secrets.NewEnvProvider(""),
		SecretKey:      cfg.Override.SecretEnv,
		Throttle:       ratelimit.PerMinute(cfg.Override.AttemptsPerMinute, cfg.Override.Burst),
		RecoverOnStart: cfg.State.RecoverOnStart,
	}
	if cfg.State.IntentPath != "" {
		opts.Intents = progression.NewFileIntentStore(cfg.State.IntentPath)
	}

	if a.manager, err = progression.New(ctx, opts); err != nil {
		return err
	}
	return nil
}

func (a *app) buildHistory(ctx context.Context) (audit.HistoryLog, error) {
	switch a.cfg.History.Backend {
	case "postgres":
		mgr, err := db.NewManager(ctx, a.cfg.History.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		a.closers = append(a.closers, mgr.Close)
		a.checks = append(a.checks, httpapi.RepositoryCheck("history_postgres", true, mgr.Health()))
		return mgr.History(), nil
	default:
		return audit.NewFileHistoryLog(a.cfg.History.Path), nil
	}
}

func (a *app) buildProvider() (provider.Provider, error) {
	pc := a.cfg.Provider

	var base provider.Provider
	switch pc.Kind {
	case "static":
		base = provider.NewStaticProvider(pc.Static)
	case "file":
		base = provider.NewFileProvider(pc.Path)
	case "redis":
		client := a.redisClient(pc.Redis, "metrics_redis")
		base = provider.NewRedisProvider(client, pc.Redis.Key, pc.Redis.Timeout)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", pc.Kind)
	}

	if pc.Breaker {
		base = provider.NewBreakerProvider(base, breakers.New("metrics-"+pc.Kind, pc.BreakerCfg))
	}
	if pc.FallbackPath != "" {
		base = provider.NewChainProvider("metrics", base, provider.NewFileProvider(pc.FallbackPath))
	}

	a.checks = append(a.checks, httpapi.Check{
		Name: "metrics_provider",
		Probe: func(ctx context.Context) error {
			_, err := base.Snapshot(ctx)
			return err
		},
	})
	return base, nil
}

func (a *app) buildLimiter(ctx context.Context) (*limiter.Limiter, error) {
	lc, err := a.cfg.Limiter.ToLimiterConfig()
	if err != nil {
		return nil, err
	}

	var store limiter.CounterStore
	switch a.cfg.Limiter.Store {
	case "file":
		store = limiter.NewFileCounterStore(a.cfg.Limiter.Path)
	case "redis":
		rc := a.cfg.Limiter.Redis
		store = limiter.NewRedisCounterStore(a.redisClient(rc, "limiter_redis"), rc.Key, rc.Timeout)
	}

	lim := limiter.New(lc, store)
	if store != nil {
		a.persistCounters = true
		if err := lim.Load(ctx); err != nil {
			return nil, err
		}
	}
	return lim, nil
}

func (a *app) redisClient(rc config.RedisConfig, checkName string) redis.UniversalClient {
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password(),
		DB:       rc.DB,
	})
	a.closers = append(a.closers, client.Close)
	a.checks = append(a.checks, httpapi.Check{
		Name: checkName,
		Probe: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	})
	return client
}

// saveCounters persists limiter state after a mutation.
func (a *app) saveCounters(ctx context.Context) error {
	if !a.persistCounters {
		return nil
	}
	return a.limiter.Save(ctx)
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
