// Package config loads the phasegate YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/phasegate/infra/breakers"
	"github.com/sawpanic/phasegate/internal/infrastructure/db"
	"github.com/sawpanic/phasegate/internal/limiter"
	"github.com/sawpanic/phasegate/internal/phase"
	"github.com/sawpanic/phasegate/internal/validators"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "config/phasegate.yaml"

// Config is the full application configuration.
type Config struct {
	State      StateConfig           `yaml:"state"`
	History    HistoryConfig         `yaml:"history"`
	Override   OverrideConfig        `yaml:"override"`
	Limiter    LimiterConfig         `yaml:"limiter"`
	Provider   ProviderConfig        `yaml:"provider"`
	Thresholds validators.Thresholds `yaml:"thresholds"`
	HTTP       HTTPConfig            `yaml:"http"`
	Logging    LoggingConfig         `yaml:"logging"`
}

// StateConfig locates the config store document and the intent marker.
type StateConfig struct {
	ConfigPath     string      `yaml:"config_path"`
	IntentPath     string      `yaml:"intent_path"`
	InitialPhase   phase.Phase `yaml:"initial_phase"`
	RecoverOnStart bool        `yaml:"recover_on_start"`
}

// HistoryConfig selects the transition history backend.
type HistoryConfig struct {
	Backend  string    `yaml:"backend"` // file | postgres
	Path     string    `yaml:"path"`
	Postgres db.Config `yaml:"postgres"`
}

// OverrideConfig controls forced advances. The secret itself is only read
// from the environment variable named by SecretEnv.
type OverrideConfig struct {
	SecretEnv         string  `yaml:"secret_env"`
	AttemptsPerMinute float64 `yaml:"attempts_per_minute"`
	Burst             int     `yaml:"burst"`
	LogPath           string  `yaml:"log_path"`
}

// LimiterConfig holds daily trade ceilings keyed by phase token.
type LimiterConfig struct {
	// DailyLimits replaces the default {proof: 1} when set.
	DailyLimits       map[string]int `yaml:"daily_limits"`
	WindowOpenHourUTC int            `yaml:"window_open_hour_utc"`
	Store             string         `yaml:"store"` // memory | file | redis
	Path              string         `yaml:"path"`
	Redis             RedisConfig    `yaml:"redis"`
}

// RedisConfig is shared by the Redis counter store and metrics provider.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	DB          int           `yaml:"db"`
	Key         string        `yaml:"key"`
	PasswordEnv string        `yaml:"password_env"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ProviderConfig selects the metrics provider.
type ProviderConfig struct {
	Kind         string          `yaml:"kind"` // static | file | redis
	Path         string          `yaml:"path"`
	Static       map[string]any  `yaml:"static"`
	Redis        RedisConfig     `yaml:"redis"`
	FallbackPath string          `yaml:"fallback_path"`
	Breaker      bool            `yaml:"breaker"`
	BreakerCfg   breakers.Config `yaml:"breaker_settings"`
}

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration that runs entirely on local files.
func Default() *Config {
	return &Config{
		State: StateConfig{
			ConfigPath:     "state/phase.json",
			IntentPath:     "state/intent.json",
			InitialPhase:   phase.Experience,
			RecoverOnStart: true,
		},
		History: HistoryConfig{
			Backend:  "file",
			Path:     "state/history.jsonl",
			Postgres: db.DefaultConfig(),
		},
		Override: OverrideConfig{
			SecretEnv:         "PHASEGATE_OVERRIDE_PASSWORD",
			AttemptsPerMinute: 5,
			Burst:             3,
			LogPath:           "state/override.jsonl",
		},
		Limiter: LimiterConfig{
			WindowOpenHourUTC: limiter.DefaultWindowOpenHour,
			Store:             "file",
			Path:              "state/trade_counts.json",
			Redis:             RedisConfig{Addr: "localhost:6379", Key: "phasegate:trade_counts", Timeout: 2 * time.Second},
		},
		Provider: ProviderConfig{
			Kind:       "file",
			Path:       "state/metrics.json",
			Redis:      RedisConfig{Addr: "localhost:6379", Key: "phasegate:metrics", Timeout: 2 * time.Second},
			Breaker:    true,
			BreakerCfg: breakers.DefaultConfig(),
		},
		Thresholds: validators.DefaultThresholds(),
		HTTP:       HTTPConfig{Host: "127.0.0.1", Port: 8090},
		Logging:    LoggingConfig{Level: "info"},
	}
}

// Load reads configPath over the defaults, applies PG_* environment
// overrides and validates the result. An empty path yields the defaults.
func Load(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
		}
	}

	config.History.Postgres.ApplyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// Validate ensures the configuration is valid and consistent
func (c *Config) Validate() error {
	if c.State.ConfigPath == "" {
		return fmt.Errorf("state config_path cannot be empty")
	}
	if !c.State.InitialPhase.Valid() {
		return fmt.Errorf("state initial_phase is not a phase")
	}

	switch c.History.Backend {
	case "file":
		if c.History.Path == "" {
			return fmt.Errorf("history path cannot be empty for the file backend")
		}
	case "postgres":
		if err := c.History.Postgres.Validate(); err != nil {
			return fmt.Errorf("history postgres: %w", err)
		}
	default:
		return fmt.Errorf("history backend must be file or postgres, got %q", c.History.Backend)
	}

	if c.Override.SecretEnv == "" {
		return fmt.Errorf("override secret_env cannot be empty")
	}
	if c.Override.AttemptsPerMinute <= 0 {
		return fmt.Errorf("override attempts_per_minute must be positive, got %g", c.Override.AttemptsPerMinute)
	}
	if c.Override.Burst < 1 {
		return fmt.Errorf("override burst must be at least 1, got %d", c.Override.Burst)
	}
	if c.Override.LogPath == "" {
		return fmt.Errorf("override log_path cannot be empty")
	}

	if _, err := c.Limiter.ToLimiterConfig(); err != nil {
		return err
	}
	switch c.Limiter.Store {
	case "memory":
	case "file":
		if c.Limiter.Path == "" {
			return fmt.Errorf("limiter path cannot be empty for the file store")
		}
	case "redis":
		if err := c.Limiter.Redis.validate("limiter"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("limiter store must be memory, file or redis, got %q", c.Limiter.Store)
	}

	switch c.Provider.Kind {
	case "static":
	case "file":
		if c.Provider.Path == "" {
			return fmt.Errorf("provider path cannot be empty for the file provider")
		}
	case "redis":
		if err := c.Provider.Redis.validate("provider"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("provider kind must be static, file or redis, got %q", c.Provider.Kind)
	}

	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	return nil
}

// ToLimiterConfig converts token-keyed limits into a limiter.Config.
func (l LimiterConfig) ToLimiterConfig() (limiter.Config, error) {
	if l.WindowOpenHourUTC < 0 || l.WindowOpenHourUTC > 23 {
		return limiter.Config{}, fmt.Errorf("limiter window_open_hour_utc must be between 0 and 23, got %d", l.WindowOpenHourUTC)
	}

	cfg := limiter.DefaultConfig()
	cfg.WindowOpenHour = l.WindowOpenHourUTC
	if l.DailyLimits == nil {
		return cfg, nil
	}

	cfg.DailyLimits = make(map[phase.Phase]int, len(l.DailyLimits))
	for token, n := range l.DailyLimits {
		p, err := phase.Parse(token)
		if err != nil {
			return limiter.Config{}, fmt.Errorf("limiter daily_limits: %w", err)
		}
		if n < 1 {
			return limiter.Config{}, fmt.Errorf("limiter daily_limits[%s] must be at least 1, got %d", token, n)
		}
		cfg.DailyLimits[p] = n
	}
	return cfg, nil
}

// Password reads the Redis password from PasswordEnv, if configured.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

func (r RedisConfig) validate(section string) error {
	if r.Addr == "" {
		return fmt.Errorf("%s redis addr cannot be empty", section)
	}
	if r.Key == "" {
		return fmt.Errorf("%s redis key cannot be empty", section)
	}
	return nil
}

// Addr is the HTTP listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}
