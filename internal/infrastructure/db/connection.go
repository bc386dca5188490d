package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/phasegate/internal/audit"
	"github.com/sawpanic/phasegate/internal/persistence"
	"github.com/sawpanic/phasegate/internal/persistence/postgres"
)

// Manager owns the Postgres connection and the history repository built on it.
type Manager struct {
	db      *sqlx.DB
	config  Config
	history audit.HistoryLog
	health  *healthChecker
}

// NewManager opens and pings the database, then prepares the history table
// when EnsureSchema is set.
func NewManager(ctx context.Context, config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	m, err := newManagerWithDB(ctx, db, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func newManagerWithDB(ctx context.Context, db *sqlx.DB, config Config) (*Manager, error) {
	pingCtx, cancel := context.WithTimeout(ctx, config.QueryTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.EnsureSchema {
		schemaCtx, cancel := context.WithTimeout(ctx, config.QueryTimeout)
		defer cancel()
		if _, err := db.ExecContext(schemaCtx, postgres.TransitionsSchema); err != nil {
			return nil, fmt.Errorf("failed to ensure transitions schema: %w", err)
		}
		log.Debug().Msg("phase_transitions schema ensured")
	}

	return &Manager{
		db:      db,
		config:  config,
		history: postgres.NewTransitionsRepo(db, config.QueryTimeout),
		health:  &healthChecker{db: db, timeout: config.QueryTimeout},
	}, nil
}

// History returns the Postgres-backed history log.
func (m *Manager) History() audit.HistoryLog {
	return m.history
}

// Health returns the health checker interface
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// healthChecker implements persistence.RepositoryHealth
type healthChecker struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	start := time.Now()

	var errs []string
	healthy := true
	if err := h.Ping(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("ping failed: %v", err))
		healthy = false
	}

	stats := h.db.Stats()
	return persistence.HealthCheck{
		Healthy: healthy,
		Errors:  errs,
		ConnectionPool: map[string]int{
			"max_open": stats.MaxOpenConnections,
			"open":     stats.OpenConnections,
			"in_use":   stats.InUse,
			"idle":     stats.Idle,
		},
		LastCheck:      time.Now().UTC(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

func (h *healthChecker) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(pingCtx)
}
