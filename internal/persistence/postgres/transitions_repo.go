package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/phasegate/internal/audit"
	"github.com/sawpanic/phasegate/internal/phase"
)

// TransitionsSchema creates the history table. Rows are insert-only.
const TransitionsSchema = `
CREATE TABLE IF NOT EXISTS phase_transitions (
	transition_id     TEXT PRIMARY KEY,
	from_phase        TEXT NOT NULL,
	to_phase          TEXT NOT NULL,
	ts                TIMESTAMPTZ NOT NULL,
	validation_passed BOOLEAN NOT NULL,
	forced            BOOLEAN NOT NULL DEFAULT FALSE,
	metrics_snapshot  JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS phase_transitions_ts_idx ON phase_transitions (ts DESC);`

// ErrDuplicateTransition is returned when a transition id was already stored.
var ErrDuplicateTransition = errors.New("duplicate transition")

// transitionsRepo implements audit.HistoryLog on PostgreSQL.
type transitionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTransitionsRepo creates a PostgreSQL-backed history log.
func NewTransitionsRepo(db *sqlx.DB, timeout time.Duration) audit.HistoryLog {
	return &transitionsRepo{db: db, timeout: timeout}
}

type transitionRow struct {
	TransitionID     string    `db:"transition_id"`
	FromPhase        string    `db:"from_phase"`
	ToPhase          string    `db:"to_phase"`
	Timestamp        time.Time `db:"ts"`
	ValidationPassed bool      `db:"validation_passed"`
	Forced           bool      `db:"forced"`
	MetricsSnapshot  []byte    `db:"metrics_snapshot"`
}

// Append inserts the record; an existing transition id is rejected.
func (r *transitionsRepo) Append(ctx context.Context, t audit.PhaseTransition) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	snapshot := t.MetricsSnapshot
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics snapshot: %w", err)
	}

	query := `
		INSERT INTO phase_transitions (transition_id, from_phase, to_phase, ts, validation_passed, forced, metrics_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.ExecContext(ctx, query,
		t.TransitionID, t.FromPhase.Token(), t.ToPhase.Token(), t.Timestamp.UTC(),
		t.ValidationPassed, t.Forced, snapshotJSON)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateTransition, t.TransitionID)
		}
		return fmt.Errorf("failed to insert transition: %w", err)
	}
	return nil
}

// Latest returns the newest transition by timestamp.
func (r *transitionsRepo) Latest(ctx context.Context) (*audit.PhaseTransition, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT transition_id, from_phase, to_phase, ts, validation_passed, forced, metrics_snapshot
		FROM phase_transitions
		ORDER BY ts DESC, created_at DESC
		LIMIT 1`

	var row transitionRow
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest transition: %w", err)
	}

	return row.toRecord()
}

func (row transitionRow) toRecord() (*audit.PhaseTransition, error) {
	from, err := phase.Parse(row.FromPhase)
	if err != nil {
		return nil, fmt.Errorf("transition %s: %w", row.TransitionID, err)
	}
	to, err := phase.Parse(row.ToPhase)
	if err != nil {
		return nil, fmt.Errorf("transition %s: %w", row.TransitionID, err)
	}

	snapshot := map[string]any{}
	if len(row.MetricsSnapshot) > 0 {
		if err := json.Unmarshal(row.MetricsSnapshot, &snapshot); err != nil {
			return nil, fmt.Errorf("transition %s: invalid metrics snapshot: %w", row.TransitionID, err)
		}
	}

	return &audit.PhaseTransition{
		TransitionID:     row.TransitionID,
		FromPhase:        from,
		ToPhase:          to,
		Timestamp:        row.Timestamp.UTC(),
		ValidationPassed: row.ValidationPassed,
		Forced:           row.Forced,
		MetricsSnapshot:  snapshot,
	}, nil
}
