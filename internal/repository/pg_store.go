package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/pkg/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id              BIGSERIAL PRIMARY KEY,
    profile_id      BIGINT NOT NULL,
    title           TEXT NOT NULL,
    sort_order      INTEGER NOT NULL DEFAULT 0,
    task_type       TEXT NOT NULL,
    is_required     BOOLEAN NOT NULL DEFAULT TRUE,
    is_active       BOOLEAN NOT NULL DEFAULT TRUE,
    activation_date DATE,
    recurrence      JSONB,
    metric_key      TEXT,
    metric_operator TEXT,
    metric_goal     DOUBLE PRECISION,
    due_date        DATE,
    completed_on    DATE,
    completed_at    TIMESTAMPTZ,
    archived_at     TIMESTAMPTZ,
    deleted_at      TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE tasks ADD COLUMN IF NOT EXISTS due_date DATE;
ALTER TABLE tasks ADD COLUMN IF NOT EXISTS completed_on DATE;
ALTER TABLE tasks ADD COLUMN IF NOT EXISTS completed_at TIMESTAMPTZ;
ALTER TABLE tasks ADD COLUMN IF NOT EXISTS archived_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS ix_tasks_profile ON tasks (profile_id, sort_order);
CREATE INDEX IF NOT EXISTS ix_tasks_one_off_completed ON tasks (completed_on)
    WHERE task_type = 'one_off' AND archived_at IS NULL AND deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS task_checks (
    profile_id BIGINT NOT NULL,
    task_id    BIGINT NOT NULL REFERENCES tasks (id),
    date       DATE NOT NULL,
    checked    BOOLEAN NOT NULL,
    checked_at TIMESTAMPTZ,
    source     TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (task_id, date)
);
CREATE INDEX IF NOT EXISTS ix_task_checks_profile_date ON task_checks (profile_id, date);

CREATE TABLE IF NOT EXISTS day_completions (
    profile_id  BIGINT NOT NULL,
    date        DATE NOT NULL,
    complete    BOOLEAN NOT NULL,
    computed_at TIMESTAMPTZ NOT NULL,
    version     BIGINT NOT NULL,
    PRIMARY KEY (profile_id, date)
);

CREATE TABLE IF NOT EXISTS metric_values (
    profile_id BIGINT NOT NULL,
    date       DATE NOT NULL,
    metric_key TEXT NOT NULL,
    value      DOUBLE PRECISION NOT NULL,
    unit       TEXT NOT NULL DEFAULT '',
    synced_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (profile_id, date, metric_key)
);
`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the PostgreSQL Store.
type PGStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPGStore(db *pgxpool.Pool, logger *zap.Logger) *PGStore {
	return &PGStore{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	s.logger.Info("Ensuring database schema")
	if _, err := s.db.Exec(ctx, schema); err != nil {
		s.logger.Error("Failed to apply schema", zap.Error(err))
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ReadSnapshot runs fn inside a read-only REPEATABLE READ transaction so
// every query observes the same snapshot.
func (s *PGStore) ReadSnapshot(ctx context.Context, fn func(DayReader) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pgDayReader{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetDayCompletion(ctx context.Context, profileID int64, date time.Time) (model.DayCompletion, bool, error) {
	return pgDayReader{q: s.db}.GetDayCompletion(ctx, profileID, date)
}

func (s *PGStore) ListDayCompletions(ctx context.Context, profileID int64, from, to time.Time) ([]model.DayCompletion, error) {
	return pgDayReader{q: s.db}.ListDayCompletions(ctx, profileID, from, to)
}

func (s *PGStore) UpsertDayCompletion(ctx context.Context, dc model.DayCompletion, expectedVersion int64) (model.DayCompletion, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("upsert", "day_completions", time.Since(start)) }()

	var query string
	if expectedVersion == 0 {
		// 首次写入：行已存在说明有并发写入者
		query = `
            INSERT INTO day_completions (profile_id, date, complete, computed_at, version)
            VALUES ($1, $2, $3, $4, $5::bigint + 1)
            ON CONFLICT (profile_id, date) DO NOTHING
            RETURNING version
        `
	} else {
		query = `
            UPDATE day_completions
            SET complete = $3, computed_at = $4, version = $5::bigint + 1
            WHERE profile_id = $1 AND date = $2 AND version = $5
            RETURNING version
        `
	}

	var version int64
	err := s.db.QueryRow(ctx, query,
		dc.ProfileID,
		dc.Date,
		dc.Complete,
		dc.ComputedAt,
		expectedVersion,
	).Scan(&version)
	if err == pgx.ErrNoRows {
		s.logger.Warn("Day completion version conflict",
			zap.Int64("profile_id", dc.ProfileID),
			zap.String("date", model.FormatDate(dc.Date)),
			zap.Int64("expected_version", expectedVersion),
		)
		return model.DayCompletion{}, model.ErrConcurrentModification
	}
	if err != nil {
		s.logger.Error("Failed to upsert day completion", zap.Error(err))
		return model.DayCompletion{}, err
	}

	dc.Version = version
	return dc, nil
}

type pgDayReader struct {
	q querier
}

func (r pgDayReader) GetDayCompletion(ctx context.Context, profileID int64, date time.Time) (model.DayCompletion, bool, error) {
	query := `
        SELECT profile_id, date, complete, computed_at, version
        FROM day_completions
        WHERE profile_id = $1 AND date = $2
    `
	var dc model.DayCompletion
	err := r.q.QueryRow(ctx, query, profileID, date).Scan(
		&dc.ProfileID,
		&dc.Date,
		&dc.Complete,
		&dc.ComputedAt,
		&dc.Version,
	)
	if err == pgx.ErrNoRows {
		return model.DayCompletion{}, false, nil
	}
	if err != nil {
		return model.DayCompletion{}, false, err
	}
	dc.Date = model.DateOf(dc.Date)
	return dc, true, nil
}

func (r pgDayReader) ListDayCompletions(ctx context.Context, profileID int64, from, to time.Time) ([]model.DayCompletion, error) {
	query := `
        SELECT profile_id, date, complete, computed_at, version
        FROM day_completions
        WHERE profile_id = $1 AND date BETWEEN $2 AND $3
        ORDER BY date
    `
	rows, err := r.q.Query(ctx, query, profileID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DayCompletion
	for rows.Next() {
		var dc model.DayCompletion
		if err := rows.Scan(
			&dc.ProfileID,
			&dc.Date,
			&dc.Complete,
			&dc.ComputedAt,
			&dc.Version,
		); err != nil {
			return nil, err
		}
		dc.Date = model.DateOf(dc.Date)
		out = append(out, dc)
	}
	return out, rows.Err()
}
