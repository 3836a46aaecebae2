package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/pkg/metrics"
)

func (s *PGStore) GetCheck(ctx context.Context, profileID, taskID int64, date time.Time) (model.CheckRecord, bool, error) {
	query := `
        SELECT profile_id, task_id, date, checked, checked_at, source, updated_at
        FROM task_checks
        WHERE profile_id = $1 AND task_id = $2 AND date = $3
    `
	var (
		rec    model.CheckRecord
		source string
	)
	err := s.db.QueryRow(ctx, query, profileID, taskID, date).Scan(
		&rec.ProfileID,
		&rec.TaskID,
		&rec.Date,
		&rec.Checked,
		&rec.CheckedAt,
		&source,
		&rec.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.CheckRecord{}, false, nil
	}
	if err != nil {
		s.logger.Error("Failed to get check",
			zap.Int64("task_id", taskID),
			zap.String("date", model.FormatDate(date)),
			zap.Error(err),
		)
		return model.CheckRecord{}, false, err
	}
	rec.Date = model.DateOf(rec.Date)
	rec.Source = model.CheckSource(source)
	return rec, true, nil
}

func (s *PGStore) ListChecks(ctx context.Context, profileID int64, from, to time.Time) ([]model.CheckRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "task_checks", time.Since(start)) }()

	query := `
        SELECT profile_id, task_id, date, checked, checked_at, source, updated_at
        FROM task_checks
        WHERE profile_id = $1 AND date BETWEEN $2 AND $3
        ORDER BY date, task_id
    `
	rows, err := s.db.Query(ctx, query, profileID, from, to)
	if err != nil {
		s.logger.Error("Failed to list checks", zap.Int64("profile_id", profileID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var out []model.CheckRecord
	for rows.Next() {
		var (
			rec    model.CheckRecord
			source string
		)
		if err := rows.Scan(
			&rec.ProfileID,
			&rec.TaskID,
			&rec.Date,
			&rec.Checked,
			&rec.CheckedAt,
			&source,
			&rec.UpdatedAt,
		); err != nil {
			s.logger.Error("Failed to scan check", zap.Error(err))
			return nil, err
		}
		rec.Date = model.DateOf(rec.Date)
		rec.Source = model.CheckSource(source)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) UpsertCheck(ctx context.Context, rec model.CheckRecord) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("upsert", "task_checks", time.Since(start)) }()

	query := `
        INSERT INTO task_checks (profile_id, task_id, date, checked, checked_at, source, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (task_id, date) DO UPDATE
        SET checked = EXCLUDED.checked,
            checked_at = EXCLUDED.checked_at,
            source = EXCLUDED.source,
            updated_at = EXCLUDED.updated_at
    `
	_, err := s.db.Exec(ctx, query,
		rec.ProfileID,
		rec.TaskID,
		rec.Date,
		rec.Checked,
		rec.CheckedAt,
		string(rec.Source),
		rec.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to upsert check",
			zap.Int64("task_id", rec.TaskID),
			zap.String("date", model.FormatDate(rec.Date)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *PGStore) LastCheckedBefore(ctx context.Context, profileID, taskID int64, before time.Time) (time.Time, bool, error) {
	query := `
        SELECT MAX(date)
        FROM task_checks
        WHERE profile_id = $1 AND task_id = $2 AND checked = TRUE AND date < $3
    `
	var last *time.Time
	if err := s.db.QueryRow(ctx, query, profileID, taskID, before).Scan(&last); err != nil {
		return time.Time{}, false, err
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return model.DateOf(*last), true, nil
}
