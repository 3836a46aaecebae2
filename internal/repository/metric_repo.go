package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/pkg/metrics"
)

// UpsertMetricValues stores the readings of one snapshot in a single batch.
func (s *PGStore) UpsertMetricValues(ctx context.Context, values []model.MetricValue) error {
	if len(values) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("upsert", "metric_values", time.Since(start)) }()

	query := `
        INSERT INTO metric_values (profile_id, date, metric_key, value, unit, synced_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (profile_id, date, metric_key) DO UPDATE
        SET value = EXCLUDED.value,
            unit = EXCLUDED.unit,
            synced_at = EXCLUDED.synced_at
    `
	batch := &pgx.Batch{}
	for _, v := range values {
		batch.Queue(query, v.ProfileID, v.Date, v.MetricKey, v.Value, v.Unit, v.SyncedAt)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		s.logger.Error("Failed to upsert metric values",
			zap.Int64("profile_id", values[0].ProfileID),
			zap.Int("count", len(values)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *PGStore) ListMetricValues(ctx context.Context, profileID int64, date time.Time) ([]model.MetricValue, error) {
	query := `
        SELECT profile_id, date, metric_key, value, unit, synced_at
        FROM metric_values
        WHERE profile_id = $1 AND date = $2
        ORDER BY metric_key
    `
	rows, err := s.db.Query(ctx, query, profileID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MetricValue
	for rows.Next() {
		var v model.MetricValue
		if err := rows.Scan(&v.ProfileID, &v.Date, &v.MetricKey, &v.Value, &v.Unit, &v.SyncedAt); err != nil {
			return nil, err
		}
		v.Date = model.DateOf(v.Date)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PGStore) ListMetricProfiles(ctx context.Context, from, to time.Time) ([]int64, error) {
	query := `
        SELECT DISTINCT profile_id
        FROM metric_values
        WHERE date BETWEEN $1 AND $2
        ORDER BY profile_id
    `
	rows, err := s.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
