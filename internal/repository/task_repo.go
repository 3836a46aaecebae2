package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/pkg/metrics"
)

const taskColumns = `
    id, profile_id, title, sort_order, task_type, is_required, is_active,
    activation_date, recurrence, metric_key, metric_operator, metric_goal,
    due_date, completed_on, completed_at, archived_at,
    deleted_at, created_at, updated_at
`

func scanTask(row pgx.Row) (model.Task, error) {
	var (
		t          model.Task
		taskType   string
		recurrence []byte
		metricKey  *string
		metricOp   *string
		metricGoal *float64
	)
	if err := row.Scan(
		&t.ID,
		&t.ProfileID,
		&t.Title,
		&t.SortOrder,
		&taskType,
		&t.Required,
		&t.Active,
		&t.ActivationDate,
		&recurrence,
		&metricKey,
		&metricOp,
		&metricGoal,
		&t.DueDate,
		&t.CompletedOn,
		&t.CompletedAt,
		&t.ArchivedAt,
		&t.DeletedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return model.Task{}, err
	}

	t.Type = model.TaskType(taskType)
	t.ActivationDate = normalizeDate(t.ActivationDate)
	t.DueDate = normalizeDate(t.DueDate)
	t.CompletedOn = normalizeDate(t.CompletedOn)
	rec, err := model.UnmarshalRecurrence(recurrence)
	if err != nil {
		return model.Task{}, fmt.Errorf("task %d: %w", t.ID, err)
	}
	t.Recurrence = rec

	// Gates are loaded as stored, without validation; the auto-check engine
	// reports malformed ones per task.
	if metricKey != nil {
		gate := model.MetricGate{MetricKey: *metricKey}
		if metricOp != nil {
			gate.Operator = model.GateOperator(*metricOp)
		}
		if metricGoal != nil {
			gate.GoalValue = *metricGoal
		}
		t.MetricGate = &gate
	}
	return t, nil
}

// normalizeDate maps a scanned DATE column onto the engine's date form.
func normalizeDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := model.DateOf(*t)
	return &d
}

// taskArgs flattens the mutable columns in insert/update order.
func taskArgs(t *model.Task) ([]any, error) {
	var recurrence []byte
	if t.Recurrence != nil {
		b, err := model.MarshalRecurrence(t.Recurrence)
		if err != nil {
			return nil, err
		}
		recurrence = b
	}
	var (
		metricKey  *string
		metricOp   *string
		metricGoal *float64
	)
	if g := t.MetricGate; g != nil {
		key, op, goal := g.MetricKey, string(g.Operator), g.GoalValue
		metricKey, metricOp, metricGoal = &key, &op, &goal
	}
	return []any{
		t.ProfileID,
		t.Title,
		t.SortOrder,
		string(t.Type),
		t.Required,
		t.Active,
		t.ActivationDate,
		recurrence,
		metricKey,
		metricOp,
		metricGoal,
		t.DueDate,
		t.CompletedOn,
		t.CompletedAt,
		t.ArchivedAt,
		t.DeletedAt,
	}, nil
}

func (s *PGStore) ListTasks(ctx context.Context, profileID int64) ([]model.Task, error) {
	s.logger.Debug("Listing tasks for profile", zap.Int64("profile_id", profileID))
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "tasks", time.Since(start)) }()

	query := `SELECT ` + taskColumns + `
        FROM tasks
        WHERE profile_id = $1 AND deleted_at IS NULL
        ORDER BY sort_order, id
    `
	rows, err := s.db.Query(ctx, query, profileID)
	if err != nil {
		s.logger.Error("Failed to list tasks", zap.Int64("profile_id", profileID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			s.logger.Error("Failed to scan task", zap.Error(err))
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug("Listed tasks",
		zap.Int64("profile_id", profileID),
		zap.Int("count", len(tasks)),
	)
	return tasks, nil
}

func (s *PGStore) GetTask(ctx context.Context, profileID, taskID int64) (model.Task, error) {
	query := `SELECT ` + taskColumns + `
        FROM tasks
        WHERE id = $1 AND profile_id = $2 AND deleted_at IS NULL
    `
	t, err := scanTask(s.db.QueryRow(ctx, query, taskID, profileID))
	if err == pgx.ErrNoRows {
		return model.Task{}, model.ErrTaskNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get task", zap.Int64("task_id", taskID), zap.Error(err))
		return model.Task{}, err
	}
	return t, nil
}

func (s *PGStore) CreateTask(ctx context.Context, t *model.Task) error {
	s.logger.Debug("Inserting task",
		zap.Int64("profile_id", t.ProfileID),
		zap.String("title", t.Title),
		zap.String("type", string(t.Type)),
	)
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("insert", "tasks", time.Since(start)) }()

	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO tasks (profile_id, title, sort_order, task_type, is_required, is_active,
                           activation_date, recurrence, metric_key, metric_operator, metric_goal,
                           due_date, completed_on, completed_at, archived_at, deleted_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
        RETURNING id, created_at, updated_at
    `
	if err := s.db.QueryRow(ctx, query, args...).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		s.logger.Error("Failed to insert task", zap.Error(err), zap.Int64("profile_id", t.ProfileID))
		return err
	}

	s.logger.Info("Task inserted successfully",
		zap.Int64("task_id", t.ID),
		zap.Int64("profile_id", t.ProfileID),
	)
	return nil
}

func (s *PGStore) UpdateTask(ctx context.Context, t *model.Task) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("update", "tasks", time.Since(start)) }()

	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	query := `
        UPDATE tasks
        SET title = $2, sort_order = $3, task_type = $4, is_required = $5, is_active = $6,
            activation_date = $7, recurrence = $8, metric_key = $9, metric_operator = $10,
            metric_goal = $11, due_date = $12, completed_on = $13, completed_at = $14,
            archived_at = $15, deleted_at = $16, updated_at = NOW()
        WHERE id = $17 AND profile_id = $1
        RETURNING created_at, updated_at
    `
	args = append(args, t.ID)
	err = s.db.QueryRow(ctx, query, args...).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return model.ErrTaskNotFound
	}
	if err != nil {
		s.logger.Error("Failed to update task", zap.Int64("task_id", t.ID), zap.Error(err))
		return err
	}

	s.logger.Info("Task updated",
		zap.Int64("task_id", t.ID),
		zap.Bool("active", t.Active),
		zap.Bool("required", t.Required),
	)
	return nil
}

func (s *PGStore) ListCompletedOneOffs(ctx context.Context, before time.Time) ([]model.Task, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "tasks", time.Since(start)) }()

	query := `SELECT ` + taskColumns + `
        FROM tasks
        WHERE task_type = 'one_off' AND completed_on < $1
          AND archived_at IS NULL AND deleted_at IS NULL
        ORDER BY id
    `
	rows, err := s.db.Query(ctx, query, before)
	if err != nil {
		s.logger.Error("Failed to list completed one-off tasks", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
