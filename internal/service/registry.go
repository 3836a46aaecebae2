package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/pkg/logger"
)

// CreateTaskInput describes a new task. Required defaults to true and
// ActivationDate to today.
type CreateTaskInput struct {
	Title          string
	SortOrder      int
	Type           model.TaskType
	Required       *bool
	ActivationDate *time.Time
	Recurrence     model.Recurrence
	MetricGate     *model.MetricGate
	DueDate        *time.Time
}

// UpdateTaskInput is a partial update; nil fields are left unchanged. The
// Set* flags allow clearing recurrence and gate.
type UpdateTaskInput struct {
	Title          *string
	SortOrder      *int
	Type           *model.TaskType
	Required       *bool
	Active         *bool
	ActivationDate *time.Time
	SetRecurrence  bool
	Recurrence     model.Recurrence
	SetMetricGate  bool
	MetricGate     *model.MetricGate
	SetDueDate     bool
	DueDate        *time.Time
}

// Registry manages task definitions. Every mutation recomputes today's
// DayCompletion only. Cached rows of past days keep the value they had, so
// after a task is added or deactivated, Evaluate on a past day can disagree
// with its stored row, which is what streaks and history read. The row is
// brought in line the next time a check on that day is written or Recompute
// runs for it.
type Registry struct {
	eval   *Evaluator
	logger *zap.Logger
}

func NewRegistry(eval *Evaluator, logger *zap.Logger) *Registry {
	return &Registry{eval: eval, logger: logger}
}

func (r *Registry) List(ctx context.Context, profileID int64) ([]model.Task, error) {
	return r.eval.store.ListTasks(ctx, profileID)
}

func (r *Registry) Get(ctx context.Context, profileID, taskID int64) (model.Task, error) {
	return r.eval.store.GetTask(ctx, profileID, taskID)
}

func (r *Registry) Create(ctx context.Context, profileID int64, in CreateTaskInput) (model.Task, error) {
	t := model.Task{
		ProfileID:  profileID,
		Title:      in.Title,
		SortOrder:  in.SortOrder,
		Type:       in.Type,
		Required:   true,
		Active:     true,
		Recurrence: in.Recurrence,
		MetricGate: normalizeGate(in.MetricGate),
	}
	if t.Type == "" {
		t.Type = model.TaskTypeDaily
	}
	if in.Required != nil {
		t.Required = *in.Required
	}
	activation := r.eval.Today()
	if in.ActivationDate != nil {
		activation = model.DateOf(*in.ActivationDate)
	}
	t.ActivationDate = &activation
	if in.DueDate != nil {
		due := model.DateOf(*in.DueDate)
		t.DueDate = &due
	}

	if err := t.Validate(); err != nil {
		return model.Task{}, err
	}
	if err := r.eval.store.CreateTask(ctx, &t); err != nil {
		return model.Task{}, fmt.Errorf("failed to create task: %w", err)
	}

	logger.WithTrace(ctx, r.logger).Info("Task created",
		zap.Int64("profile_id", profileID),
		zap.Int64("task_id", t.ID),
		zap.String("type", string(t.Type)),
	)
	return t, r.recomputeToday(ctx, profileID)
}

func (r *Registry) Update(ctx context.Context, profileID, taskID int64, in UpdateTaskInput) (model.Task, error) {
	t, err := r.update(ctx, profileID, taskID, in)
	if err != nil {
		return model.Task{}, err
	}
	return t, r.recomputeToday(ctx, profileID)
}

func (r *Registry) update(ctx context.Context, profileID, taskID int64, in UpdateTaskInput) (model.Task, error) {
	release, err := r.eval.locker.Acquire(ctx, taskLockKey(profileID, taskID))
	if err != nil {
		return model.Task{}, err
	}
	defer release()

	t, err := r.eval.store.GetTask(ctx, profileID, taskID)
	if err != nil {
		return model.Task{}, err
	}

	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.SortOrder != nil {
		t.SortOrder = *in.SortOrder
	}
	if in.Type != nil {
		t.Type = *in.Type
		if t.Type != model.TaskTypeScheduled && !in.SetRecurrence {
			t.Recurrence = nil
		}
		if t.Type != model.TaskTypeOneOff {
			t.CompletedOn, t.CompletedAt, t.ArchivedAt = nil, nil, nil
			if !in.SetDueDate {
				t.DueDate = nil
			}
		}
	}
	if in.Required != nil {
		t.Required = *in.Required
	}
	if in.Active != nil {
		t.Active = *in.Active
	}
	if in.ActivationDate != nil {
		d := model.DateOf(*in.ActivationDate)
		t.ActivationDate = &d
	}
	if in.SetRecurrence {
		t.Recurrence = in.Recurrence
	}
	if in.SetMetricGate {
		t.MetricGate = normalizeGate(in.MetricGate)
	}
	if in.SetDueDate {
		t.DueDate = nil
		if in.DueDate != nil {
			due := model.DateOf(*in.DueDate)
			t.DueDate = &due
		}
	}

	if err := t.Validate(); err != nil {
		return model.Task{}, err
	}
	if err := r.eval.store.UpdateTask(ctx, &t); err != nil {
		return model.Task{}, fmt.Errorf("failed to update task %d: %w", taskID, err)
	}
	return t, nil
}

// Delete soft-deletes the task. Its checks stay in the ledger.
func (r *Registry) Delete(ctx context.Context, profileID, taskID int64) error {
	if err := r.markDeleted(ctx, profileID, taskID); err != nil {
		return err
	}

	logger.WithTrace(ctx, r.logger).Info("Task deleted",
		zap.Int64("profile_id", profileID),
		zap.Int64("task_id", taskID),
	)
	return r.recomputeToday(ctx, profileID)
}

func (r *Registry) markDeleted(ctx context.Context, profileID, taskID int64) error {
	release, err := r.eval.locker.Acquire(ctx, taskLockKey(profileID, taskID))
	if err != nil {
		return err
	}
	defer release()

	t, err := r.eval.store.GetTask(ctx, profileID, taskID)
	if err != nil {
		return err
	}
	now := r.eval.clock.Now().UTC()
	t.DeletedAt = &now
	if err := r.eval.store.UpdateTask(ctx, &t); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", taskID, err)
	}
	return nil
}

func (r *Registry) recomputeToday(ctx context.Context, profileID int64) error {
	if _, err := r.eval.Recompute(ctx, profileID, r.eval.Today()); err != nil {
		return fmt.Errorf("failed to recompute today: %w", err)
	}
	return nil
}

// normalizeGate rewrites operator aliases (gte, lte, eq) to symbols. Invalid
// operators are kept so Validate reports them.
func normalizeGate(g *model.MetricGate) *model.MetricGate {
	if g == nil {
		return nil
	}
	out := *g
	if op, err := model.ParseGateOperator(string(g.Operator)); err == nil {
		out.Operator = op
	}
	return &out
}

type seedTask struct {
	title string
	gate  *model.MetricGate
}

var defaultTasks = []seedTask{
	{title: "Walk 10,000 steps", gate: &model.MetricGate{MetricKey: "steps", Operator: model.OpGTE, GoalValue: 10000}},
	{title: "Sleep 7+ hours", gate: &model.MetricGate{MetricKey: "sleep_minutes", Operator: model.OpGTE, GoalValue: 420}},
	{title: "30 minutes active", gate: &model.MetricGate{MetricKey: "active_minutes", Operator: model.OpGTE, GoalValue: 30}},
	{title: "Read 10 pages"},
	{title: "20 minutes of hobby time"},
}

// SeedDefaults creates the starter daily tasks for a profile that has none.
// It returns nil when the profile already has tasks.
func (r *Registry) SeedDefaults(ctx context.Context, profileID int64) ([]model.Task, error) {
	existing, err := r.eval.store.ListTasks(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, nil
	}

	created := make([]model.Task, 0, len(defaultTasks))
	for i, d := range defaultTasks {
		t, err := r.Create(ctx, profileID, CreateTaskInput{
			Title:      d.title,
			SortOrder:  i + 1,
			Type:       model.TaskTypeDaily,
			MetricGate: d.gate,
		})
		if err != nil {
			return created, fmt.Errorf("failed to seed %q: %w", d.title, err)
		}
		created = append(created, t)
	}
	return created, nil
}
