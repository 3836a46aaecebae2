package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"habitstreak/contracts/mq"
	"habitstreak/internal/model"
	"habitstreak/internal/repository"
	"habitstreak/pkg/lock"
	"habitstreak/pkg/logger"
	"habitstreak/pkg/metrics"
	"habitstreak/pkg/otel"
	"habitstreak/pkg/trace"
)

// MetricProgress shows a gated task's latest reading against its goal.
type MetricProgress struct {
	MetricKey string             `json:"metric_key"`
	Operator  model.GateOperator `json:"operator"`
	Goal      float64            `json:"goal_value"`
	Value     *float64           `json:"value"`
	Met       bool               `json:"met"`
}

// TaskView is one row of the day view.
type TaskView struct {
	Task      model.Task        `json:"task"`
	InScope   bool              `json:"in_scope"`
	Required  bool              `json:"required"`
	Checked   bool              `json:"checked"`
	Source    model.CheckSource `json:"source,omitempty"`
	CheckedAt *time.Time        `json:"checked_at,omitempty"`
	Progress  *MetricProgress   `json:"metric_progress,omitempty"`
}

// Evaluation is the state of one profile's day.
type Evaluation struct {
	ProfileID       int64      `json:"profile_id"`
	Date            time.Time  `json:"-"`
	Tasks           []TaskView `json:"tasks"`
	InScope         []int64    `json:"in_scope"`
	Checked         []int64    `json:"checked"`
	RequiredInScope []int64    `json:"required_in_scope"`
	Complete        bool       `json:"complete"`
}

func (e Evaluation) MarshalJSON() ([]byte, error) {
	type alias Evaluation
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias: alias(e), Date: model.FormatDate(e.Date)})
}

// ToggleResult is what a check write left behind.
type ToggleResult struct {
	Check model.CheckRecord   `json:"check"`
	Day   model.DayCompletion `json:"day"`
	// Flipped is true when the write changed the day's complete flag.
	Flipped bool `json:"flipped"`
}

type EvaluatorConfig struct {
	// EmptyDayComplete is the completion value of a day with no required
	// in-scope tasks.
	EmptyDayComplete bool
}

// Evaluator computes day completion and owns the only write path for checks
// and DayCompletion rows.
type Evaluator struct {
	store     repository.Store
	locker    lock.Locker
	publisher EventPublisher
	clock     Clock
	cfg       EvaluatorConfig
	logger    *zap.Logger
}

func NewEvaluator(
	store repository.Store,
	locker lock.Locker,
	publisher EventPublisher,
	clock Clock,
	cfg EvaluatorConfig,
	logger *zap.Logger,
) *Evaluator {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Evaluator{
		store:     store,
		locker:    locker,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Today returns the current date per the evaluator's clock.
func (e *Evaluator) Today() time.Time {
	return Today(e.clock)
}

// Evaluate computes the day view and complete flag for date without writing.
func (e *Evaluator) Evaluate(ctx context.Context, profileID int64, date time.Time) (Evaluation, error) {
	ctx, span := otel.StartSpan(ctx, "evaluator.Evaluate", attribute.Int64("profile_id", profileID))
	ev, err := e.evaluate(ctx, profileID, model.DateOf(date), true)
	otel.EndSpan(span, err)
	return ev, err
}

func (e *Evaluator) evaluate(ctx context.Context, profileID int64, date time.Time, withProgress bool) (Evaluation, error) {
	tasks, err := e.store.ListTasks(ctx, profileID)
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to load tasks: %w", err)
	}
	checks, err := e.store.ListChecks(ctx, profileID, date, date)
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to load checks: %w", err)
	}
	byTask := make(map[int64]model.CheckRecord, len(checks))
	for _, c := range checks {
		byTask[c.TaskID] = c
	}

	var snapshot model.MetricSnapshot
	if withProgress {
		values, err := e.store.ListMetricValues(ctx, profileID, date)
		if err != nil {
			return Evaluation{}, fmt.Errorf("failed to load metric values: %w", err)
		}
		snapshot = model.SnapshotOf(values)
	}

	ev := Evaluation{
		ProfileID:       profileID,
		Date:            date,
		Tasks:           []TaskView{},
		InScope:         []int64{},
		Checked:         []int64{},
		RequiredInScope: []int64{},
	}
	checked := make(map[int64]bool)

	for _, t := range tasks {
		var last time.Time
		if needsLastCompleted(t) {
			if last, _, err = e.store.LastCheckedBefore(ctx, profileID, t.ID, date); err != nil {
				return Evaluation{}, fmt.Errorf("failed to load last completion of task %d: %w", t.ID, err)
			}
		}
		sc := classify(t, date, last)
		if !sc.Listed {
			continue
		}

		view := TaskView{Task: t, InScope: sc.InScope, Required: sc.Required}
		if c, ok := byTask[t.ID]; ok && c.Checked {
			view.Checked = true
			view.Source = c.Source
			view.CheckedAt = c.CheckedAt
			checked[t.ID] = true
			ev.Checked = append(ev.Checked, t.ID)
		}
		if withProgress && t.MetricGate != nil {
			view.Progress = progressOf(*t.MetricGate, snapshot)
		}
		if sc.InScope {
			ev.InScope = append(ev.InScope, t.ID)
		}
		if sc.Required {
			ev.RequiredInScope = append(ev.RequiredInScope, t.ID)
		}
		ev.Tasks = append(ev.Tasks, view)
	}

	ev.Complete = dayComplete(ev.RequiredInScope, checked, e.cfg.EmptyDayComplete)
	return ev, nil
}

func progressOf(g model.MetricGate, snapshot model.MetricSnapshot) *MetricProgress {
	p := &MetricProgress{MetricKey: g.MetricKey, Operator: g.Operator, Goal: g.GoalValue}
	if v, ok := snapshot[g.MetricKey]; ok {
		p.Value = &v
		p.Met, _ = g.Met(v)
	}
	return p
}

// ToggleCheck sets the check state of a task on date and recomputes that
// date's DayCompletion. The caller retries on model.ErrConcurrentModification.
func (e *Evaluator) ToggleCheck(
	ctx context.Context,
	profileID int64,
	date time.Time,
	taskID int64,
	checked bool,
	source model.CheckSource,
) (res ToggleResult, err error) {
	ctx, span := otel.StartSpan(ctx, "evaluator.ToggleCheck",
		attribute.Int64("profile_id", profileID),
		attribute.Int64("task_id", taskID),
		attribute.Bool("checked", checked),
	)
	defer func() { otel.EndSpan(span, err) }()

	date = model.DateOf(date)
	if !source.Valid() {
		return ToggleResult{}, fmt.Errorf("unknown check source %q", source)
	}
	t, err := e.store.GetTask(ctx, profileID, taskID)
	if err != nil {
		return ToggleResult{}, err
	}
	if err := e.checkDateAllowed(t, date); err != nil {
		return ToggleResult{}, err
	}

	release, err := e.locker.Acquire(ctx, dayLockKey(profileID, date))
	if err != nil {
		return ToggleResult{}, err
	}
	defer release()

	rec, _, err := e.writeCheckLocked(ctx, t, date, checked, source)
	if err != nil {
		return ToggleResult{}, err
	}
	res.Check = rec

	// Recompute even when the check was already in place: an earlier attempt
	// may have written it and then failed to store the day.
	res.Day, res.Flipped, err = e.recomputeLocked(ctx, profileID, date)
	return res, err
}

// checkDateAllowed rejects dates after today and before the task's
// activation date.
func (e *Evaluator) checkDateAllowed(t model.Task, date time.Time) error {
	if today := e.Today(); date.After(today) {
		return fmt.Errorf("%w: %s is after today (%s)",
			model.ErrDateOutOfAllowedRange, model.FormatDate(date), model.FormatDate(today))
	}
	if t.ActivationDate != nil && date.Before(*t.ActivationDate) {
		return fmt.Errorf("%w: %s is before task %d activation (%s)",
			model.ErrDateOutOfAllowedRange, model.FormatDate(date), t.ID, model.FormatDate(*t.ActivationDate))
	}
	return nil
}

// writeCheckLocked upserts the check record unless it already holds the
// requested state, then brings a one-off task's completion in line with its
// checks. Callers hold the day lock.
func (e *Evaluator) writeCheckLocked(
	ctx context.Context,
	t model.Task,
	date time.Time,
	checked bool,
	source model.CheckSource,
) (model.CheckRecord, bool, error) {
	rec, wrote, err := e.putCheckLocked(ctx, t, date, checked, source)
	if err != nil {
		return model.CheckRecord{}, false, err
	}
	if t.Type == model.TaskTypeOneOff {
		if err := e.syncCompletion(ctx, t.ProfileID, t.ID, date, checked); err != nil {
			return rec, wrote, err
		}
	}
	return rec, wrote, nil
}

func (e *Evaluator) putCheckLocked(
	ctx context.Context,
	t model.Task,
	date time.Time,
	checked bool,
	source model.CheckSource,
) (model.CheckRecord, bool, error) {
	cur, ok, err := e.store.GetCheck(ctx, t.ProfileID, t.ID, date)
	if err != nil {
		return model.CheckRecord{}, false, fmt.Errorf("failed to load check: %w", err)
	}
	if ok && cur.Checked == checked && cur.Source == source {
		return cur, false, nil
	}

	now := e.clock.Now().UTC()
	rec := model.CheckRecord{
		ProfileID: t.ProfileID,
		TaskID:    t.ID,
		Date:      date,
		Checked:   checked,
		Source:    source,
		UpdatedAt: now,
	}
	if checked {
		rec.CheckedAt = &now
	}
	if err := e.store.UpsertCheck(ctx, rec); err != nil {
		return model.CheckRecord{}, false, fmt.Errorf("failed to write check: %w", err)
	}
	metrics.IncrementCheckToggle(string(source), checked)

	logger.WithTrace(ctx, e.logger).Info("Check written",
		zap.Int64("profile_id", t.ProfileID),
		zap.Int64("task_id", t.ID),
		zap.String("date", model.FormatDate(date)),
		zap.Bool("checked", checked),
		zap.String("source", string(source)),
	)
	return rec, true, nil
}

// syncCompletion makes the latest checked date of a one-off task its
// completion date. It runs on every write, so a retry repairs a task row
// that a failed attempt left behind.
func (e *Evaluator) syncCompletion(ctx context.Context, profileID, taskID int64, date time.Time, checked bool) error {
	release, err := e.locker.Acquire(ctx, taskLockKey(profileID, taskID))
	if err != nil {
		return err
	}
	defer release()

	t, err := e.store.GetTask(ctx, profileID, taskID)
	if err != nil {
		return err
	}

	var (
		on *time.Time
		at *time.Time
	)
	switch {
	case checked:
		if t.CompletedOn != nil && !date.After(*t.CompletedOn) {
			return nil
		}
		now := e.clock.Now().UTC()
		on, at = &date, &now
	case t.CompletedOn != nil && date.Equal(*t.CompletedOn):
		// 取消完成日的勾选：回退到更早的勾选日
		last, found, err := e.store.LastCheckedBefore(ctx, profileID, taskID, date)
		if err != nil {
			return fmt.Errorf("failed to load last check: %w", err)
		}
		if found {
			rec, _, err := e.store.GetCheck(ctx, profileID, taskID, last)
			if err != nil {
				return fmt.Errorf("failed to load check: %w", err)
			}
			on, at = &last, rec.CheckedAt
		}
	default:
		return nil
	}

	t.CompletedOn, t.CompletedAt, t.ArchivedAt = on, at, nil
	if err := e.store.UpdateTask(ctx, &t); err != nil {
		return fmt.Errorf("failed to update completion of task %d: %w", taskID, err)
	}

	completedOn := ""
	if on != nil {
		completedOn = model.FormatDate(*on)
	}
	logger.WithTrace(ctx, e.logger).Info("One-off completion updated",
		zap.Int64("profile_id", profileID),
		zap.Int64("task_id", taskID),
		zap.String("completed_on", completedOn),
	)
	return nil
}

// Recompute re-evaluates date and stores its DayCompletion if it changed.
func (e *Evaluator) Recompute(ctx context.Context, profileID int64, date time.Time) (model.DayCompletion, error) {
	date = model.DateOf(date)
	release, err := e.locker.Acquire(ctx, dayLockKey(profileID, date))
	if err != nil {
		return model.DayCompletion{}, err
	}
	defer release()

	dc, _, err := e.recomputeLocked(ctx, profileID, date)
	return dc, err
}

// recomputeLocked writes DayCompletion(date) with an optimistic version
// check. An unchanged flag is not rewritten.
func (e *Evaluator) recomputeLocked(ctx context.Context, profileID int64, date time.Time) (model.DayCompletion, bool, error) {
	ev, err := e.evaluate(ctx, profileID, date, false)
	if err != nil {
		return model.DayCompletion{}, false, err
	}

	prev, ok, err := e.store.GetDayCompletion(ctx, profileID, date)
	if err != nil {
		return model.DayCompletion{}, false, fmt.Errorf("failed to load day completion: %w", err)
	}
	if ok && prev.Complete == ev.Complete {
		return prev, false, nil
	}

	stored, err := e.store.UpsertDayCompletion(ctx, model.DayCompletion{
		ProfileID:  profileID,
		Date:       date,
		Complete:   ev.Complete,
		ComputedAt: e.clock.Now().UTC(),
	}, prev.Version)
	if err != nil {
		if errors.Is(err, model.ErrConcurrentModification) {
			metrics.IncrementDayCompletionConflict()
		}
		return model.DayCompletion{}, false, fmt.Errorf("failed to store day completion for %s: %w", model.FormatDate(date), err)
	}

	flipped := prev.Complete != stored.Complete
	if flipped {
		metrics.IncrementDayCompletionFlip(stored.Complete)
		e.publishFlip(ctx, stored)
	}
	return stored, flipped, nil
}

func (e *Evaluator) publishFlip(ctx context.Context, dc model.DayCompletion) {
	payload := mq.DayCompletionChangedPayload{
		ProfileID: dc.ProfileID,
		Date:      model.FormatDate(dc.Date),
		Complete:  dc.Complete,
		Version:   dc.Version,
		TraceID:   trace.FromContext(ctx),
	}
	if err := e.publisher.Publish(ctx, mq.RoutingKeyDayCompletionChanged, payload); err != nil {
		logger.WithTrace(ctx, e.logger).Warn("Failed to publish day completion change",
			zap.Int64("profile_id", dc.ProfileID),
			zap.String("date", payload.Date),
			zap.Error(err),
		)
	}
}
