package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/pkg/logger"
	"habitstreak/pkg/metrics"
)

type PunchListConfig struct {
	// ArchiveAfterDays is how long a completed item stays on the list.
	ArchiveAfterDays int
	ArchiveInterval  time.Duration
}

// PunchList is the lifecycle of one-off tasks: complete, uncomplete,
// archive and delete. Completion goes through the evaluator's check path, so
// the task row and its checks never disagree.
type PunchList struct {
	eval     *Evaluator
	registry *Registry
	cfg      PunchListConfig
	logger   *zap.Logger
}

func NewPunchList(eval *Evaluator, registry *Registry, cfg PunchListConfig, logger *zap.Logger) *PunchList {
	return &PunchList{eval: eval, registry: registry, cfg: cfg, logger: logger}
}

// List returns the profile's active one-off tasks: dated items first by due
// date, then undated ones, each group oldest first. Archived items are
// skipped unless includeArchived is set.
func (p *PunchList) List(ctx context.Context, profileID int64, includeArchived bool) ([]model.Task, error) {
	tasks, err := p.eval.store.ListTasks(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	out := make([]model.Task, 0)
	for _, t := range tasks {
		if t.Type != model.TaskTypeOneOff || !t.Active {
			continue
		}
		if t.Archived() && !includeArchived {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.DueDate == nil) != (b.DueDate == nil) {
			return b.DueDate == nil
		}
		if a.DueDate != nil && !a.DueDate.Equal(*b.DueDate) {
			return a.DueDate.Before(*b.DueDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// Complete checks the item today and returns the updated task.
func (p *PunchList) Complete(ctx context.Context, profileID, taskID int64) (model.Task, error) {
	if _, err := p.get(ctx, profileID, taskID); err != nil {
		return model.Task{}, err
	}
	if _, err := p.eval.ToggleCheck(ctx, profileID, p.eval.Today(), taskID, true, model.SourceManual); err != nil {
		return model.Task{}, err
	}
	return p.get(ctx, profileID, taskID)
}

// Uncomplete unchecks the item until no checked day is left, which also
// brings an archived item back onto the list.
func (p *PunchList) Uncomplete(ctx context.Context, profileID, taskID int64) (model.Task, error) {
	t, err := p.get(ctx, profileID, taskID)
	if err != nil {
		return model.Task{}, err
	}
	for t.Completed() {
		// 每次回退到更早的勾选日，最终清空
		if _, err := p.eval.ToggleCheck(ctx, profileID, *t.CompletedOn, taskID, false, model.SourceManual); err != nil {
			return model.Task{}, err
		}
		if t, err = p.get(ctx, profileID, taskID); err != nil {
			return model.Task{}, err
		}
	}
	if t.Archived() {
		return p.unarchive(ctx, profileID, taskID)
	}
	return t, nil
}

// Delete soft-deletes a punch-list item. Other task types are not found here.
func (p *PunchList) Delete(ctx context.Context, profileID, taskID int64) error {
	if _, err := p.get(ctx, profileID, taskID); err != nil {
		return err
	}
	return p.registry.Delete(ctx, profileID, taskID)
}

func (p *PunchList) get(ctx context.Context, profileID, taskID int64) (model.Task, error) {
	t, err := p.eval.store.GetTask(ctx, profileID, taskID)
	if err != nil {
		return model.Task{}, err
	}
	if t.Type != model.TaskTypeOneOff {
		return model.Task{}, fmt.Errorf("%w: task %d is not a punch list item", model.ErrTaskNotFound, taskID)
	}
	return t, nil
}

func (p *PunchList) unarchive(ctx context.Context, profileID, taskID int64) (model.Task, error) {
	release, err := p.eval.locker.Acquire(ctx, taskLockKey(profileID, taskID))
	if err != nil {
		return model.Task{}, err
	}
	defer release()

	t, err := p.get(ctx, profileID, taskID)
	if err != nil {
		return model.Task{}, err
	}
	t.ArchivedAt = nil
	if err := p.eval.store.UpdateTask(ctx, &t); err != nil {
		return model.Task{}, fmt.Errorf("failed to unarchive task %d: %w", taskID, err)
	}
	return t, nil
}

// Run archives old completed items every ArchiveInterval until ctx is done.
func (p *PunchList) Run(ctx context.Context) {
	p.logger.Info("Punch list archiver started",
		zap.Duration("interval", p.cfg.ArchiveInterval),
		zap.Int("archive_after_days", p.cfg.ArchiveAfterDays),
	)

	ticker := time.NewTicker(p.cfg.ArchiveInterval)
	defer ticker.Stop()

	for {
		if _, err := p.ArchiveCompleted(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("Punch list archive pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("Punch list archiver stopped")
			return
		case <-ticker.C:
		}
	}
}

// ArchiveCompleted archives, across all profiles, items completed more than
// ArchiveAfterDays days before today. It returns how many were archived; a
// failed item does not stop the pass.
func (p *PunchList) ArchiveCompleted(ctx context.Context) (int, error) {
	cutoff := model.AddDays(p.eval.Today(), -p.cfg.ArchiveAfterDays)
	tasks, err := p.eval.store.ListCompletedOneOffs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list completed one-off tasks: %w", err)
	}

	log := logger.WithTrace(ctx, p.logger)
	var (
		archived int
		errs     []error
	)
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := p.archive(ctx, t.ProfileID, t.ID, cutoff)
		if err != nil {
			log.Error("Failed to archive task",
				zap.Int64("profile_id", t.ProfileID),
				zap.Int64("task_id", t.ID),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		if ok {
			archived++
		}
	}
	metrics.AddPunchListArchived(archived)

	if archived > 0 {
		log.Info("Archived completed punch list items",
			zap.Int("archived", archived),
			zap.String("cutoff", model.FormatDate(cutoff)),
		)
	}
	return archived, errors.Join(errs...)
}

// archive re-reads the task under its lock; an item uncompleted or
// re-completed since it was listed is left alone.
func (p *PunchList) archive(ctx context.Context, profileID, taskID int64, cutoff time.Time) (bool, error) {
	release, err := p.eval.locker.Acquire(ctx, taskLockKey(profileID, taskID))
	if err != nil {
		return false, err
	}
	defer release()

	t, err := p.get(ctx, profileID, taskID)
	if errors.Is(err, model.ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if t.Archived() || !t.Completed() || !t.CompletedOn.Before(cutoff) {
		return false, nil
	}

	now := p.eval.clock.Now().UTC()
	t.ArchivedAt = &now
	if err := p.eval.store.UpdateTask(ctx, &t); err != nil {
		return false, fmt.Errorf("failed to archive task %d: %w", taskID, err)
	}
	return true, nil
}
