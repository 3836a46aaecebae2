package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"habitstreak/internal/model"
	"habitstreak/internal/recurrence"
)

// ScheduledOccurrence is the next pending due date of a scheduled task.
type ScheduledOccurrence struct {
	Task        model.Task `json:"task"`
	NextDue     time.Time  `json:"-"`
	DaysUntil   int        `json:"days_until"`
	DaysOverdue int        `json:"days_overdue"`
}

func (o ScheduledOccurrence) MarshalJSON() ([]byte, error) {
	type alias ScheduledOccurrence
	return json.Marshal(struct {
		alias
		NextDue string `json:"next_due"`
	}{alias: alias(o), NextDue: model.FormatDate(o.NextDue)})
}

// Overdue reports whether the pending occurrence lies before today.
func (o ScheduledOccurrence) Overdue() bool {
	return o.DaysOverdue > 0
}

// Scheduler answers "what is coming up" questions for scheduled tasks.
type Scheduler struct {
	eval *Evaluator
}

func NewScheduler(eval *Evaluator) *Scheduler {
	return &Scheduler{eval: eval}
}

// pending returns the first due date of t not yet covered by a check. A
// check on or after a due date covers it.
func (s *Scheduler) pending(ctx context.Context, t model.Task, today time.Time) (time.Time, error) {
	last, found, err := s.eval.store.LastCheckedBefore(ctx, t.ProfileID, t.ID, model.AddDays(today, 1))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load last completion of task %d: %w", t.ID, err)
	}
	anchor := recurrence.AnchorFor(t, last)
	after := model.AddDays(anchor.Activation, -1)
	if anchor.Activation.IsZero() {
		after = model.AddDays(recurrence.Epoch, -1)
	}
	if found {
		after = last
	}
	return recurrence.NextDue(t.Recurrence, anchor, after), nil
}

// Occurrences lists the pending occurrence of every active scheduled task
// that is overdue or due within days from today, soonest first.
func (s *Scheduler) Occurrences(ctx context.Context, profileID int64, days int) ([]ScheduledOccurrence, error) {
	tasks, err := s.eval.store.ListTasks(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	today := s.eval.Today()
	horizon := model.AddDays(today, days)

	out := []ScheduledOccurrence{}
	for _, t := range tasks {
		if t.Type != model.TaskTypeScheduled || !t.Active {
			continue
		}
		next, err := s.pending(ctx, t, today)
		if err != nil {
			return nil, err
		}
		if next.IsZero() || next.After(horizon) {
			continue
		}
		occ := ScheduledOccurrence{Task: t, NextDue: next}
		if diff := model.DaysBetween(today, next); diff >= 0 {
			occ.DaysUntil = diff
		} else {
			occ.DaysOverdue = -diff
		}
		out = append(out, occ)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].NextDue.Equal(out[j].NextDue) {
			return out[i].NextDue.Before(out[j].NextDue)
		}
		return out[i].Task.SortOrder < out[j].Task.SortOrder
	})
	return out, nil
}

// Upcoming lists occurrences due today through today+days.
func (s *Scheduler) Upcoming(ctx context.Context, profileID int64, days int) ([]ScheduledOccurrence, error) {
	all, err := s.Occurrences(ctx, profileID, days)
	if err != nil {
		return nil, err
	}
	out := []ScheduledOccurrence{}
	for _, o := range all {
		if !o.Overdue() {
			out = append(out, o)
		}
	}
	return out, nil
}

// Overdue lists occurrences whose due date passed without a check.
func (s *Scheduler) Overdue(ctx context.Context, profileID int64) ([]ScheduledOccurrence, error) {
	all, err := s.Occurrences(ctx, profileID, 0)
	if err != nil {
		return nil, err
	}
	out := []ScheduledOccurrence{}
	for _, o := range all {
		if o.Overdue() {
			out = append(out, o)
		}
	}
	return out, nil
}
