// Package recurrence answers due-date questions for scheduled tasks. Every
// function here is pure: no clock, no storage.
package recurrence

import (
	"time"

	"habitstreak/internal/model"
)

// Epoch anchors schedules for tasks that were stored without an activation
// date. 1970-01-01 keeps such schedules deterministic.
var Epoch = model.NewDate(1970, time.January, 1)

// Anchor carries the reference dates a schedule counts from.
type Anchor struct {
	// Activation is the task's activation date. Zero means Epoch.
	Activation time.Time
	// LastCompleted is the latest checked date strictly before the date being
	// evaluated. Zero when the task was never completed. Only interval-mode
	// EveryNDays schedules read it.
	LastCompleted time.Time
}

// AnchorFor builds the anchor for a task given its last completion.
func AnchorFor(t model.Task, lastCompleted time.Time) Anchor {
	a := Anchor{LastCompleted: lastCompleted}
	if t.ActivationDate != nil {
		a.Activation = model.DateOf(*t.ActivationDate)
	}
	return a
}

func (a Anchor) start() time.Time {
	if a.Activation.IsZero() {
		return Epoch
	}
	return a.Activation
}

// IsDue reports whether spec fires on date. A nil spec falls back to
// model.DefaultScheduledRecurrence. Dates before the anchor are never due.
func IsDue(spec model.Recurrence, anchor Anchor, date time.Time) bool {
	if spec == nil {
		spec = model.DefaultScheduledRecurrence
	}
	date = model.DateOf(date)
	start := anchor.start()
	if date.Before(start) {
		return false
	}

	switch v := spec.(type) {
	case model.Weekly:
		return weeklyDue(v.DayOfWeek, v.Interval, start, date)
	case model.BiWeekly:
		return weeklyDue(v.DayOfWeek, 2, start, date)
	case model.Monthly:
		return date.Day() == clampDay(v.DayOfMonth, date.Year(), date.Month())
	case model.EveryNDays:
		if v.N <= 0 {
			return false
		}
		base := start
		if v.AnchorMode == model.AnchorInterval && anchor.LastCompleted.After(base) {
			base = model.DateOf(anchor.LastCompleted)
		}
		if date.Before(base) {
			return false
		}
		return model.DaysBetween(base, date)%v.N == 0
	}
	return false
}

// NextDue returns the first due date strictly after the given date, assuming
// no further completions. It returns the zero time only for an invalid spec.
func NextDue(spec model.Recurrence, anchor Anchor, after time.Time) time.Time {
	if spec == nil {
		spec = model.DefaultScheduledRecurrence
	}
	cursor := model.AddDays(model.DateOf(after), 1)
	if start := anchor.start(); cursor.Before(start) {
		cursor = start
	}
	if ev, ok := spec.(model.EveryNDays); ok && ev.AnchorMode == model.AnchorInterval &&
		!anchor.LastCompleted.IsZero() && !anchor.LastCompleted.Before(cursor) {
		// interval schedules restart the day after the last completion
		cursor = model.AddDays(model.DateOf(anchor.LastCompleted), 1)
	}
	for i := 0; i <= horizon(spec); i++ {
		if IsDue(spec, anchor, cursor) {
			return cursor
		}
		cursor = model.AddDays(cursor, 1)
	}
	return time.Time{}
}

// PreviousDue returns the latest due date on or before the given date.
func PreviousDue(spec model.Recurrence, anchor Anchor, onOrBefore time.Time) (time.Time, bool) {
	if spec == nil {
		spec = model.DefaultScheduledRecurrence
	}
	cursor := model.DateOf(onOrBefore)
	start := anchor.start()
	for i := 0; i <= horizon(spec) && !cursor.Before(start); i++ {
		if IsDue(spec, anchor, cursor) {
			return cursor, true
		}
		cursor = model.AddDays(cursor, -1)
	}
	return time.Time{}, false
}

// horizon bounds how many consecutive days can pass without a due date.
func horizon(spec model.Recurrence) int {
	switch v := spec.(type) {
	case model.Weekly:
		return 7*v.Interval + 7
	case model.BiWeekly:
		return 21
	case model.Monthly:
		return 62
	case model.EveryNDays:
		return v.N + 1
	}
	return 0
}

func weeklyDue(day time.Weekday, interval int, start, date time.Time) bool {
	if interval <= 0 || date.Weekday() != day {
		return false
	}
	weeks := model.DaysBetween(weekStart(start), weekStart(date)) / 7
	return weeks%interval == 0
}

// weekStart returns the Monday on or before t.
func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return model.AddDays(t, -offset)
}

// clampDay maps day onto the month, so 31 becomes the last day of a short month.
func clampDay(day, year int, month time.Month) int {
	if last := model.DaysIn(year, month); day > last {
		return last
	}
	return day
}
