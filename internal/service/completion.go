package service

import (
	"time"

	"habitstreak/internal/model"
	"habitstreak/internal/recurrence"
)

// scope is how one task relates to one date.
type scope struct {
	// Listed tasks show on the day view.
	Listed bool
	// InScope tasks participate in completion (required or not).
	InScope bool
	// Required tasks must be checked for the day to be complete.
	Required bool
}

// classify decides the task's scope on date. lastCompleted is only read by
// interval-anchored schedules.
func classify(t model.Task, date, lastCompleted time.Time) scope {
	if !t.ActiveOn(date) {
		return scope{}
	}
	switch t.Type {
	case model.TaskTypeDaily:
		return scope{Listed: true, InScope: true, Required: t.Required}
	case model.TaskTypeOneOff:
		// 完成之后的日子不再显示
		if t.CompletedOn != nil && date.After(*t.CompletedOn) {
			return scope{}
		}
		return scope{Listed: true}
	case model.TaskTypeScheduled:
		if !recurrence.IsDue(t.Recurrence, recurrence.AnchorFor(t, lastCompleted), date) {
			return scope{}
		}
		return scope{Listed: true, InScope: true, Required: t.Required}
	}
	return scope{}
}

// needsLastCompleted reports whether classify reads lastCompleted for t.
func needsLastCompleted(t model.Task) bool {
	if t.Type != model.TaskTypeScheduled {
		return false
	}
	ev, ok := t.EffectiveRecurrence().(model.EveryNDays)
	return ok && ev.AnchorMode == model.AnchorInterval
}

// dayComplete is true when every required task is checked. A day with no
// required tasks follows emptyDayComplete.
func dayComplete(required []int64, checked map[int64]bool, emptyDayComplete bool) bool {
	if len(required) == 0 {
		return emptyDayComplete
	}
	for _, id := range required {
		if !checked[id] {
			return false
		}
	}
	return true
}
