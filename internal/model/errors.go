package model

import "errors"

var (
	// ErrInvalidRecurrenceSpec is returned when a recurrence spec fails
	// validation. It is raised at mutation time only.
	ErrInvalidRecurrenceSpec = errors.New("invalid recurrence spec")
	ErrInvalidMetricGate     = errors.New("invalid metric gate")
	ErrInvalidTask           = errors.New("invalid task")
	ErrTaskNotFound          = errors.New("task not found")
	// ErrDateOutOfAllowedRange is returned when a check targets a date before
	// the task became active or after the current day.
	ErrDateOutOfAllowedRange = errors.New("date out of allowed range")
	// ErrConcurrentModification signals an optimistic-lock conflict on a
	// DayCompletion row. Callers retry the whole toggle.
	ErrConcurrentModification = errors.New("concurrent modification")
)
