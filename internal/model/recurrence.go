package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type RecurrenceKind string

const (
	KindWeekly     RecurrenceKind = "weekly"
	KindMonthly    RecurrenceKind = "monthly"
	KindEveryNDays RecurrenceKind = "every_n_days"
	KindBiWeekly   RecurrenceKind = "biweekly"
)

// AnchorMode decides where an EveryNDays schedule counts from.
type AnchorMode string

const (
	// AnchorCalendar counts from the activation date, independent of history.
	AnchorCalendar AnchorMode = "calendar"
	// AnchorInterval counts from the last completed date.
	AnchorInterval AnchorMode = "interval"
)

// DefaultScheduledRecurrence applies to a recurring_scheduled task that was
// stored without a recurrence spec.
var DefaultScheduledRecurrence Recurrence = EveryNDays{N: 7, AnchorMode: AnchorCalendar}

// Recurrence is a closed sum type. Only the four variants in this file
// implement it; consumers switch over them exhaustively.
type Recurrence interface {
	Kind() RecurrenceKind
	isRecurrence()
}

// Weekly fires on DayOfWeek every Interval weeks, counted from the week the
// task was activated.
type Weekly struct {
	DayOfWeek time.Weekday
	Interval  int
}

// Monthly fires on DayOfMonth, clamped to the last day of shorter months.
type Monthly struct {
	DayOfMonth int
}

type EveryNDays struct {
	N          int
	AnchorMode AnchorMode
}

// BiWeekly is Weekly with Interval 2.
type BiWeekly struct {
	DayOfWeek time.Weekday
}

func (Weekly) Kind() RecurrenceKind     { return KindWeekly }
func (Monthly) Kind() RecurrenceKind    { return KindMonthly }
func (EveryNDays) Kind() RecurrenceKind { return KindEveryNDays }
func (BiWeekly) Kind() RecurrenceKind   { return KindBiWeekly }

func (Weekly) isRecurrence()     {}
func (Monthly) isRecurrence()    {}
func (EveryNDays) isRecurrence() {}
func (BiWeekly) isRecurrence()   {}

// ValidateRecurrence rejects specs the resolver must never see.
func ValidateRecurrence(r Recurrence) error {
	switch v := r.(type) {
	case Weekly:
		if err := validateWeekday(v.DayOfWeek); err != nil {
			return err
		}
		if v.Interval <= 0 {
			return fmt.Errorf("%w: weekly interval must be positive, got %d", ErrInvalidRecurrenceSpec, v.Interval)
		}
	case BiWeekly:
		return validateWeekday(v.DayOfWeek)
	case Monthly:
		if v.DayOfMonth < 1 || v.DayOfMonth > 31 {
			return fmt.Errorf("%w: day_of_month must be within 1-31, got %d", ErrInvalidRecurrenceSpec, v.DayOfMonth)
		}
	case EveryNDays:
		if v.N <= 0 {
			return fmt.Errorf("%w: n must be positive, got %d", ErrInvalidRecurrenceSpec, v.N)
		}
		if v.AnchorMode != AnchorCalendar && v.AnchorMode != AnchorInterval {
			return fmt.Errorf("%w: unknown anchor_mode %q", ErrInvalidRecurrenceSpec, v.AnchorMode)
		}
	case nil:
		return fmt.Errorf("%w: missing spec", ErrInvalidRecurrenceSpec)
	default:
		return fmt.Errorf("%w: unsupported variant %T", ErrInvalidRecurrenceSpec, r)
	}
	return nil
}

func validateWeekday(d time.Weekday) error {
	if d < time.Sunday || d > time.Saturday {
		return fmt.Errorf("%w: day_of_week must be within 0-6, got %d", ErrInvalidRecurrenceSpec, int(d))
	}
	return nil
}

// recurrenceJSON is the tagged wire form: {"kind": "weekly", "day_of_week": 1, "interval": 2}.
// day_of_week follows time.Weekday (0 = Sunday).
type recurrenceJSON struct {
	Kind       RecurrenceKind `json:"kind"`
	DayOfWeek  *int           `json:"day_of_week,omitempty"`
	Interval   *int           `json:"interval,omitempty"`
	DayOfMonth *int           `json:"day_of_month,omitempty"`
	N          *int           `json:"n,omitempty"`
	AnchorMode AnchorMode     `json:"anchor_mode,omitempty"`
}

func intPtr(v int) *int { return &v }

// MarshalRecurrence encodes r in its tagged JSON form. A nil spec encodes as null.
func MarshalRecurrence(r Recurrence) ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	var w recurrenceJSON
	w.Kind = r.Kind()
	switch v := r.(type) {
	case Weekly:
		w.DayOfWeek = intPtr(int(v.DayOfWeek))
		w.Interval = intPtr(v.Interval)
	case BiWeekly:
		w.DayOfWeek = intPtr(int(v.DayOfWeek))
	case Monthly:
		w.DayOfMonth = intPtr(v.DayOfMonth)
	case EveryNDays:
		w.N = intPtr(v.N)
		w.AnchorMode = v.AnchorMode
	}
	return json.Marshal(w)
}

// UnmarshalRecurrence decodes and validates a tagged spec. Empty input and
// JSON null decode to a nil spec.
func UnmarshalRecurrence(data []byte) (Recurrence, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var w recurrenceJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecurrenceSpec, err)
	}

	var r Recurrence
	switch w.Kind {
	case KindWeekly:
		if w.DayOfWeek == nil {
			return nil, fmt.Errorf("%w: weekly requires day_of_week", ErrInvalidRecurrenceSpec)
		}
		interval := 1
		if w.Interval != nil {
			interval = *w.Interval
		}
		r = Weekly{DayOfWeek: time.Weekday(*w.DayOfWeek), Interval: interval}
	case KindBiWeekly:
		if w.DayOfWeek == nil {
			return nil, fmt.Errorf("%w: biweekly requires day_of_week", ErrInvalidRecurrenceSpec)
		}
		r = BiWeekly{DayOfWeek: time.Weekday(*w.DayOfWeek)}
	case KindMonthly:
		if w.DayOfMonth == nil {
			return nil, fmt.Errorf("%w: monthly requires day_of_month", ErrInvalidRecurrenceSpec)
		}
		r = Monthly{DayOfMonth: *w.DayOfMonth}
	case KindEveryNDays:
		if w.N == nil {
			return nil, fmt.Errorf("%w: every_n_days requires n", ErrInvalidRecurrenceSpec)
		}
		mode := w.AnchorMode
		if mode == "" {
			mode = AnchorCalendar
		}
		r = EveryNDays{N: *w.N, AnchorMode: mode}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRecurrenceSpec, w.Kind)
	}

	if err := ValidateRecurrence(r); err != nil {
		return nil, err
	}
	return r, nil
}
