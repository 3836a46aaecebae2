package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

type TaskType string

const (
	TaskTypeDaily     TaskType = "recurring_daily"
	TaskTypeOneOff    TaskType = "one_off"
	TaskTypeScheduled TaskType = "recurring_scheduled"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeDaily, TaskTypeOneOff, TaskTypeScheduled:
		return true
	}
	return false
}

type GateOperator string

const (
	OpGTE GateOperator = ">="
	OpLTE GateOperator = "<="
	OpEQ  GateOperator = "=="
)

// ParseGateOperator accepts the symbolic form and the gte/lte/eq aliases.
func ParseGateOperator(s string) (GateOperator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ">=", "gte":
		return OpGTE, nil
	case "<=", "lte":
		return OpLTE, nil
	case "==", "eq":
		return OpEQ, nil
	}
	return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidMetricGate, s)
}

// MetricGate ties a task to an externally supplied metric.
type MetricGate struct {
	MetricKey string       `json:"metric_key"`
	Operator  GateOperator `json:"operator"`
	GoalValue float64      `json:"goal_value"`
}

func (g MetricGate) Validate() error {
	if strings.TrimSpace(g.MetricKey) == "" {
		return fmt.Errorf("%w: metric_key is required", ErrInvalidMetricGate)
	}
	if _, err := ParseGateOperator(string(g.Operator)); err != nil {
		return err
	}
	if math.IsNaN(g.GoalValue) || math.IsInf(g.GoalValue, 0) {
		return fmt.Errorf("%w: goal_value must be finite", ErrInvalidMetricGate)
	}
	return nil
}

// Met reports whether value satisfies the gate.
func (g MetricGate) Met(value float64) (bool, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false, fmt.Errorf("%w: metric %q has non-finite value", ErrInvalidMetricGate, g.MetricKey)
	}
	op, err := ParseGateOperator(string(g.Operator))
	if err != nil {
		return false, err
	}
	switch op {
	case OpGTE:
		return value >= g.GoalValue, nil
	case OpLTE:
		return value <= g.GoalValue, nil
	default:
		return value == g.GoalValue, nil
	}
}

type Task struct {
	ID             int64
	ProfileID      int64
	Title          string
	SortOrder      int
	Type           TaskType
	Required       bool
	Active         bool
	ActivationDate *time.Time
	Recurrence     Recurrence
	MetricGate     *MetricGate
	// 以下字段仅用于 one_off（待办清单）任务
	DueDate        *time.Time
	CompletedOn    *time.Time
	CompletedAt    *time.Time
	ArchivedAt     *time.Time
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Deleted reports whether the task was soft-deleted.
func (t Task) Deleted() bool {
	return t.DeletedAt != nil
}

// ActiveOn reports whether the task is live on date: active, not deleted and
// not before its activation date.
func (t Task) ActiveOn(date time.Time) bool {
	if !t.Active || t.Deleted() {
		return false
	}
	if t.ActivationDate != nil && date.Before(*t.ActivationDate) {
		return false
	}
	return true
}

// Completed reports whether a one-off task has been done.
func (t Task) Completed() bool {
	return t.CompletedOn != nil
}

// Archived reports whether a completed one-off task was moved off the punch list.
func (t Task) Archived() bool {
	return t.ArchivedAt != nil
}

// CountsTowardCompletion reports whether the task can ever be required for a day.
func (t Task) CountsTowardCompletion() bool {
	return t.Required && t.Type != TaskTypeOneOff
}

// EffectiveRecurrence returns the task's spec or the scheduled default.
func (t Task) EffectiveRecurrence() Recurrence {
	if t.Recurrence == nil {
		return DefaultScheduledRecurrence
	}
	return t.Recurrence
}

// Validate checks the invariants enforced at mutation time.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTask, t.Type)
	}
	if t.Recurrence != nil {
		if t.Type != TaskTypeScheduled {
			return fmt.Errorf("%w: recurrence is only allowed on %s tasks", ErrInvalidRecurrenceSpec, TaskTypeScheduled)
		}
		if err := ValidateRecurrence(t.Recurrence); err != nil {
			return err
		}
	}
	if t.MetricGate != nil {
		if err := t.MetricGate.Validate(); err != nil {
			return err
		}
	}
	if t.Type != TaskTypeOneOff && (t.DueDate != nil || t.CompletedOn != nil || t.ArchivedAt != nil) {
		return fmt.Errorf("%w: due_date and completion are only allowed on %s tasks", ErrInvalidTask, TaskTypeOneOff)
	}
	return nil
}

type taskJSON struct {
	ID             int64           `json:"id"`
	ProfileID      int64           `json:"profile_id"`
	Title          string          `json:"title"`
	SortOrder      int             `json:"sort_order"`
	Type           TaskType        `json:"type"`
	Required       bool            `json:"required"`
	Active         bool            `json:"active"`
	ActivationDate *string         `json:"activation_date"`
	Recurrence     json.RawMessage `json:"recurrence"`
	MetricGate     *MetricGate     `json:"metric_gate"`
	DueDate        *string         `json:"due_date,omitempty"`
	CompletedOn    *string         `json:"completed_on,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ArchivedAt     *time.Time      `json:"archived_at,omitempty"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	rec, err := MarshalRecurrence(t.Recurrence)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taskJSON{
		ID:             t.ID,
		ProfileID:      t.ProfileID,
		Title:          t.Title,
		SortOrder:      t.SortOrder,
		Type:           t.Type,
		Required:       t.Required,
		Active:         t.Active,
		ActivationDate: formatDatePtr(t.ActivationDate),
		Recurrence:     rec,
		MetricGate:     t.MetricGate,
		DueDate:        formatDatePtr(t.DueDate),
		CompletedOn:    formatDatePtr(t.CompletedOn),
		CompletedAt:    t.CompletedAt,
		ArchivedAt:     t.ArchivedAt,
		DeletedAt:      t.DeletedAt,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	})
}

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatDate(*t)
	return &s
}
