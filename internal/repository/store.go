package repository

import (
	"context"
	"time"

	"habitstreak/internal/model"
)

// TaskStore is the Task Registry's persistence.
type TaskStore interface {
	// ListTasks returns every non-deleted task of a profile ordered by sort order.
	ListTasks(ctx context.Context, profileID int64) ([]model.Task, error)
	// GetTask returns model.ErrTaskNotFound for unknown or soft-deleted tasks.
	GetTask(ctx context.Context, profileID, taskID int64) (model.Task, error)
	CreateTask(ctx context.Context, t *model.Task) error
	UpdateTask(ctx context.Context, t *model.Task) error
	// ListCompletedOneOffs returns non-archived one-off tasks of every
	// profile completed strictly before the given date.
	ListCompletedOneOffs(ctx context.Context, before time.Time) ([]model.Task, error)
}

// CheckStore is the Check Ledger.
type CheckStore interface {
	GetCheck(ctx context.Context, profileID, taskID int64, date time.Time) (model.CheckRecord, bool, error)
	// ListChecks returns checks with from <= date <= to.
	ListChecks(ctx context.Context, profileID int64, from, to time.Time) ([]model.CheckRecord, error)
	UpsertCheck(ctx context.Context, rec model.CheckRecord) error
	// LastCheckedBefore returns the latest date strictly before the given date
	// on which the task is checked.
	LastCheckedBefore(ctx context.Context, profileID, taskID int64, before time.Time) (time.Time, bool, error)
}

// DayReader is the read side of the DayCompletion cache.
type DayReader interface {
	GetDayCompletion(ctx context.Context, profileID int64, date time.Time) (model.DayCompletion, bool, error)
	// ListDayCompletions returns rows with from <= date <= to.
	ListDayCompletions(ctx context.Context, profileID int64, from, to time.Time) ([]model.DayCompletion, error)
}

type DayStore interface {
	DayReader
	// UpsertDayCompletion writes dc only if the stored version equals
	// expectedVersion (0 for "no row yet") and returns the stored row.
	// A mismatch returns model.ErrConcurrentModification.
	UpsertDayCompletion(ctx context.Context, dc model.DayCompletion, expectedVersion int64) (model.DayCompletion, error)
	// ReadSnapshot runs fn against a consistent read-only view.
	ReadSnapshot(ctx context.Context, fn func(DayReader) error) error
}

// MetricStore keeps the last ingested metric snapshot per profile and date.
type MetricStore interface {
	UpsertMetricValues(ctx context.Context, values []model.MetricValue) error
	ListMetricValues(ctx context.Context, profileID int64, date time.Time) ([]model.MetricValue, error)
	// ListMetricProfiles returns profiles with metric data in [from, to].
	ListMetricProfiles(ctx context.Context, from, to time.Time) ([]int64, error)
}

type Store interface {
	TaskStore
	CheckStore
	DayStore
	MetricStore
}
