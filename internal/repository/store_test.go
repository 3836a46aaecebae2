package repository_test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/internal/repository"
	"habitstreak/pkg/db"
	"habitstreak/pkg/outbox"
)

// testcontainers panics without a Docker daemon, so probe first.
func dockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	if !dockerAvailable() {
		t.Skip("Docker not available, skipping PostgreSQL integration tests")
	}

	ctx := context.Background()
	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("habitstreak"),
		postgres.WithUsername("habit"),
		postgres.WithPassword("habit"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pg); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.NewConnectionFromDSN(ctx, dsn, 200*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, repository.NewMemoryStore())
}

func TestPGStore(t *testing.T) {
	pool := newTestPool(t)
	store := repository.NewPGStore(pool, zap.NewNop())
	require.NoError(t, store.EnsureSchema(context.Background()))
	// 第二次执行必须幂等
	require.NoError(t, store.EnsureSchema(context.Background()))

	runStoreContract(t, store)
}

func runStoreContract(t *testing.T, store repository.Store) {
	t.Run("tasks", func(t *testing.T) { testTasks(t, store) })
	t.Run("one-off tasks", func(t *testing.T) { testOneOffTasks(t, store) })
	t.Run("checks", func(t *testing.T) { testChecks(t, store) })
	t.Run("day completions", func(t *testing.T) { testDayCompletions(t, store) })
	t.Run("metrics", func(t *testing.T) { testMetrics(t, store) })
}

func testTasks(t *testing.T, store repository.Store) {
	ctx := context.Background()
	const profile = int64(100)

	activation := model.NewDate(2024, time.January, 1)
	weekly := &model.Task{
		ProfileID:      profile,
		Title:          "Long run",
		SortOrder:      2,
		Type:           model.TaskTypeScheduled,
		Required:       true,
		Active:         true,
		ActivationDate: &activation,
		Recurrence:     model.Weekly{DayOfWeek: time.Saturday, Interval: 1},
	}
	require.NoError(t, store.CreateTask(ctx, weekly))
	assert.NotZero(t, weekly.ID)

	steps := &model.Task{
		ProfileID:  profile,
		Title:      "10k steps",
		SortOrder:  1,
		Type:       model.TaskTypeDaily,
		Required:   true,
		Active:     true,
		MetricGate: &model.MetricGate{MetricKey: "steps", Operator: model.OpGTE, GoalValue: 10000},
	}
	require.NoError(t, store.CreateTask(ctx, steps))

	other := &model.Task{ProfileID: profile + 1, Title: "Other", Type: model.TaskTypeDaily, Active: true}
	require.NoError(t, store.CreateTask(ctx, other))

	tasks, err := store.ListTasks(ctx, profile)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, steps.ID, tasks[0].ID, "ordered by sort order")
	assert.Equal(t, weekly.ID, tasks[1].ID)

	got, err := store.GetTask(ctx, profile, weekly.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Weekly{DayOfWeek: time.Saturday, Interval: 1}, got.Recurrence)
	require.NotNil(t, got.ActivationDate)
	assert.True(t, activation.Equal(*got.ActivationDate))
	assert.Nil(t, got.MetricGate)

	got, err = store.GetTask(ctx, profile, steps.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MetricGate)
	assert.Equal(t, model.MetricGate{MetricKey: "steps", Operator: model.OpGTE, GoalValue: 10000}, *got.MetricGate)
	assert.Nil(t, got.Recurrence)

	_, err = store.GetTask(ctx, profile, other.ID)
	assert.ErrorIs(t, err, model.ErrTaskNotFound, "task of another profile")

	got.Title = "12k steps"
	got.MetricGate.GoalValue = 12000
	require.NoError(t, store.UpdateTask(ctx, &got))
	reloaded, err := store.GetTask(ctx, profile, steps.ID)
	require.NoError(t, err)
	assert.Equal(t, "12k steps", reloaded.Title)
	assert.Equal(t, 12000.0, reloaded.MetricGate.GoalValue)

	deletedAt := time.Now().UTC()
	reloaded.DeletedAt = &deletedAt
	require.NoError(t, store.UpdateTask(ctx, &reloaded))
	_, err = store.GetTask(ctx, profile, steps.ID)
	assert.ErrorIs(t, err, model.ErrTaskNotFound)

	tasks, err = store.ListTasks(ctx, profile)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, weekly.ID, tasks[0].ID)

	missing := model.Task{ID: 999999, ProfileID: profile, Title: "x", Type: model.TaskTypeDaily}
	assert.ErrorIs(t, store.UpdateTask(ctx, &missing), model.ErrTaskNotFound)
}

func testOneOffTasks(t *testing.T, store repository.Store) {
	ctx := context.Background()
	const profile = int64(500)

	due := model.NewDate(2024, time.March, 8)
	done := model.NewDate(2024, time.March, 1)
	doneAt := time.Date(2024, time.March, 1, 18, 30, 0, 0, time.UTC)
	errand := &model.Task{
		ProfileID: profile, Title: "Renew passport", Type: model.TaskTypeOneOff, Active: true,
		DueDate: &due, CompletedOn: &done, CompletedAt: &doneAt,
	}
	require.NoError(t, store.CreateTask(ctx, errand))
	open := &model.Task{ProfileID: profile, Title: "Call plumber", Type: model.TaskTypeOneOff, Active: true}
	require.NoError(t, store.CreateTask(ctx, open))
	other := &model.Task{ProfileID: profile + 1, Title: "Return books", Type: model.TaskTypeOneOff, Active: true, CompletedOn: &done}
	require.NoError(t, store.CreateTask(ctx, other))

	got, err := store.GetTask(ctx, profile, errand.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DueDate)
	assert.True(t, due.Equal(*got.DueDate))
	require.NotNil(t, got.CompletedOn)
	assert.True(t, done.Equal(*got.CompletedOn))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, doneAt.Equal(*got.CompletedAt))
	assert.Nil(t, got.ArchivedAt)

	completed, err := store.ListCompletedOneOffs(ctx, model.AddDays(done, 1))
	require.NoError(t, err)
	ids := make([]int64, 0, len(completed))
	for _, c := range completed {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int64{errand.ID, other.ID}, ids, "every profile, ordered by id")

	completed, err = store.ListCompletedOneOffs(ctx, done)
	require.NoError(t, err)
	assert.Empty(t, completed, "the cutoff date itself is excluded")

	archivedAt := time.Now().UTC()
	got.ArchivedAt = &archivedAt
	require.NoError(t, store.UpdateTask(ctx, &got))
	completed, err = store.ListCompletedOneOffs(ctx, model.AddDays(done, 1))
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, other.ID, completed[0].ID)

	reloaded, err := store.GetTask(ctx, profile, errand.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.ArchivedAt)
}

func testChecks(t *testing.T, store repository.Store) {
	ctx := context.Background()
	const profile = int64(200)

	task := &model.Task{ProfileID: profile, Title: "Read", Type: model.TaskTypeDaily, Required: true, Active: true}
	require.NoError(t, store.CreateTask(ctx, task))

	d1 := model.NewDate(2024, time.March, 1)
	d2 := model.NewDate(2024, time.March, 2)
	d3 := model.NewDate(2024, time.March, 3)
	now := time.Now().UTC()

	_, found, err := store.GetCheck(ctx, profile, task.ID, d1)
	require.NoError(t, err)
	assert.False(t, found)

	for _, d := range []time.Time{d1, d2} {
		require.NoError(t, store.UpsertCheck(ctx, model.CheckRecord{
			ProfileID: profile,
			TaskID:    task.ID,
			Date:      d,
			Checked:   true,
			CheckedAt: &now,
			Source:    model.SourceManual,
			UpdatedAt: now,
		}))
	}

	// 取消打卡：原地覆盖
	require.NoError(t, store.UpsertCheck(ctx, model.CheckRecord{
		ProfileID: profile,
		TaskID:    task.ID,
		Date:      d2,
		Checked:   false,
		Source:    model.SourceAuto,
		UpdatedAt: now,
	}))

	rec, found, err := store.GetCheck(ctx, profile, task.ID, d2)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, rec.Checked)
	assert.Nil(t, rec.CheckedAt)
	assert.Equal(t, model.SourceAuto, rec.Source)
	assert.True(t, d2.Equal(rec.Date))

	checks, err := store.ListChecks(ctx, profile, d1, d3)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.True(t, d1.Equal(checks[0].Date))
	assert.True(t, checks[0].Checked)
	require.NotNil(t, checks[0].CheckedAt)
	assert.WithinDuration(t, now, *checks[0].CheckedAt, time.Millisecond)

	checks, err = store.ListChecks(ctx, profile, d3, d3)
	require.NoError(t, err)
	assert.Empty(t, checks)

	last, ok, err := store.LastCheckedBefore(ctx, profile, task.ID, d3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, d1.Equal(last), "unchecked day is skipped")

	_, ok, err = store.LastCheckedBefore(ctx, profile, task.ID, d1)
	require.NoError(t, err)
	assert.False(t, ok, "strictly before")
}

func testDayCompletions(t *testing.T, store repository.Store) {
	ctx := context.Background()
	const profile = int64(300)
	day := model.NewDate(2024, time.April, 10)
	now := time.Now().UTC()

	_, found, err := store.GetDayCompletion(ctx, profile, day)
	require.NoError(t, err)
	assert.False(t, found)

	dc := model.DayCompletion{ProfileID: profile, Date: day, Complete: true, ComputedAt: now}
	stored, err := store.UpsertDayCompletion(ctx, dc, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	_, err = store.UpsertDayCompletion(ctx, dc, 0)
	assert.ErrorIs(t, err, model.ErrConcurrentModification, "row already exists")

	dc.Complete = false
	stored, err = store.UpsertDayCompletion(ctx, dc, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)

	_, err = store.UpsertDayCompletion(ctx, dc, 1)
	assert.ErrorIs(t, err, model.ErrConcurrentModification, "stale version")

	got, found, err := store.GetDayCompletion(ctx, profile, day)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, got.Complete)
	assert.Equal(t, int64(2), got.Version)

	next := model.AddDays(day, 1)
	_, err = store.UpsertDayCompletion(ctx, model.DayCompletion{ProfileID: profile, Date: next, Complete: true, ComputedAt: now}, 0)
	require.NoError(t, err)

	err = store.ReadSnapshot(ctx, func(r repository.DayReader) error {
		rows, err := r.ListDayCompletions(ctx, profile, day, next)
		if err != nil {
			return err
		}
		require.Len(t, rows, 2)
		assert.True(t, day.Equal(rows[0].Date))
		assert.True(t, next.Equal(rows[1].Date))
		assert.True(t, rows[1].Complete)

		one, ok, err := r.GetDayCompletion(ctx, profile, next)
		if err != nil {
			return err
		}
		assert.True(t, ok)
		assert.Equal(t, int64(1), one.Version)
		return nil
	})
	require.NoError(t, err)
}

func testMetrics(t *testing.T, store repository.Store) {
	ctx := context.Background()
	const profile = int64(400)
	day := model.NewDate(2024, time.May, 5)
	now := time.Now().UTC()

	require.NoError(t, store.UpsertMetricValues(ctx, nil))

	require.NoError(t, store.UpsertMetricValues(ctx, []model.MetricValue{
		{ProfileID: profile, Date: day, MetricKey: "steps", Value: 8000, Unit: "count", SyncedAt: now},
		{ProfileID: profile, Date: day, MetricKey: "active_minutes", Value: 25, SyncedAt: now},
	}))
	require.NoError(t, store.UpsertMetricValues(ctx, []model.MetricValue{
		{ProfileID: profile, Date: day, MetricKey: "steps", Value: 12000, Unit: "count", SyncedAt: now},
	}))

	values, err := store.ListMetricValues(ctx, profile, day)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "active_minutes", values[0].MetricKey)
	assert.Equal(t, model.MetricSnapshot{"steps": 12000, "active_minutes": 25}, model.SnapshotOf(values))

	profiles, err := store.ListMetricProfiles(ctx, model.AddDays(day, -1), day)
	require.NoError(t, err)
	assert.Equal(t, []int64{profile}, profiles)

	profiles, err = store.ListMetricProfiles(ctx, model.AddDays(day, 1), model.AddDays(day, 2))
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestPGOutboxStore(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	store := outbox.NewPGStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))

	w := outbox.NewWriter(store)
	require.NoError(t, w.Publish(ctx, "habit.day.completion.changed", map[string]any{"profile_id": 1}))
	require.NoError(t, w.Publish(ctx, "habit.day.completion.changed", map[string]any{"profile_id": 2}))

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, outbox.StatusPending, pending[0].Status)
	assert.JSONEq(t, `{"profile_id":1}`, string(pending[0].Payload))

	require.NoError(t, store.MarkSent(ctx, pending[0].ID))

	// 失败后延迟重试，暂时不再出现在待发送列表中
	require.NoError(t, store.MarkFailed(ctx, pending[1].ID, 3))
	pending, err = store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Error(t, store.MarkFailed(ctx, 424242, 3))
}
