package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitstreak/internal/model"
)

func TestRegistryCreateDefaults(t *testing.T) {
	ctx := context.Background()
	today := day(2024, time.February, 20)
	f := newFixture(t, today)

	task, err := f.registry.Create(ctx, profileID, CreateTaskInput{Title: "Stretch"})
	require.NoError(t, err)
	assert.NotZero(t, task.ID)
	assert.Equal(t, model.TaskTypeDaily, task.Type)
	assert.True(t, task.Required)
	assert.True(t, task.Active)
	require.NotNil(t, task.ActivationDate)
	assert.Equal(t, today, *task.ActivationDate)

	backdated, err := f.registry.Create(ctx, profileID, CreateTaskInput{
		Title:          "Journal",
		Required:       boolPtr(false),
		ActivationDate: datePtr(time.Date(2024, time.January, 3, 18, 30, 0, 0, time.UTC)),
		MetricGate:     &model.MetricGate{MetricKey: "steps", Operator: "lte", GoalValue: 5},
	})
	require.NoError(t, err)
	assert.False(t, backdated.Required)
	assert.Equal(t, day(2024, time.January, 3), *backdated.ActivationDate)
	assert.Equal(t, model.OpLTE, backdated.MetricGate.Operator)
}

func TestRegistryCreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, day(2024, time.February, 20))

	cases := []struct {
		name string
		in   CreateTaskInput
		want error
	}{
		{"empty title", CreateTaskInput{Title: "  "}, model.ErrInvalidTask},
		{"unknown type", CreateTaskInput{Title: "x", Type: "hourly"}, model.ErrInvalidTask},
		{"recurrence on daily", CreateTaskInput{Title: "x", Recurrence: model.Monthly{DayOfMonth: 1}}, model.ErrInvalidRecurrenceSpec},
		{"zero interval", CreateTaskInput{Title: "x", Type: model.TaskTypeScheduled, Recurrence: model.Weekly{DayOfWeek: time.Monday}}, model.ErrInvalidRecurrenceSpec},
		{"day of month 32", CreateTaskInput{Title: "x", Type: model.TaskTypeScheduled, Recurrence: model.Monthly{DayOfMonth: 32}}, model.ErrInvalidRecurrenceSpec},
		{"bad operator", CreateTaskInput{Title: "x", MetricGate: &model.MetricGate{MetricKey: "steps", Operator: "~"}}, model.ErrInvalidMetricGate},
		{"missing key", CreateTaskInput{Title: "x", MetricGate: &model.MetricGate{Operator: model.OpGTE}}, model.ErrInvalidMetricGate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.registry.Create(ctx, profileID, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	tasks, err := f.registry.List(ctx, profileID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRegistryUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	today := day(2024, time.February, 20)
	f := newFixture(t, today)

	task, err := f.registry.Create(ctx, profileID, CreateTaskInput{Title: "Read"})
	require.NoError(t, err)
	f.toggle(t, today, task.ID, true, model.SourceManual)

	title := "Read 20 pages"
	scheduled := model.TaskTypeScheduled
	updated, err := f.registry.Update(ctx, profileID, task.ID, UpdateTaskInput{
		Title:         &title,
		Type:          &scheduled,
		SetRecurrence: true,
		Recurrence:    model.BiWeekly{DayOfWeek: time.Tuesday},
	})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, model.BiWeekly{DayOfWeek: time.Tuesday}, updated.Recurrence)

	daily := model.TaskTypeDaily
	updated, err = f.registry.Update(ctx, profileID, task.ID, UpdateTaskInput{Type: &daily})
	require.NoError(t, err)
	assert.Nil(t, updated.Recurrence)

	_, err = f.registry.Update(ctx, profileID, 999, UpdateTaskInput{Title: &title})
	assert.ErrorIs(t, err, model.ErrTaskNotFound)

	require.NoError(t, f.registry.Delete(ctx, profileID, task.ID))
	_, err = f.registry.Get(ctx, profileID, task.ID)
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
	assert.ErrorIs(t, f.registry.Delete(ctx, profileID, task.ID), model.ErrTaskNotFound)

	// history survives the soft delete
	rec, ok := f.check(t, today, task.ID)
	require.True(t, ok)
	assert.True(t, rec.Checked)
}

func TestRegistryMutationsRecomputeTodayOnly(t *testing.T) {
	ctx := context.Background()
	yesterday := day(2024, time.February, 19)
	today := model.AddDays(yesterday, 1)
	f := newFixture(t, today)

	first, err := f.registry.Create(ctx, profileID, CreateTaskInput{Title: "a", ActivationDate: &yesterday})
	require.NoError(t, err)
	f.toggle(t, yesterday, first.ID, true, model.SourceManual)
	f.toggle(t, today, first.ID, true, model.SourceManual)

	second, err := f.registry.Create(ctx, profileID, CreateTaskInput{Title: "b", ActivationDate: &yesterday})
	require.NoError(t, err)

	complete, _ := f.dayComplete(t, today)
	assert.False(t, complete, "today recomputed with the new required task")
	complete, _ = f.dayComplete(t, yesterday)
	assert.True(t, complete, "past days keep their cached value")
	ev, err := f.eval.Evaluate(ctx, profileID, yesterday)
	require.NoError(t, err)
	assert.False(t, ev.Complete, "live evaluation already counts the new task")

	// any write on the past day repairs its row, including a no-op toggle
	res := f.toggle(t, yesterday, first.ID, true, model.SourceManual)
	assert.False(t, res.Day.Complete)
	assert.True(t, res.Flipped)
	complete, _ = f.dayComplete(t, yesterday)
	assert.False(t, complete)

	_, err = f.registry.Update(ctx, profileID, second.ID, UpdateTaskInput{Active: boolPtr(false)})
	require.NoError(t, err)
	complete, _ = f.dayComplete(t, today)
	assert.True(t, complete)
}

func TestRegistrySeedDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, day(2024, time.February, 20))

	seeded, err := f.registry.SeedDefaults(ctx, profileID)
	require.NoError(t, err)
	require.Len(t, seeded, 5)
	assert.Equal(t, "steps", seeded[0].MetricGate.MetricKey)
	assert.Equal(t, 420.0, seeded[1].MetricGate.GoalValue)
	assert.Nil(t, seeded[3].MetricGate)

	again, err := f.registry.SeedDefaults(ctx, profileID)
	require.NoError(t, err)
	assert.Nil(t, again)

	tasks, err := f.registry.List(ctx, profileID)
	require.NoError(t, err)
	assert.Len(t, tasks, 5)
}
