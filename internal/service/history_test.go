package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitstreak/internal/model"
)

func TestHistoryMonthAndStats(t *testing.T) {
	ctx := context.Background()
	today := day(2024, time.February, 10)
	f := newFixture(t, today)
	h := NewHistory(f.store, f.clock)

	for _, d := range []int{1, 2, 5} {
		_, err := f.store.UpsertDayCompletion(ctx, model.DayCompletion{
			ProfileID: profileID, Date: day(2024, time.February, d), Complete: true, ComputedAt: today,
		}, 0)
		require.NoError(t, err)
	}
	_, err := f.store.UpsertDayCompletion(ctx, model.DayCompletion{
		ProfileID: profileID, Date: day(2024, time.February, 3), Complete: false,
	}, 0)
	require.NoError(t, err)

	cal, err := h.Month(ctx, profileID, 2024, time.February)
	require.NoError(t, err)
	assert.Equal(t, 29, cal.DaysInMonth)
	assert.Equal(t, 3, cal.FirstWeekday) // 2024-02-01 is a Thursday
	require.Len(t, cal.Days, 29)
	assert.True(t, cal.Days[0].Complete)
	assert.NotNil(t, cal.Days[0].ComputedAt)
	assert.False(t, cal.Days[2].Complete)
	assert.Nil(t, cal.Days[2].ComputedAt)
	assert.False(t, cal.Days[28].Complete)

	stats, err := h.Stats(ctx, profileID, 2024, time.February)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalDays)
	assert.Equal(t, 3, stats.CompletedDays)
	assert.Equal(t, 30.0, stats.CompletionRate)
}

func TestHistoryStatsRounding(t *testing.T) {
	ctx := context.Background()
	today := day(2024, time.March, 3)
	f := newFixture(t, today)
	h := NewHistory(f.store, f.clock)

	_, err := f.store.UpsertDayCompletion(ctx, model.DayCompletion{
		ProfileID: profileID, Date: day(2024, time.March, 2), Complete: true,
	}, 0)
	require.NoError(t, err)

	stats, err := h.Stats(ctx, profileID, 2024, time.March)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDays)
	assert.Equal(t, 33.3, stats.CompletionRate)

	future, err := h.Stats(ctx, profileID, 2024, time.April)
	require.NoError(t, err)
	assert.Zero(t, future.TotalDays)
	assert.Zero(t, future.CompletionRate)

	past, err := h.Stats(ctx, profileID, 2024, time.January)
	require.NoError(t, err)
	assert.Equal(t, 31, past.TotalDays)

	_, err = h.Month(ctx, profileID, 2024, time.Month(13))
	assert.Error(t, err)
}
