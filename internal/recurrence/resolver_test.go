package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitstreak/internal/model"
)

func d(s string) time.Time {
	t, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestIsDue_MonthlyClampsToMonthEnd(t *testing.T) {
	spec := model.Monthly{DayOfMonth: 31}
	anchor := Anchor{Activation: d("2023-01-01")}

	tests := []struct {
		date string
		want bool
	}{
		{"2024-02-29", true},
		{"2024-02-28", false},
		{"2023-02-28", true},
		{"2024-04-30", true},
		{"2024-03-31", true},
		{"2024-03-30", false},
		{"2024-01-31", true},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDue(spec, anchor, d(tt.date)))
		})
	}
}

func TestIsDue_EveryNDaysCalendarIgnoresCompletions(t *testing.T) {
	spec := model.EveryNDays{N: 7, AnchorMode: model.AnchorCalendar}
	anchor := Anchor{Activation: d("2024-01-01"), LastCompleted: d("2024-01-10")}

	for _, date := range []string{"2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22"} {
		assert.True(t, IsDue(spec, anchor, d(date)), date)
	}
	for _, date := range []string{"2024-01-10", "2024-01-17", "2023-12-25"} {
		assert.False(t, IsDue(spec, anchor, d(date)), date)
	}
}

func TestIsDue_EveryNDaysIntervalReanchors(t *testing.T) {
	spec := model.EveryNDays{N: 7, AnchorMode: model.AnchorInterval}

	// never completed: counts from activation
	fresh := Anchor{Activation: d("2024-01-01")}
	assert.True(t, IsDue(spec, fresh, d("2024-01-08")))

	// completed late on the 10th: the schedule shifts to the 17th
	late := Anchor{Activation: d("2024-01-01"), LastCompleted: d("2024-01-10")}
	assert.False(t, IsDue(spec, late, d("2024-01-15")))
	assert.True(t, IsDue(spec, late, d("2024-01-17")))
	assert.True(t, IsDue(spec, late, d("2024-01-24")))
	assert.False(t, IsDue(spec, late, d("2024-01-11")))
}

func TestIsDue_WeeklyInterval(t *testing.T) {
	// 2024-01-03 is a Wednesday; its week starts Monday 2024-01-01
	anchor := Anchor{Activation: d("2024-01-03")}
	spec := model.Weekly{DayOfWeek: time.Monday, Interval: 2}

	assert.False(t, IsDue(spec, anchor, d("2024-01-01")), "before activation")
	assert.False(t, IsDue(spec, anchor, d("2024-01-08")), "odd week")
	assert.True(t, IsDue(spec, anchor, d("2024-01-15")))
	assert.False(t, IsDue(spec, anchor, d("2024-01-16")), "wrong weekday")
	assert.True(t, IsDue(spec, anchor, d("2024-01-29")))

	weekly := model.Weekly{DayOfWeek: time.Friday, Interval: 1}
	assert.True(t, IsDue(weekly, anchor, d("2024-01-05")))
	assert.True(t, IsDue(weekly, anchor, d("2024-01-12")))
}

func TestIsDue_BiWeeklyParityFromActivationWeek(t *testing.T) {
	spec := model.BiWeekly{DayOfWeek: time.Thursday}
	anchor := Anchor{Activation: d("2024-01-01")}

	assert.True(t, IsDue(spec, anchor, d("2024-01-04")))
	assert.False(t, IsDue(spec, anchor, d("2024-01-11")))
	assert.True(t, IsDue(spec, anchor, d("2024-01-18")))

	shifted := Anchor{Activation: d("2024-01-08")}
	assert.False(t, IsDue(spec, shifted, d("2024-01-04")))
	assert.True(t, IsDue(spec, shifted, d("2024-01-11")))
	assert.False(t, IsDue(spec, shifted, d("2024-01-18")))
}

func TestIsDue_NilSpecFallsBackToDefault(t *testing.T) {
	anchor := Anchor{Activation: d("2024-03-01")}

	for i := 0; i < 30; i++ {
		date := model.AddDays(d("2024-03-01"), i)
		assert.Equal(t,
			IsDue(model.DefaultScheduledRecurrence, anchor, date),
			IsDue(nil, anchor, date),
			model.FormatDate(date),
		)
	}
	assert.True(t, IsDue(nil, anchor, d("2024-03-08")))
	assert.False(t, IsDue(nil, anchor, d("2024-03-09")))
}

func TestIsDue_NoActivationUsesEpoch(t *testing.T) {
	spec := model.EveryNDays{N: 2, AnchorMode: model.AnchorCalendar}
	// 1970-01-01 + 19723 days = 2024-01-01; 19723 is odd
	assert.False(t, IsDue(spec, Anchor{}, d("2024-01-01")))
	assert.True(t, IsDue(spec, Anchor{}, d("2024-01-02")))
}

func TestNextDue(t *testing.T) {
	tests := []struct {
		name   string
		spec   model.Recurrence
		anchor Anchor
		after  string
		want   string
	}{
		{"monthly rolls into short month", model.Monthly{DayOfMonth: 31}, Anchor{Activation: d("2024-01-01")}, "2024-01-31", "2024-02-29"},
		{"monthly same month", model.Monthly{DayOfMonth: 15}, Anchor{Activation: d("2024-01-01")}, "2024-01-10", "2024-01-15"},
		{"monthly year rollover", model.Monthly{DayOfMonth: 1}, Anchor{Activation: d("2024-01-01")}, "2024-12-01", "2025-01-01"},
		{"calendar from anchor", model.EveryNDays{N: 7, AnchorMode: model.AnchorCalendar}, Anchor{Activation: d("2024-01-01")}, "2024-01-08", "2024-01-15"},
		{"interval after completion", model.EveryNDays{N: 7, AnchorMode: model.AnchorInterval}, Anchor{Activation: d("2024-01-01"), LastCompleted: d("2024-01-10")}, "2024-01-10", "2024-01-17"},
		{"before activation", model.Weekly{DayOfWeek: time.Monday, Interval: 1}, Anchor{Activation: d("2024-02-01")}, "2024-01-01", "2024-02-05"},
		{"weekly skips odd weeks", model.Weekly{DayOfWeek: time.Monday, Interval: 2}, Anchor{Activation: d("2024-01-01")}, "2024-01-01", "2024-01-15"},
		{"biweekly", model.BiWeekly{DayOfWeek: time.Wednesday}, Anchor{Activation: d("2024-01-01")}, "2024-01-03", "2024-01-17"},
		{"default spec", nil, Anchor{Activation: d("2024-01-01")}, "2024-01-01", "2024-01-08"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextDue(tt.spec, tt.anchor, d(tt.after))
			require.False(t, got.IsZero())
			assert.Equal(t, tt.want, model.FormatDate(got))
		})
	}
}

func TestPreviousDue(t *testing.T) {
	spec := model.EveryNDays{N: 3, AnchorMode: model.AnchorCalendar}
	anchor := Anchor{Activation: d("2024-01-01")}

	got, ok := PreviousDue(spec, anchor, d("2024-01-06"))
	require.True(t, ok)
	assert.Equal(t, "2024-01-04", model.FormatDate(got))

	_, ok = PreviousDue(spec, Anchor{Activation: d("2024-02-01")}, d("2024-01-06"))
	assert.False(t, ok)
}

func TestNextDueIsAlwaysDue(t *testing.T) {
	specs := []model.Recurrence{
		model.Weekly{DayOfWeek: time.Saturday, Interval: 3},
		model.BiWeekly{DayOfWeek: time.Sunday},
		model.Monthly{DayOfMonth: 30},
		model.EveryNDays{N: 5, AnchorMode: model.AnchorCalendar},
	}
	anchor := Anchor{Activation: d("2023-11-13")}
	for _, spec := range specs {
		after := d("2024-01-01")
		for i := 0; i < 20; i++ {
			next := NextDue(spec, anchor, after)
			require.False(t, next.IsZero(), "%T", spec)
			assert.True(t, next.After(after))
			assert.True(t, IsDue(spec, anchor, next))
			for c := model.AddDays(after, 1); c.Before(next); c = model.AddDays(c, 1) {
				assert.False(t, IsDue(spec, anchor, c), "%T skipped %s", spec, model.FormatDate(c))
			}
			after = next
		}
	}
}
