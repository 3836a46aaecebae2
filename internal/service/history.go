package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"habitstreak/internal/model"
	"habitstreak/internal/repository"
)

type HistoryDay struct {
	Date       time.Time  `json:"-"`
	Complete   bool       `json:"complete"`
	ComputedAt *time.Time `json:"computed_at"`
}

func (d HistoryDay) MarshalJSON() ([]byte, error) {
	type alias HistoryDay
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias: alias(d), Date: model.FormatDate(d.Date)})
}

// MonthCalendar is one month of cached DayCompletion values. Days without
// a row are reported incomplete.
type MonthCalendar struct {
	Year        int        `json:"year"`
	Month       time.Month `json:"month"`
	DaysInMonth int        `json:"days_in_month"`
	// FirstWeekday is the weekday of the 1st, 0 = Monday.
	FirstWeekday int          `json:"first_day_weekday"`
	Days         []HistoryDay `json:"days"`
}

type MonthStats struct {
	Year          int        `json:"year"`
	Month         time.Month `json:"month"`
	TotalDays     int        `json:"total_days"`
	CompletedDays int        `json:"completed_days"`
	// CompletionRate is a percentage rounded to one decimal.
	CompletionRate float64 `json:"completion_rate"`
}

type History struct {
	days  repository.DayReader
	clock Clock
}

func NewHistory(days repository.DayReader, clock Clock) *History {
	return &History{days: days, clock: clock}
}

func monthBounds(year int, month time.Month) (time.Time, time.Time, error) {
	if month < time.January || month > time.December {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month %d", month)
	}
	first := model.NewDate(year, month, 1)
	return first, model.NewDate(year, month, model.DaysIn(year, month)), nil
}

func (h *History) Month(ctx context.Context, profileID int64, year int, month time.Month) (MonthCalendar, error) {
	first, last, err := monthBounds(year, month)
	if err != nil {
		return MonthCalendar{}, err
	}
	rows, err := h.days.ListDayCompletions(ctx, profileID, first, last)
	if err != nil {
		return MonthCalendar{}, fmt.Errorf("failed to load month: %w", err)
	}
	byDate := make(map[time.Time]model.DayCompletion, len(rows))
	for _, dc := range rows {
		byDate[model.DateOf(dc.Date)] = dc
	}

	cal := MonthCalendar{
		Year:         year,
		Month:        month,
		DaysInMonth:  last.Day(),
		FirstWeekday: (int(first.Weekday()) + 6) % 7,
		Days:         make([]HistoryDay, 0, last.Day()),
	}
	for d := first; !d.After(last); d = model.AddDays(d, 1) {
		day := HistoryDay{Date: d}
		if dc, ok := byDate[d]; ok {
			day.Complete = dc.Complete
			if dc.Complete {
				at := dc.ComputedAt
				day.ComputedAt = &at
			}
		}
		cal.Days = append(cal.Days, day)
	}
	return cal, nil
}

// Stats counts complete days from the 1st through min(month end, today).
func (h *History) Stats(ctx context.Context, profileID int64, year int, month time.Month) (MonthStats, error) {
	first, last, err := monthBounds(year, month)
	if err != nil {
		return MonthStats{}, err
	}
	st := MonthStats{Year: year, Month: month}

	today := Today(h.clock)
	if first.After(today) {
		return st, nil
	}
	end := last
	if today.Before(end) {
		end = today
	}
	st.TotalDays = model.DaysBetween(first, end) + 1

	rows, err := h.days.ListDayCompletions(ctx, profileID, first, end)
	if err != nil {
		return MonthStats{}, fmt.Errorf("failed to load month: %w", err)
	}
	for _, dc := range rows {
		if dc.Complete {
			st.CompletedDays++
		}
	}
	st.CompletionRate = math.Round(float64(st.CompletedDays)/float64(st.TotalDays)*1000) / 10
	return st, nil
}
