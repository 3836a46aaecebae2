package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/internal/repository"
	"habitstreak/pkg/logger"
	"habitstreak/pkg/metrics"
	"habitstreak/pkg/otel"
)

// streakWindow is how many days of DayCompletion rows one read loads.
const streakWindow = 30

// Streak is the current run of complete days ending at AsOf or the day
// before it.
type Streak struct {
	ProfileID     int64     `json:"profile_id"`
	AsOf          time.Time `json:"-"`
	Count         int       `json:"count"`
	TodayComplete bool      `json:"today_complete"`
	// LastCompletedDate is the newest day of the run, nil when Count is 0.
	LastCompletedDate *time.Time `json:"-"`
}

func (s Streak) MarshalJSON() ([]byte, error) {
	type alias Streak
	var last *string
	if s.LastCompletedDate != nil {
		v := model.FormatDate(*s.LastCompletedDate)
		last = &v
	}
	return json.Marshal(struct {
		alias
		AsOf              string  `json:"as_of"`
		LastCompletedDate *string `json:"last_completed_date"`
	}{alias: alias(s), AsOf: model.FormatDate(s.AsOf), LastCompletedDate: last})
}

type StreakCalculator struct {
	days   repository.DayStore
	logger *zap.Logger
}

func NewStreakCalculator(days repository.DayStore, logger *zap.Logger) *StreakCalculator {
	return &StreakCalculator{days: days, logger: logger}
}

// CurrentStreak walks DayCompletion backward from asOf. An incomplete asOf
// does not break the run that ended the day before; a missing row counts as
// incomplete. All reads share one snapshot.
func (s *StreakCalculator) CurrentStreak(ctx context.Context, profileID int64, asOf time.Time) (Streak, error) {
	ctx, span := otel.StartSpan(ctx, "streak.CurrentStreak", attribute.Int64("profile_id", profileID))
	asOf = model.DateOf(asOf)
	st := Streak{ProfileID: profileID, AsOf: asOf}

	err := s.days.ReadSnapshot(ctx, func(r repository.DayReader) error {
		w := &dayWindow{reader: r, profileID: profileID}

		today, err := w.complete(ctx, asOf)
		if err != nil {
			return err
		}
		st.TodayComplete = today
		if today {
			st.Count = 1
			d := asOf
			st.LastCompletedDate = &d
		}

		for cursor := model.AddDays(asOf, -1); ; cursor = model.AddDays(cursor, -1) {
			ok, err := w.complete(ctx, cursor)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			st.Count++
			if st.LastCompletedDate == nil {
				d := cursor
				st.LastCompletedDate = &d
			}
		}
	})
	otel.EndSpan(span, err)
	if err != nil {
		return Streak{}, fmt.Errorf("failed to compute streak: %w", err)
	}

	metrics.RecordStreakLength(st.Count)
	logger.WithTrace(ctx, s.logger).Debug("Computed streak",
		zap.Int64("profile_id", profileID),
		zap.String("as_of", model.FormatDate(asOf)),
		zap.Int("count", st.Count),
	)
	return st, nil
}

// dayWindow caches DayCompletion rows in fixed-size windows ending at the
// first date asked for outside the cache.
type dayWindow struct {
	reader    repository.DayReader
	profileID int64
	from, to  time.Time
	loaded    bool
	byDate    map[time.Time]bool
}

func (w *dayWindow) complete(ctx context.Context, date time.Time) (bool, error) {
	if !w.loaded || date.Before(w.from) || date.After(w.to) {
		w.to = date
		w.from = model.AddDays(date, -(streakWindow - 1))
		rows, err := w.reader.ListDayCompletions(ctx, w.profileID, w.from, w.to)
		if err != nil {
			return false, err
		}
		w.byDate = make(map[time.Time]bool, len(rows))
		for _, dc := range rows {
			w.byDate[model.DateOf(dc.Date)] = dc.Complete
		}
		w.loaded = true
	}
	return w.byDate[date], nil
}
