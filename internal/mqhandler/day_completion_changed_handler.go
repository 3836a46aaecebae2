package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "habitstreak/contracts/mq"
	"habitstreak/internal/model"
	"habitstreak/internal/service"
	"habitstreak/pkg/logger"
	"habitstreak/pkg/mq"
)

// StreakReader is satisfied by *service.StreakCalculator.
type StreakReader interface {
	CurrentStreak(ctx context.Context, profileID int64, asOf time.Time) (service.Streak, error)
}

// DayCompletionChangedHandler recomputes the current streak whenever a day
// flips and logs the result for downstream notification.
type DayCompletionChangedHandler struct {
	streaks StreakReader
	logger  *zap.Logger
}

func NewDayCompletionChangedHandler(streaks StreakReader, logger *zap.Logger) *DayCompletionChangedHandler {
	return &DayCompletionChangedHandler{
		streaks: streaks,
		logger:  logger,
	}
}

func (h *DayCompletionChangedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.DayCompletionChangedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal DayCompletionChangedPayload", zap.Error(err))
		return fmt.Errorf("%w: %v", mq.ErrPermanent, err)
	}
	date, err := model.ParseDate(p.Date)
	if err != nil {
		return fmt.Errorf("%w: %v", mq.ErrPermanent, err)
	}

	streak, err := h.streaks.CurrentStreak(ctx, p.ProfileID, date)
	if err != nil {
		log.Error("Failed to compute streak",
			zap.Int64("profile_id", p.ProfileID),
			zap.String("date", p.Date),
			zap.Error(err),
		)
		return err
	}

	log.Info("Day completion changed",
		zap.Int64("profile_id", p.ProfileID),
		zap.String("date", p.Date),
		zap.Bool("complete", p.Complete),
		zap.Int64("version", p.Version),
		zap.Int("streak", streak.Count),
	)
	return nil
}
