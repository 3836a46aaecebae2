package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "habitstreak/contracts/mq"
	"habitstreak/internal/model"
	"habitstreak/internal/service"
	"habitstreak/pkg/logger"
	"habitstreak/pkg/mq"
)

// SnapshotIngester is satisfied by *service.MetricSync.
type SnapshotIngester interface {
	Ingest(ctx context.Context, profileID int64, date time.Time, snapshot model.MetricSnapshot, units map[string]string) (service.AutoCheckResult, error)
}

type MetricSnapshotHandler struct {
	ingester SnapshotIngester
	logger   *zap.Logger
}

func NewMetricSnapshotHandler(ingester SnapshotIngester, logger *zap.Logger) *MetricSnapshotHandler {
	return &MetricSnapshotHandler{
		ingester: ingester,
		logger:   logger,
	}
}

// Handle applies a metric.snapshot.received event. Re-delivery is harmless:
// applying the same snapshot twice writes nothing the second time.
func (h *MetricSnapshotHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.MetricSnapshotPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal MetricSnapshotPayload", zap.Error(err))
		return fmt.Errorf("%w: %v", mq.ErrPermanent, err)
	}

	if p.ProfileID <= 0 {
		log.Error("Invalid profile_id in metric snapshot", zap.Int64("profile_id", p.ProfileID))
		return fmt.Errorf("%w: invalid profile_id %d", mq.ErrPermanent, p.ProfileID)
	}
	date, err := model.ParseDate(p.Date)
	if err != nil {
		log.Error("Invalid date in metric snapshot", zap.String("date", p.Date), zap.Error(err))
		return fmt.Errorf("%w: %v", mq.ErrPermanent, err)
	}
	if len(p.Metrics) == 0 {
		log.Debug("Empty metric snapshot, skipping", zap.Int64("profile_id", p.ProfileID))
		return nil
	}

	log.Info("Handling metric.snapshot.received event",
		zap.Int64("profile_id", p.ProfileID),
		zap.String("date", p.Date),
		zap.String("source", p.Source),
		zap.Int("metrics", len(p.Metrics)),
	)

	res, err := h.ingester.Ingest(ctx, p.ProfileID, date, model.MetricSnapshot(p.Metrics), p.Units)
	if err != nil {
		if errors.Is(err, model.ErrDateOutOfAllowedRange) {
			return fmt.Errorf("%w: %v", mq.ErrPermanent, err)
		}
		log.Error("Failed to ingest metric snapshot",
			zap.Int64("profile_id", p.ProfileID),
			zap.String("date", p.Date),
			zap.Error(err),
		)
		return err
	}

	for _, d := range res.Diagnostics {
		log.Warn("Gated task skipped",
			zap.Int64("task_id", d.TaskID),
			zap.String("metric_key", d.MetricKey),
			zap.String("reason", d.Reason),
		)
	}
	return nil
}
