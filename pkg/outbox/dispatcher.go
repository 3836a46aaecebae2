package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"habitstreak/pkg/trace"
)

// Sink is where dispatched events go; *mq.Publisher satisfies it.
type Sink interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
type Dispatcher struct {
	store      Store
	sink       Sink
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

func NewDispatcher(store Store, sink Sink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		sink:       sink,
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
	}
}

func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	d.maxRetries = maxRetries
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	d.batchSize = batchSize
	return d
}

// Start blocks, draining the outbox every interval until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting outbox dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox dispatcher stopped")
			return
		case <-ticker.C:
			d.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce publishes one batch of pending events and returns how many
// were sent.
func (d *Dispatcher) ProcessOnce(ctx context.Context) int {
	events, err := d.store.Pending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to get pending events", zap.Error(err))
		return 0
	}

	sent := 0
	for _, e := range events {
		pubCtx := ctx
		if e.TraceID != "" {
			pubCtx = trace.WithContext(ctx, e.TraceID)
		}
		// payload 已是 JSON，原样转发
		if err := d.sink.Publish(pubCtx, e.RoutingKey, e.Payload); err != nil {
			d.logger.Warn("Failed to publish outbox event",
				zap.Int64("event_id", e.ID),
				zap.String("routing_key", e.RoutingKey),
				zap.Int("retry_count", e.RetryCount),
				zap.Error(err),
			)
			if err := d.store.MarkFailed(ctx, e.ID, d.maxRetries); err != nil {
				d.logger.Error("Failed to mark event as failed", zap.Int64("event_id", e.ID), zap.Error(err))
			}
			continue
		}

		if err := d.store.MarkSent(ctx, e.ID); err != nil {
			d.logger.Error("Failed to mark event as sent", zap.Int64("event_id", e.ID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		d.logger.Debug("Outbox batch dispatched", zap.Int("sent", sent), zap.Int("batch", len(events)))
	}
	return sent
}
