// Package app assembles the engine and its infrastructure from config. Both
// the HTTP server and the worker binary start from Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	mqcontracts "habitstreak/contracts/mq"
	"habitstreak/internal/config"
	"habitstreak/internal/handler"
	"habitstreak/internal/httpserver"
	"habitstreak/internal/mqhandler"
	"habitstreak/internal/repository"
	"habitstreak/internal/service"
	"habitstreak/pkg/db"
	"habitstreak/pkg/lock"
	"habitstreak/pkg/mq"
	"habitstreak/pkg/outbox"
	"habitstreak/pkg/redis"
	"habitstreak/pkg/util"
)

const (
	metricSnapshotQueue = "habit.metric.snapshot.q"
	dayChangedQueue     = "habit.day.completion.changed.q"
	dedupTTL            = 48 * time.Hour
	localDedupSize      = 4096
)

type App struct {
	cfg    *config.Config
	logger *zap.Logger

	pool       *pgxpool.Pool
	rdb        *goredis.Client
	publisher  *mq.Publisher
	dispatcher *outbox.Dispatcher

	Clock     service.Clock
	Store     repository.Store
	Evaluator *service.Evaluator
	Auto      *service.AutoChecker
	Streak    *service.StreakCalculator
	Registry  *service.Registry
	Scheduler *service.Scheduler
	History   *service.History
	Sync      *service.MetricSync
	PunchList *service.PunchList
}

// Build connects every configured backend. Redis and RabbitMQ are optional:
// without Redis the day lock is process-local and snapshots are not
// deduplicated; without RabbitMQ events are dropped.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	clock, err := service.NewSystemClock(cfg.Engine.Timezone)
	if err != nil {
		return nil, err
	}
	a.Clock = clock

	switch cfg.Storage {
	case config.StoragePostgres:
		a.pool, err = db.NewConnection(ctx, cfg.DB, logger)
		if err != nil {
			return nil, err
		}
		pg := repository.NewPGStore(a.pool, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.Store = pg
	default:
		logger.Warn("Using in-memory storage, data is lost on restart")
		a.Store = repository.NewMemoryStore()
	}

	var locker lock.Locker = lock.NewKeyedLocker()
	if cfg.Redis.Addr != "" {
		a.rdb, err = redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		locker = lock.NewRedisLocker(a.rdb, cfg.Engine.LockTTL, logger)
		logger.Info("Using Redis day lock", zap.String("addr", cfg.Redis.Addr))
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.MQ.URL != "" {
		a.publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		events = a.publisher
		if a.pool != nil {
			// 事件先落 outbox，再由 dispatcher 投递
			box := outbox.NewPGStore(a.pool)
			if err := box.EnsureSchema(ctx); err != nil {
				a.Close()
				return nil, err
			}
			events = outbox.NewWriter(box)
			a.dispatcher = outbox.NewDispatcher(box, a.publisher, logger).
				WithInterval(cfg.MQ.OutboxInterval).
				WithBatchSize(cfg.MQ.OutboxBatchSize).
				WithMaxRetries(cfg.MQ.OutboxMaxRetries)
		}
	}

	a.Evaluator = service.NewEvaluator(a.Store, locker, events, clock,
		service.EvaluatorConfig{EmptyDayComplete: cfg.Engine.EmptyDayComplete}, logger)
	a.Auto = service.NewAutoChecker(a.Evaluator, logger)
	a.Streak = service.NewStreakCalculator(a.Store, logger)
	a.Registry = service.NewRegistry(a.Evaluator, logger)
	a.Scheduler = service.NewScheduler(a.Evaluator)
	a.History = service.NewHistory(a.Store, clock)
	a.PunchList = service.NewPunchList(a.Evaluator, a.Registry, service.PunchListConfig{
		ArchiveAfterDays: cfg.PunchList.ArchiveAfterDays,
		ArchiveInterval:  cfg.PunchList.ArchiveInterval,
	}, logger)
	a.Sync = service.NewMetricSync(a.Auto, service.NewStoredMetricProvider(a.Store), a.Store, a.Store, clock,
		service.MetricSyncConfig{Interval: cfg.Sync.Interval, LookbackDays: cfg.Sync.LookbackDays}, logger)
	if a.rdb != nil {
		a.Sync.WithDeduper(util.NewSnapshotDeduper(a.rdb, dedupTTL, logger))
	} else {
		local, err := util.NewLocalSnapshotDeduper(localDedupSize)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Sync.WithDeduper(local)
	}
	return a, nil
}

// Router builds the HTTP API on top of the engine.
func (a *App) Router() *gin.Engine {
	ready := map[string]httpserver.Pinger{}
	if a.pool != nil {
		ready["db"] = a.pool
	}
	if a.rdb != nil {
		rdb := a.rdb
		ready["redis"] = httpserver.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	if a.publisher != nil {
		pub := a.publisher
		ready["mq"] = httpserver.PingFunc(func(context.Context) error {
			if !pub.IsConnected() {
				return errors.New("publisher disconnected")
			}
			return nil
		})
	}

	return httpserver.NewRouter(httpserver.Handlers{
		Day:       handler.NewDayHandler(a.Evaluator, a.Streak, a.Sync, a.logger),
		Task:      handler.NewTaskHandler(a.Registry, a.Scheduler, a.logger).WithAutoSeed(a.cfg.Engine.SeedDefaults),
		History:   handler.NewHistoryHandler(a.History, a.logger),
		PunchList: handler.NewPunchListHandler(a.PunchList, a.logger),
	}, a.logger, ready)
}

// RunBackground runs the metric sync loop, the punch list archiver, the
// outbox dispatcher and the MQ consumers until ctx is done.
func (a *App) RunBackground(ctx context.Context) error {
	var consumers []*mq.Consumer
	if a.cfg.MQ.URL != "" {
		specs := []struct {
			queue, routingKey string
			handle            mq.MessageHandler
		}{
			{metricSnapshotQueue, mqcontracts.RoutingKeyMetricSnapshotReceived, mqhandler.NewMetricSnapshotHandler(a.Sync, a.logger).Handle},
			{dayChangedQueue, mqcontracts.RoutingKeyDayCompletionChanged, mqhandler.NewDayCompletionChangedHandler(a.Streak, a.logger).Handle},
		}
		for _, spec := range specs {
			c, err := mq.NewConsumer(a.cfg.MQ.URL, spec.queue, spec.routingKey, a.logger)
			if err != nil {
				for _, started := range consumers {
					started.Close()
				}
				return fmt.Errorf("failed to init %s consumer: %w", spec.routingKey, err)
			}
			c.SetHandler(spec.handle)
			consumers = append(consumers, c)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(consumers))

	if a.cfg.Sync.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Sync.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.PunchList.Run(ctx)
	}()
	if a.dispatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.dispatcher.Start(ctx)
		}()
	}
	for _, c := range consumers {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.Close()
			if err := c.StartConsuming(ctx); err != nil {
				a.logger.Error("Consumer stopped", zap.Error(err))
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)
	return <-errCh
}

func (a *App) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
