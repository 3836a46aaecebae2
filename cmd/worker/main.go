package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"habitstreak/internal/app"
	"habitstreak/internal/config"
	"habitstreak/pkg/logger"
	"habitstreak/pkg/otel"
)

// The worker runs metric sync, the outbox dispatcher and the MQ consumers
// without the HTTP API. It needs shared storage to be useful.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Log.Development)
	defer log.Sync()

	if cfg.Storage != config.StoragePostgres {
		log.Fatal("Worker requires postgres storage", zap.String("storage", cfg.Storage))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, otel.Config{
		ServiceName:    "habitstreak-worker",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.OTel.Endpoint,
		Enabled:        cfg.OTel.Enabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to build app", zap.Error(err))
	}
	defer a.Close()

	log.Info("Worker started",
		zap.Bool("metric_sync", cfg.Sync.Enabled),
		zap.Duration("sync_interval", cfg.Sync.Interval),
	)
	if err := a.RunBackground(ctx); err != nil {
		log.Error("Worker stopped with error", zap.Error(err))
		return
	}
	log.Info("Worker exited")
}
