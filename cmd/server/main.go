package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"habitstreak/internal/app"
	"habitstreak/internal/config"
	"habitstreak/pkg/logger"
	"habitstreak/pkg/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Log.Development)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting habitstreak server...",
		zap.String("storage", cfg.Storage),
		zap.String("timezone", cfg.Engine.Timezone),
		zap.String("port", cfg.Server.Port),
		zap.Bool("mq", cfg.MQ.URL != ""),
		zap.Bool("redis", cfg.Redis.Addr != ""),
	)

	shutdownTracing, err := otel.Init(ctx, otel.Config{
		ServiceName:    "habitstreak-server",
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

	bgDone := make(chan struct{})
	go func() {
		defer close(bgDone)
		if err := a.RunBackground(ctx); err != nil {
			log.Error("Background workers stopped with error", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	select {
	case <-bgDone:
	case <-shutdownCtx.Done():
		log.Warn("Background workers did not stop in time")
	}
	log.Info("Server exited")
}
