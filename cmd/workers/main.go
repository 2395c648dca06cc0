package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	v1 "carboniq/farm-portal/farm-portal-backend/api/v1"
	"carboniq/farm-portal/farm-portal-backend/internal/config"
)

// Standalone verification worker. Drains the outbox and re-enqueues stale farms.
// CONFIG_PATH selects the config file; WORKER_ONCE=true processes a single batch and exits.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := v1.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the API owns migrations
	cfg.Database.AutoMigrate = false
	db, sqlDB, err := v1.OpenDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}

	portal, err := v1.Setup(ctx, cfg, db, sqlDB, logger)
	if err != nil {
		logger.Fatal("Failed to set up portal", zap.Error(err))
	}
	defer portal.Close()

	worker, sweeper, err := portal.NewWorker()
	if err != nil {
		logger.Fatal("Failed to create verification worker", zap.Error(err))
	}

	if cfg.Worker.Once {
		if _, err := sweeper.Sweep(ctx); err != nil {
			logger.Error("Sweep failed", zap.Error(err))
		}
		n := worker.ProcessDue(ctx)
		logger.Info("Processed verification jobs", zap.Int("jobs", n))
		return
	}

	if cfg.Worker.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", portal.MetricsHandler())
		srv := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics listener failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sweeper.Start()
	defer sweeper.Stop()

	if err := worker.Start(ctx); err != nil {
		logger.Error("Verification worker failed", zap.Error(err))
	}
	logger.Info("Worker exiting")
}
