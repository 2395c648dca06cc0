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

	logger.Info("Connecting to database",
		zap.String("host", cfg.Database.Host),
		zap.String("db_name", cfg.Database.DBName))
	db, sqlDB, err := v1.OpenDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}

	portal, err := v1.Setup(ctx, cfg, db, sqlDB, logger)
	if err != nil {
		logger.Fatal("Failed to set up portal", zap.Error(err))
	}
	defer portal.Close()

	if cfg.Search.Enabled {
		go func() {
			n, err := portal.Marketplace.Reindex(ctx)
			if err != nil {
				logger.Warn("Search reindex failed", zap.Error(err))
				return
			}
			logger.Info("Search index rebuilt", zap.Int("listings", n))
		}()
	}

	if cfg.Worker.Embedded {
		worker, sweeper, err := portal.NewWorker()
		if err != nil {
			logger.Fatal("Failed to create verification worker", zap.Error(err))
		}
		sweeper.Start()
		defer sweeper.Stop()
		go func() {
			if err := worker.Start(ctx); err != nil {
				logger.Error("Verification worker stopped", zap.Error(err))
			}
		}()
		defer worker.Stop()
	}

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      portal.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Listen failed", zap.Error(err))
		}
	}()
	logger.Info("Server started", zap.String("addr", srv.Addr))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
