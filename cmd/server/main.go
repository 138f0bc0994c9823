package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snapshelf/internal/server/api"
	"snapshelf/internal/server/config"
	"snapshelf/internal/server/database"
	"snapshelf/internal/server/service"
	"snapshelf/internal/server/storage"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_path", cfg.StoragePath,
		"staging_path", cfg.StagingPath,
		"thumb_width", cfg.ThumbWidth,
		"upload_workers", cfg.UploadWorkers,
		"max_file_size", cfg.MaxFileSize,
	)

	ctx := context.Background()
	repo, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	store := storage.NewPhotoStore(cfg.StoragePath, cfg.ThumbWidth)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.StagingPath, 0755); err != nil {
		slog.Error("failed to initialize staging area", "error", err)
		os.Exit(1)
	}
	slog.Info("photo storage initialized", "path", cfg.StoragePath, "staging", cfg.StagingPath)

	svc := service.NewUploadService(repo, store, cfg)

	// Abandoned upload sessions are swept from staging
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := storage.NewStagingSweeper(cfg.StagingPath, cfg.StagingTTL, cfg.CleanupInterval)
	sweeper.Start(sweepCtx)

	handler := api.NewHandler(svc, repo)
	e := api.SetupRouter(handler, cfg)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	sweepCancel()
	sweeper.Wait()

	slog.Info("server exited cleanly")
}
