// Package main is the entry point for the Nexus portfolio coordination service.
//
// The service accepts user cash flows and profile changes, turns them into
// target allocations and trade decisions, and delegates execution to workers
// through the task orchestrator.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/nexus/internal/config"
	"github.com/aristath/nexus/internal/di"
	"github.com/aristath/nexus/internal/server"
	"github.com/aristath/nexus/pkg/logger"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	log.Info().
		Str("environment", cfg.Environment).
		Str("storage", cfg.StorageBackend).
		Str("transport", cfg.Transport.Kind).
		Msg("Starting Nexus")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Databases, services, transport, workers and jobs
	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	container.Start(ctx, log)

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Version:   getEnv("VERSION", "dev"),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// In-flight requests get 10 seconds to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancel()
	container.Close(log)

	log.Info().Msg("Server stopped")
}
