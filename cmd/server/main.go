// Package main provides the entry point for the narration API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/narration-api/internal/bootstrap"
	"github.com/maauso/narration-api/internal/config"
	"github.com/maauso/narration-api/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting narration API",
		slog.Int("port", cfg.Port),
		slog.String("environment", cfg.Environment),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.Int("max_concurrent_segments", cfg.MaxConcurrentSegments),
		slog.Int("max_segment_size", cfg.MaxSegmentSize),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("nats_enabled", cfg.NATSEnabled()),
	)
	logger.Debug("effective configuration", slog.String("config", cfg.String()))

	ctx := context.Background()
	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logger.Error("failed to release dependencies", slog.String("error", err.Error()))
		}
	}()

	opts := []server.HandlerOption{server.WithMetricsHandler(deps.Telemetry.MetricsHandler())}
	for name, check := range deps.HealthChecks {
		opts = append(opts, server.WithHealthCheck(name, check))
	}
	handlers := server.NewHandlers(deps.GenerationService, logger, opts...)
	router := server.NewRouter(handlers, logger, server.DefaultConfig())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
