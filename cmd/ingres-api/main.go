// Package main provides the INGRES assistant API server entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ingres-ai/ingres-assistant/internal/api/connectapi"
	"github.com/ingres-ai/ingres-assistant/internal/app"
	"github.com/ingres-ai/ingres-assistant/internal/config"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
)

func main() {
	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Str("embedding", cfg.Embedding.Provider).
		Msg("Starting INGRES assistant API")

	// Initialize assistant
	startCtx, cancelStart := context.WithCancel(context.Background())
	a, err := app.New(startCtx, cfg, logger, app.Options{})
	cancelStart()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialise assistant")
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("Close failed")
		}
	}()

	// Create router
	path, rpcHandler := connectapi.NewHandler(connectapi.NewAssistantService(logger, a.Assistant))
	router := NewRouter(logger, cfg.Server, a.Assistant, &RPCMount{Path: path, Handler: rpcHandler})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	// Wait for interrupt or error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server error")
		}
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}
