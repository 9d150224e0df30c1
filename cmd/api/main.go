// Package main is the entry point for the cookalert API server.
//
// It loads configuration, builds the shared container (event store, delay
// queue, reminder scheduler), mounts the event and device handlers on the
// core chassis and serves HTTP until SIGINT or SIGTERM.
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

	"cookalert/internal/api/handlers"
	"cookalert/internal/app"
	"cookalert/internal/config"
	"cookalert/internal/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel, cfg.Service)
	logger.Info("cookalert API starting",
		"environment", cfg.Environment,
		"build", cfg.Build.String(),
		"port", cfg.Server.Port,
		"db_type", cfg.Database.Type,
		"queue_backend", cfg.Queue.Backend,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := app.New(startCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building dependencies: %w", err)
	}

	srv, err := buildServer(cfg, c, logger)
	if err != nil {
		_ = c.Close()
		return err
	}

	return runHTTPServer(srv, cfg, logger)
}

// buildServer mounts the API routes over the container's dependencies. The
// server owns the container's closers from here on.
func buildServer(cfg *config.Config, c *app.Container, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	eventHandler := handlers.NewEventHandler(c.EventService(), srv.Validator, logger)
	deviceHandler := handlers.NewDeviceHandler(c.Devices, srv.Validator, logger)

	srv.RouteRegistrars = append(srv.RouteRegistrars,
		eventHandler.RegisterRoutes,
		deviceHandler.RegisterRoutes,
	)
	srv.HealthProbes = c.Probes
	srv.Closers = c.Closers()

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer serves until a shutdown signal or a listener error, then
// drains in-flight requests and releases resources.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
