// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs the WebSocket server daemon with metrics and health
// endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/astradot/websocket/examples/echo"
	"github.com/astradot/websocket/pkg/health"
	"github.com/astradot/websocket/pkg/metrics"
	"github.com/astradot/websocket/pkg/server"
)

const envPrefix = "WSD_"

// Config holds the daemon configuration.
type Config struct {
	// Listen addresses
	Address        string `env:"ADDRESS"         envDefault:":8080"`
	MetricsAddress string `env:"METRICS_ADDRESS" envDefault:":9090"`
	HealthAddress  string `env:"HEALTH_ADDRESS"  envDefault:":8081"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Connection tuning
	QueueCapacity   int   `env:"QUEUE_CAPACITY"    envDefault:"64"`
	MaxFramePayload int64 `env:"MAX_FRAME_PAYLOAD" envDefault:"33554432"`
	WorkerPoolSize  int   `env:"WORKER_POOL_SIZE"  envDefault:"10000"`

	// Accept rate limiting (0 disables)
	AcceptCapacity int64 `env:"ACCEPT_CAPACITY" envDefault:"0"`
	AcceptRefill   int64 `env:"ACCEPT_REFILL"   envDefault:"0"`

	// Resource limits
	MaxGoroutines int `env:"MAX_GOROUTINES" envDefault:"50000"`

	// Timeouts
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

func main() {
	// .env file is optional.
	_ = godotenv.Load()

	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	m := metrics.New("wsd", prometheus.DefaultRegisterer)

	srv, err := server.New(server.Config{
		QueueCapacity:   cfg.QueueCapacity,
		MaxFramePayload: cfg.MaxFramePayload,
		WorkerPoolSize:  cfg.WorkerPoolSize,
		AcceptCapacity:  cfg.AcceptCapacity,
		AcceptRefill:    cfg.AcceptRefill,
		Metrics:         m,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Handlers are registered before serving begins. The echo handler
	// serves both bare connections and the "echo" subprotocol.
	echoHandler := echo.New(logger)
	srv.RegisterHandler("", echoHandler)
	srv.RegisterHandler("echo", echoHandler)

	healthChecker := health.NewChecker()
	healthChecker.Register("goroutines", func(ctx context.Context) error {
		count := runtime.NumGoroutine()
		if count > cfg.MaxGoroutines {
			return fmt.Errorf("too many goroutines: %d > %d", count, cfg.MaxGoroutines)
		}
		return nil
	})
	healthChecker.Register("connections", func(ctx context.Context) error {
		logger.Debug("connection registry", slog.Int("count", srv.ConnCount()))
		return nil
	})

	go startMetricsServer(cfg.MetricsAddress, logger)
	go startHealthServer(cfg.HealthAddress, healthChecker, logger)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	if err := srv.Listen(cfg.Address); err != nil {
		logger.Error("failed to listen", slog.String("error", err.Error()))
		os.Exit(1)
	}

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	g.Go(func() error {
		<-ctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stopCancel()
		return srv.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("wsd terminated with error: %s", err))
	} else {
		logger.Info("wsd stopped")
	}
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

func startMetricsServer(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics server started", slog.String("address", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", slog.String("error", err.Error()))
	}
}

func startHealthServer(addr string, checker *health.Checker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/health", checker.HTTPHandler())
	logger.Info("health server started", slog.String("address", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("health server failed", slog.String("error", err.Error()))
	}
}

// StopSignalHandler cancels the run context on SIGINT or SIGTERM.
func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
