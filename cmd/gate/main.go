package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/compliance-gate/internal/api"
	"github.com/ignite/compliance-gate/internal/app"
	"github.com/ignite/compliance-gate/internal/config"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
	"github.com/ignite/compliance-gate/internal/telemetry"
)

func main() {
	configPath := os.Getenv("GATE_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l, err := logger.New(logger.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: cfg.Telemetry.ServiceName,
		RedactPII:   cfg.Logging.Redact(),
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	logger.SetDefault(l)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.Runner != nil {
		go a.Runner.Start(ctx)
	} else {
		logger.Info("lockdown monitor disabled")
	}

	server := api.NewServer(cfg.Server, a.Handlers(), a.Health)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("compliance gate listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			done <- syscall.SIGTERM
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
