package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/api"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/app"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/audit"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/config"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("dataagent-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Build(ctx, cfg, logger, audit.SourceAPI)
	if err != nil {
		logger.Error("failed to initialize data agent", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = application.Close() }()

	deps, err := application.APIDependencies()
	if err != nil {
		logger.Error("failed to configure api", slog.Any("error", err))
		os.Exit(1)
	}
	if err := api.Serve(ctx, cfg, api.NewHandler(cfg, deps), logger); err != nil {
		logger.Error("api server failed", slog.Any("error", err))
		_ = application.Close()
		os.Exit(1)
	}
}
