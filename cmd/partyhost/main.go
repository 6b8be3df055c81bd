package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/mtarek-dev/partyhost/internal/games/freeplay"
	"github.com/mtarek-dev/partyhost/internal/server"
	"github.com/mtarek-dev/partyhost/pkg/config"
	"github.com/mtarek-dev/partyhost/pkg/logging"
	"github.com/mtarek-dev/partyhost/pkg/module"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	registry := module.NewRegistry()
	registry.Register(freeplay.New())
	logger.Info("Game modules registered", slog.Any("games", registry.IDs()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, registry)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
