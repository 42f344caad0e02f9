// Command ingest runs one daily ingestion invocation and exits. It is meant
// to be triggered from OS cron on deployments that do not use the in-process
// scheduler. A duplicate run for the day exits cleanly.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"krxwatch/internal/app"
	"krxwatch/internal/config"
	"krxwatch/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New(logger.Config{})
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Ingest.Run(ctx, a.Today()); err != nil {
		log.Error().Err(err).Msg("Ingestion failed")
		a.Close()
		os.Exit(1)
	}
}
