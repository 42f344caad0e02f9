// Command analyze runs one analysis invocation and exits. It is meant to be
// triggered from OS cron many times per day; each invocation drains a slice
// of the day's backlog. It exits cleanly when ingestion has not completed
// for the day or when the backlog is empty.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"krxwatch/internal/app"
	"krxwatch/internal/config"
	"krxwatch/internal/jobs"
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

	if err := a.Analyze.Run(ctx, jobs.AnalysisLogicalDate(a.Today())); err != nil {
		log.Error().Err(err).Msg("Analysis failed")
		a.Close()
		os.Exit(1)
	}
}
