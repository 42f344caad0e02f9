package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"krxwatch/internal/app"
	"krxwatch/internal/config"
	"krxwatch/internal/jobs"
	"krxwatch/internal/scheduler"
	"krxwatch/internal/server"
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

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting krxwatch")

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if cfg.SchedulerEnabled {
		sched := scheduler.New(a.Location, log)
		if err := sched.AddJob(cfg.IngestSchedule, a.Ingest); err != nil {
			log.Fatal().Err(err).Msg("Failed to register ingest job")
		}
		if err := sched.AddJobWithDate(cfg.AnalysisSchedule, a.Analyze, jobs.AnalysisLogicalDate); err != nil {
			log.Fatal().Err(err).Msg("Failed to register analyze job")
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := server.New(server.Config{
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Log:       log,
		Location:  a.Location,
		Registry:  a.Registry,
		Prices:    a.Prices,
		Analysis:  a.Results,
		Ledger:    a.Ledger,
		Screener:  a.Screener,
		Advisor:   a.Advisor,
		Databases: a.Databases,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
