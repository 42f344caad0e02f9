// Package app wires the full application graph. The server binary and the
// one-shot job binaries share the same bootstrap so that a job run from cron
// behaves identically to one triggered by the in-process scheduler.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"krxwatch/internal/calendar"
	"krxwatch/internal/clients/provider"
	"krxwatch/internal/config"
	"krxwatch/internal/database"
	"krxwatch/internal/jobs"
	"krxwatch/internal/modules/advisor"
	"krxwatch/internal/modules/analysis"
	"krxwatch/internal/modules/ledger"
	"krxwatch/internal/modules/marketdata"
	"krxwatch/internal/modules/registry"
	"krxwatch/internal/modules/screener"
	"krxwatch/internal/reliability"
)

// App holds the wired application graph.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Databases []*database.DB
	Universe  *database.DB
	History   *database.DB
	Analysis  *database.DB
	Jobs      *database.DB
	Cache     *database.DB

	Calendar *calendar.Calendar
	Location *time.Location

	Registry *registry.Repository
	Prices   *marketdata.Repository
	Results  *analysis.Repository
	Ledger   *ledger.Repository

	Ingest  *jobs.IngestJob
	Analyze *jobs.AnalyzeJob

	Screener *screener.Service
	Advisor  *advisor.Service
	Backup   *reliability.Backup
}

// New builds the application graph from configuration. The caller owns the
// returned App and must Close it.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange timezone: %w", err)
	}
	a.Location = loc

	if err := a.openDatabases(); err != nil {
		a.Close()
		return nil, err
	}

	a.Calendar = calendar.New(log)
	if cfg.HolidayFile != "" {
		if err := a.Calendar.LoadHolidayFile(cfg.HolidayFile); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load holiday file: %w", err)
		}
	}

	a.Registry = registry.NewRepository(a.Universe.Conn(), log)
	a.Prices = marketdata.NewRepository(a.History.Conn(), log)
	a.Results = analysis.NewRepository(a.Analysis.Conn(), log)
	a.Ledger = ledger.NewRepository(a.Jobs.Conn(), log)

	payloadCache := provider.NewCache(a.Cache.Conn(), log)
	fetcher := provider.NewClient(provider.Config{
		BaseURL:    cfg.ProviderBaseURL,
		Timeout:    cfg.ProviderTimeout,
		MaxRetries: cfg.ProviderMaxRetries,
		RateLimit:  cfg.ProviderRateLimit,
		Backoff:    cfg.ProviderBackoff,
	}, payloadCache, log)

	var historyFloor time.Time
	if cfg.IngestHistoryFloor != "" {
		historyFloor, err = time.Parse(calendar.DateFormat, cfg.IngestHistoryFloor)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid ingest history floor: %w", err)
		}
	}

	a.Ingest = jobs.NewIngestJob(jobs.IngestConfig{
		HistoryFloor: historyFloor,
		StaleAfter:   cfg.IngestStaleAfter,
		MaxErrorRate: cfg.IngestMaxErrorRate,
	}, a.Ledger, a.Registry, a.Prices, fetcher, a.Calendar, log)

	a.Analyze = jobs.NewAnalyzeJob(jobs.AnalyzeConfig{
		TimeBudget:   cfg.AnalysisTimeBudget,
		Quota:        cfg.AnalysisQuota,
		LookbackDays: cfg.AnalysisLookbackDays,
		KeepDays:     cfg.AnalysisKeepDays,
		StaleAfter:   cfg.AnalysisStaleAfter,
	}, a.Ledger, a.Registry, a.Prices, a.Results, analysis.NewAnalyzer(log), log)

	a.Backup = reliability.NewBackup(ctx, reliability.BackupConfig{
		Bucket: cfg.BackupBucket,
		Prefix: cfg.BackupPrefix,
	}, log)
	a.Ingest.OnComplete(func(ctx context.Context, date time.Time) {
		a.Backup.Snapshot(ctx, date, a.Universe, a.History, a.Analysis, a.Jobs)
	})

	a.Screener = screener.NewService(a.Registry, a.Prices, a.Results, log)
	a.Advisor = advisor.NewService(advisor.Config{
		APIKey: cfg.AnthropicAPIKey,
		Model:  cfg.AdvisorModel,
	}, a.Screener, a.Registry, a.Prices, a.Results, log)

	return a, nil
}

func (a *App) openDatabases() error {
	open := func(name string, profile database.Profile) (*database.DB, error) {
		db, err := database.New(database.Config{
			Path:    filepath.Join(a.Config.DataDir, name+".db"),
			Profile: profile,
			Name:    name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open %s database: %w", name, err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
		}
		a.Databases = append(a.Databases, db)
		return db, nil
	}

	var err error
	if a.Universe, err = open("universe", database.ProfileStandard); err != nil {
		return err
	}
	if a.History, err = open("history", database.ProfileStandard); err != nil {
		return err
	}
	if a.Analysis, err = open("analysis", database.ProfileStandard); err != nil {
		return err
	}
	if a.Jobs, err = open("jobs", database.ProfileLedger); err != nil {
		return err
	}
	if a.Cache, err = open("cache", database.ProfileCache); err != nil {
		return err
	}
	return nil
}

// Today returns the current logical date in exchange time. Jobs resolve it
// once at invocation start.
func (a *App) Today() time.Time {
	return time.Now().In(a.Location)
}

// Close closes all open databases.
func (a *App) Close() {
	for _, db := range a.Databases {
		if err := db.Close(); err != nil {
			a.Log.Error().Err(err).Str("database", db.Name()).Msg("Failed to close database")
		}
	}
}
