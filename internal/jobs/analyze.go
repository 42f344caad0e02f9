package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"krxwatch/internal/modules/analysis"
	"krxwatch/internal/modules/ledger"
	"krxwatch/internal/modules/marketdata"
	"krxwatch/internal/modules/registry"
)

// marketOpenHour is the KRX session open (09:00 exchange time). Triggers
// before it belong to the previous session's backlog.
const marketOpenHour = 9

// AnalysisLogicalDate maps a wall-clock trigger time to the analysis job's
// logical date. Overnight slots (00:10 through 08:10) fire before the market
// opens, when the freshest completed ingestion is still the previous day's;
// without the rollback every one of them would fail the ingestion gate and
// the backlog would only ever see the evening slots.
func AnalysisLogicalDate(now time.Time) time.Time {
	if now.Hour() < marketOpenHour {
		return now.AddDate(0, 0, -1)
	}
	return now
}

// AnalyzeConfig holds analysis job configuration.
type AnalyzeConfig struct {
	// TimeBudget caps wall-clock time per invocation. Zero means unbounded.
	TimeBudget time.Duration

	// Quota caps tickers processed per invocation. Zero means unbounded.
	Quota int

	// LookbackDays is how far back raw prices are loaded per ticker.
	LookbackDays int

	// KeepDays is how many trailing indicator rows are stored per ticker.
	KeepDays int

	// StaleAfter is how old a running invocation must be before the next
	// invocation reclassifies it as failed. Zero disables the reap.
	StaleAfter time.Duration
}

// AnalyzeJob computes technical indicators for every active ticker that has
// not been analyzed for the invocation's logical date. It is built to run
// many times per day from a scheduler: each invocation takes a slice of the
// backlog in market-cap order, commits per ticker, and stops at its quota or
// time budget. Completion state lives on the ticker itself, so overlapping or
// interrupted invocations converge without coordination.
type AnalyzeJob struct {
	cfg      AnalyzeConfig
	ledger   *ledger.Repository
	registry *registry.Repository
	prices   *marketdata.Repository
	results  *analysis.Repository
	analyzer Analyzer
	log      zerolog.Logger

	// now is swappable in tests to drive the time budget.
	now func() time.Time
}

// NewAnalyzeJob creates the analysis job.
func NewAnalyzeJob(
	cfg AnalyzeConfig,
	ledgerRepo *ledger.Repository,
	registryRepo *registry.Repository,
	pricesRepo *marketdata.Repository,
	resultsRepo *analysis.Repository,
	analyzer Analyzer,
	log zerolog.Logger,
) *AnalyzeJob {
	return &AnalyzeJob{
		cfg:      cfg,
		ledger:   ledgerRepo,
		registry: registryRepo,
		prices:   pricesRepo,
		results:  resultsRepo,
		analyzer: analyzer,
		log:      log.With().Str("job", ledger.JobAnalyze).Logger(),
		now:      time.Now,
	}
}

// Name returns the job's ledger name.
func (j *AnalyzeJob) Name() string {
	return ledger.JobAnalyze
}

// Run executes one analysis invocation for the given logical date.
// It is a clean no-op when ingestion has not completed for the date or when
// the backlog is empty.
func (j *AnalyzeJob) Run(ctx context.Context, today time.Time) error {
	dateStr := today.Format("2006-01-02")

	ready, err := j.ledger.IsCompletedFor(ledger.JobIngest, today)
	if err != nil {
		return fmt.Errorf("failed to check ingestion status: %w", err)
	}
	if !ready {
		j.log.Info().Str("date", dateStr).Msg("Ingestion not completed yet, skipping analysis")
		return nil
	}

	handle, err := j.ledger.StartInvocation(ledger.JobAnalyze, today, j.cfg.StaleAfter)
	if err != nil {
		return fmt.Errorf("failed to open ledger invocation: %w", err)
	}

	backlog, err := j.registry.PendingAnalysis(today)
	if err != nil {
		if finishErr := j.ledger.FinishInvocation(handle, ledger.StatusFailed, "backlog query failed"); finishErr != nil {
			j.log.Error().Err(finishErr).Msg("Failed to record invocation failure")
		}
		return fmt.Errorf("failed to load analysis backlog: %w", err)
	}
	if len(backlog) == 0 {
		j.log.Info().Str("date", dateStr).Msg("Analysis backlog empty, nothing to do")
		return j.ledger.FinishInvocation(handle, ledger.StatusCompleted, "processed 0, failed 0 of 0 backlog")
	}

	deadline := time.Time{}
	if j.cfg.TimeBudget > 0 {
		deadline = j.now().Add(j.cfg.TimeBudget)
	}

	j.log.Info().Str("date", dateStr).Int("backlog", len(backlog)).Msg("Starting analysis invocation")

	processed := 0
	failed := 0
	budgetHit := false

	for _, t := range backlog {
		if err := ctx.Err(); err != nil {
			detail := fmt.Sprintf("canceled after %d tickers", processed)
			if finishErr := j.ledger.FinishInvocation(handle, ledger.StatusFailed, detail); finishErr != nil {
				j.log.Error().Err(finishErr).Msg("Failed to record invocation failure")
			}
			return err
		}
		if j.cfg.Quota > 0 && processed >= j.cfg.Quota {
			break
		}
		if !deadline.IsZero() && !j.now().Before(deadline) {
			budgetHit = true
			break
		}

		if err := j.analyzeTicker(ctx, t.Ticker, today); err != nil {
			// One bad ticker must not stall the backlog; it stays
			// unmarked and is retried on the next invocation.
			failed++
			j.log.Error().Err(err).Str("ticker", t.Ticker).Msg("Ticker analysis failed")
			continue
		}
		processed++
	}

	detail := fmt.Sprintf("processed %d, failed %d of %d backlog", processed, failed, len(backlog))
	if budgetHit {
		detail += " (time budget reached)"
	}
	if err := j.ledger.FinishInvocation(handle, ledger.StatusCompleted, detail); err != nil {
		return fmt.Errorf("failed to close ledger invocation: %w", err)
	}

	j.log.Info().
		Int("processed", processed).
		Int("failed", failed).
		Int("remaining", len(backlog)-processed-failed).
		Bool("budget_hit", budgetHit).
		Msg("Analysis invocation finished")
	return nil
}

// analyzeTicker computes and stores indicators for one ticker, then marks it
// analyzed. The marker is written only after the rows are committed, so a
// crash between the two just means one extra recomputation later.
func (j *AnalyzeJob) analyzeTicker(ctx context.Context, ticker string, today time.Time) error {
	from := today.AddDate(0, 0, -j.cfg.LookbackDays)
	candles, err := j.prices.GetRange(ticker, from, today)
	if err != nil {
		return fmt.Errorf("failed to load prices: %w", err)
	}

	var rows []analysis.IndicatorRow
	if len(candles) >= analysis.MinCandles {
		rows, err = j.analyzer.Analyze(candles, j.cfg.KeepDays)
		if err != nil {
			return fmt.Errorf("failed to compute indicators: %w", err)
		}
	} else {
		// Newly listed tickers without enough history are marked anyway so
		// they do not clog the backlog every invocation.
		j.log.Debug().Str("ticker", ticker).Int("candles", len(candles)).Msg("Insufficient history, skipping indicators")
	}

	if len(rows) > 0 {
		if err := j.results.ReplaceForTicker(ticker, rows); err != nil {
			return fmt.Errorf("failed to store indicators: %w", err)
		}
	}

	if err := j.registry.UpdateLastAnalyzedDate(ticker, today); err != nil {
		return fmt.Errorf("failed to mark ticker analyzed: %w", err)
	}
	return nil
}
