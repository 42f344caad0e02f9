package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"krxwatch/internal/modules/ledger"
	"krxwatch/internal/modules/marketdata"
	"krxwatch/internal/modules/registry"
)

// IngestConfig holds ingestion job configuration.
type IngestConfig struct {
	// HistoryFloor is the earliest date replayed when the ledger has no
	// completed run. Zero means start at the invocation's logical date.
	HistoryFloor time.Time

	// StaleAfter is the age past which a running ledger entry is orphaned.
	StaleAfter time.Duration

	// MaxErrorRate is the fraction of tickers allowed to fail on a date
	// before the whole date (and the run) is failed.
	MaxErrorRate float64
}

// IngestJob brings raw daily prices up to date through the invocation's
// logical date, replaying every business day missed since the last completed
// run. The ledger's last completed date is its sole resumption checkpoint:
// recovery from any outage is a single linear replay, and upsert semantics
// make replays idempotent.
type IngestJob struct {
	cfg      IngestConfig
	ledger   *ledger.Repository
	registry *registry.Repository
	prices   *marketdata.Repository
	fetcher  Fetcher
	cal      BusinessCalendar
	log      zerolog.Logger

	// snapshot, when set, runs after a completed run. Best effort.
	snapshot func(ctx context.Context, date time.Time)
}

// OnComplete registers a hook invoked after each completed run, typically
// the snapshot backup.
func (j *IngestJob) OnComplete(fn func(ctx context.Context, date time.Time)) {
	j.snapshot = fn
}

// NewIngestJob creates the ingestion job.
func NewIngestJob(
	cfg IngestConfig,
	ledgerRepo *ledger.Repository,
	registryRepo *registry.Repository,
	pricesRepo *marketdata.Repository,
	fetcher Fetcher,
	cal BusinessCalendar,
	log zerolog.Logger,
) *IngestJob {
	return &IngestJob{
		cfg:      cfg,
		ledger:   ledgerRepo,
		registry: registryRepo,
		prices:   pricesRepo,
		fetcher:  fetcher,
		cal:      cal,
		log:      log.With().Str("job", ledger.JobIngest).Logger(),
	}
}

// Name returns the job's ledger name.
func (j *IngestJob) Name() string {
	return ledger.JobIngest
}

// Run executes one ingestion invocation for the given logical date.
// The logical date is fixed for the whole run, even across midnight.
// A nil return means success or a benign no-op (duplicate run); a non-nil
// return maps to a non-zero process exit for the external scheduler.
func (j *IngestJob) Run(ctx context.Context, today time.Time) error {
	handle, err := j.ledger.StartRun(ledger.JobIngest, today, j.cfg.StaleAfter)
	if errors.Is(err, ledger.ErrDuplicateRun) {
		j.log.Info().Str("date", today.Format("2006-01-02")).Msg("Ingestion already ran for today, nothing to do")
		return nil
	}
	if err != nil {
		// The ledger itself is unreachable: no progress can be recorded
		// safely, so exit without attempting a failed entry.
		return fmt.Errorf("failed to open ledger run: %w", err)
	}

	start, err := j.resumePoint(today)
	if err != nil {
		finishErr := j.ledger.FinishRun(handle, ledger.StatusFailed, err.Error())
		if finishErr != nil {
			j.log.Error().Err(finishErr).Msg("Failed to record run failure")
		}
		return err
	}

	days := j.cal.BusinessDaysBetween(start, today)
	if len(days) == 0 {
		if err := j.ledger.FinishRun(handle, ledger.StatusCompleted, "no business days in window"); err != nil {
			return fmt.Errorf("failed to close ledger run: %w", err)
		}
		return nil
	}

	j.log.Info().
		Int("days", len(days)).
		Str("from", days[0].Format("2006-01-02")).
		Str("to", days[len(days)-1].Format("2006-01-02")).
		Msg("Replaying business days")

	totalRows := 0
	for _, day := range days {
		rows, err := j.ingestDate(ctx, day)
		totalRows += rows
		if err != nil {
			// Later dates are never marked done ahead of earlier ones: the
			// run fails here and the next invocation replays from the same
			// resume point.
			detail := fmt.Sprintf("failed on %s: %v", day.Format("2006-01-02"), err)
			if finishErr := j.ledger.FinishRun(handle, ledger.StatusFailed, detail); finishErr != nil {
				j.log.Error().Err(finishErr).Msg("Failed to record run failure")
			}
			return fmt.Errorf("ingestion failed on %s: %w", day.Format("2006-01-02"), err)
		}
	}

	detail := fmt.Sprintf("ingested %d dates, %d rows", len(days), totalRows)
	if err := j.ledger.FinishRun(handle, ledger.StatusCompleted, detail); err != nil {
		return fmt.Errorf("failed to close ledger run: %w", err)
	}

	j.log.Info().Int("dates", len(days)).Int("rows", totalRows).Msg("Ingestion completed")

	if j.snapshot != nil {
		j.snapshot(ctx, today)
	}
	return nil
}

// resumePoint computes the first date to replay: the day after the last
// completed run, or the configured historical floor when the ledger is empty.
func (j *IngestJob) resumePoint(today time.Time) (time.Time, error) {
	last, err := j.ledger.LastCompletedDate(ledger.JobIngest)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read resume point: %w", err)
	}
	if last != nil {
		j.log.Info().Str("last_completed", last.Format("2006-01-02")).Msg("Resuming from ledger checkpoint")
		return last.AddDate(0, 0, 1), nil
	}

	if !j.cfg.HistoryFloor.IsZero() {
		j.log.Info().Str("floor", j.cfg.HistoryFloor.Format("2006-01-02")).Msg("No prior completed run, starting at history floor")
		return j.cfg.HistoryFloor, nil
	}

	j.log.Info().Msg("No prior completed run and no history floor, starting at today")
	return today, nil
}

// ingestDate fetches and upserts every active ticker's row for one date.
// Returns the number of rows written. Isolated missing tickers are tolerated
// up to MaxErrorRate; anything beyond that fails the date.
func (j *IngestJob) ingestDate(ctx context.Context, date time.Time) (int, error) {
	tickers, err := j.registry.GetAllActive()
	if err != nil {
		return 0, fmt.Errorf("failed to load active tickers: %w", err)
	}
	if len(tickers) == 0 {
		j.log.Warn().Msg("No active tickers in registry")
		return 0, nil
	}

	dateStr := date.Format("2006-01-02")
	written := 0
	failed := 0

	for _, t := range tickers {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		candle, err := j.fetcher.FetchDaily(ctx, t.Ticker, date)
		if err != nil {
			failed++
			j.log.Warn().Err(err).Str("ticker", t.Ticker).Str("date", dateStr).Msg("Fetch failed")
			continue
		}

		if err := j.prices.UpsertDaily(*candle); err != nil {
			// A store write failure is not a provider hiccup; fail the date
			// immediately rather than mask a persistence problem as data gaps.
			return written, fmt.Errorf("failed to store %s: %w", t.Ticker, err)
		}
		written++
	}

	maxFailures := int(float64(len(tickers)) * j.cfg.MaxErrorRate)
	if failed > maxFailures {
		return written, fmt.Errorf("%d/%d ticker fetches failed (threshold %d)", failed, len(tickers), maxFailures)
	}

	j.log.Info().Str("date", dateStr).Int("written", written).Int("failed", failed).Msg("Date ingested")
	return written, nil
}
