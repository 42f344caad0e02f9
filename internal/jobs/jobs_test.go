package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"krxwatch/internal/calendar"
	"krxwatch/internal/database"
	"krxwatch/internal/modules/analysis"
	"krxwatch/internal/modules/ledger"
	"krxwatch/internal/modules/marketdata"
	"krxwatch/internal/modules/registry"
)

// fixture wires real sqlite-backed repositories for job tests. Only the
// provider client and the indicator math are faked.
type fixture struct {
	ledger   *ledger.Repository
	registry *registry.Repository
	prices   *marketdata.Repository
	results  *analysis.Repository
	cal      *calendar.Calendar
	log      zerolog.Logger
	jobsDB   *sql.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	open := func(name string, profile database.Profile) *database.DB {
		db, err := database.New(database.Config{
			Path:    filepath.Join(dir, name+".db"),
			Profile: profile,
			Name:    name,
		})
		require.NoError(t, err)
		require.NoError(t, db.Migrate())
		t.Cleanup(func() { db.Close() })
		return db
	}

	jobsDB := open("jobs", database.ProfileLedger).Conn()
	return &fixture{
		ledger:   ledger.NewRepository(jobsDB, log),
		registry: registry.NewRepository(open("universe", database.ProfileStandard).Conn(), log),
		prices:   marketdata.NewRepository(open("history", database.ProfileStandard).Conn(), log),
		results:  analysis.NewRepository(open("analysis", database.ProfileStandard).Conn(), log),
		cal:      calendar.New(log),
		log:      log,
		jobsDB:   jobsDB,
	}
}

// backdateRun ages a ledger run to simulate a crashed earlier process.
func (fx *fixture) backdateRun(t *testing.T, jobName string, date time.Time, age time.Duration) {
	t.Helper()
	_, err := fx.jobsDB.Exec(
		"UPDATE job_runs SET started_at = ? WHERE job_name = ? AND run_date = ?",
		time.Now().Add(-age).Unix(), jobName, date.Format("2006-01-02"))
	require.NoError(t, err)
}

func (fx *fixture) seedTicker(t *testing.T, ticker string, marketCap int64) {
	t.Helper()
	require.NoError(t, fx.registry.Upsert(registry.Ticker{
		Ticker:    ticker,
		Name:      "Test Corp " + ticker,
		MarketCap: marketCap,
		IsActive:  true,
		AddedDate: mustDate(t, "2026-01-02"),
	}))
}

func (fx *fixture) seedCandles(t *testing.T, ticker string, end time.Time, n int) {
	t.Helper()
	d := end
	for i := 0; i < n; {
		if fx.cal.IsBusinessDay(d) {
			require.NoError(t, fx.prices.UpsertDaily(marketdata.Candle{
				Ticker: ticker,
				Date:   d,
				Open:   70000,
				High:   70500,
				Low:    69500,
				Close:  70000 + float64(i),
				Volume: 1_000_000,
			}))
			i++
		}
		d = d.AddDate(0, 0, -1)
	}
}

// completeRun records a completed ledger run so tests can set a checkpoint.
func (fx *fixture) completeRun(t *testing.T, jobName string, date time.Time) {
	t.Helper()
	h, err := fx.ledger.StartRun(jobName, date, time.Hour)
	require.NoError(t, err)
	require.NoError(t, fx.ledger.FinishRun(h, ledger.StatusCompleted, ""))
}

func mustDate(t *testing.T, s string) time.Time {
	d, err := time.Parse(calendar.DateFormat, s)
	require.NoError(t, err)
	return d
}

// fakeFetcher serves canned candles and records every call.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []string // "ticker@date"
	fail  func(ticker string, date time.Time) error
}

func (f *fakeFetcher) FetchDaily(ctx context.Context, ticker string, date time.Time) (*marketdata.Candle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s@%s", ticker, date.Format(calendar.DateFormat)))
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(ticker, date); err != nil {
			return nil, err
		}
	}
	return &marketdata.Candle{
		Ticker: ticker,
		Date:   date,
		Open:   70000,
		High:   70500,
		Low:    69500,
		Close:  70200,
		Volume: 1_000_000,
	}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeAnalyzer returns one row per invocation and records ticker order.
type fakeAnalyzer struct {
	mu      sync.Mutex
	tickers []string
	fail    func(ticker string) error
}

func (f *fakeAnalyzer) Analyze(candles []marketdata.Candle, keep int) ([]analysis.IndicatorRow, error) {
	last := candles[len(candles)-1]

	f.mu.Lock()
	f.tickers = append(f.tickers, last.Ticker)
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(last.Ticker); err != nil {
			return nil, err
		}
	}

	sma := last.Close
	return []analysis.IndicatorRow{{Ticker: last.Ticker, Date: last.Date, SMA5: &sma}}, nil
}
