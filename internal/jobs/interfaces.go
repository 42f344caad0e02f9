// Package jobs contains the two batch job cores: gap-filling ingestion and
// time-boxed analysis. Each invocation is a fresh single-threaded process;
// all coordination happens through the job ledger and the ticker registry.
package jobs

import (
	"context"
	"time"

	"krxwatch/internal/modules/analysis"
	"krxwatch/internal/modules/marketdata"
)

// Fetcher retrieves daily rows from the market data provider.
// Implementations must bound their own timeouts and retries.
type Fetcher interface {
	FetchDaily(ctx context.Context, ticker string, date time.Time) (*marketdata.Candle, error)
}

// Analyzer computes the indicator bundle from raw candle history.
type Analyzer interface {
	Analyze(candles []marketdata.Candle, keep int) ([]analysis.IndicatorRow, error)
}

// BusinessCalendar answers business-day questions for the exchange.
type BusinessCalendar interface {
	IsBusinessDay(d time.Time) bool
	BusinessDaysBetween(start, end time.Time) []time.Time
}
