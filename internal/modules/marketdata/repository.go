// Package marketdata stores raw daily OHLCV history.
package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"krxwatch/internal/calendar"
)

// Repository handles daily price operations on history.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new market data repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "marketdata").Logger(),
	}
}

// UpsertDaily writes a candle keyed by (ticker, date). Replaying an
// already-ingested date is safe: the row is overwritten in place.
func (r *Repository) UpsertDaily(c Candle) error {
	now := time.Now().Unix()

	query := `
		INSERT INTO daily_prices (ticker, date, open, high, low, close, volume, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			updated_at = excluded.updated_at`

	_, err := r.db.Exec(query,
		c.Ticker, c.Date.Format(calendar.DateFormat),
		c.Open, c.High, c.Low, c.Close, c.Volume, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert daily price %s/%s: %w",
			c.Ticker, c.Date.Format(calendar.DateFormat), err)
	}
	return nil
}

// GetRange returns candles for a ticker in [from, to], oldest first.
func (r *Repository) GetRange(ticker string, from, to time.Time) ([]Candle, error) {
	query := `
		SELECT ticker, date, open, high, low, close, volume
		FROM daily_prices
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`

	rows, err := r.db.Query(query, ticker,
		from.Format(calendar.DateFormat), to.Format(calendar.DateFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices for %s: %w", ticker, err)
	}
	defer rows.Close()

	var candles []Candle
	for rows.Next() {
		var c Candle
		var dateStr string
		if err := rows.Scan(&c.Ticker, &dateStr, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		d, err := time.Parse(calendar.DateFormat, dateStr)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q in history: %w", dateStr, err)
		}
		c.Date = d
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}
	return candles, nil
}

// GetRecent returns the most recent candles for a ticker, oldest first.
func (r *Repository) GetRecent(ticker string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 30
	}

	// Fetch newest-first with the limit, then reverse to oldest-first.
	query := `
		SELECT ticker, date, open, high, low, close, volume
		FROM daily_prices WHERE ticker = ?
		ORDER BY date DESC LIMIT ?`

	rows, err := r.db.Query(query, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent prices for %s: %w", ticker, err)
	}
	defer rows.Close()

	var candles []Candle
	for rows.Next() {
		var c Candle
		var dateStr string
		if err := rows.Scan(&c.Ticker, &dateStr, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		d, err := time.Parse(calendar.DateFormat, dateStr)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q in history: %w", dateStr, err)
		}
		c.Date = d
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// CountForDate returns how many tickers have a row for the given date.
func (r *Repository) CountForDate(date time.Time) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM daily_prices WHERE date = ?",
		date.Format(calendar.DateFormat)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count prices for date: %w", err)
	}
	return count, nil
}
