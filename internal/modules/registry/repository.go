// Package registry manages the universe of tracked tickers.
package registry

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"krxwatch/internal/calendar"
)

// Repository handles ticker database operations on universe.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new ticker repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "registry").Logger(),
	}
}

const tickerColumns = `ticker, name, market_cap, active, added_date, last_analyzed_date`

// GetByTicker returns a ticker by its code, or nil if not tracked.
func (r *Repository) GetByTicker(ticker string) (*Ticker, error) {
	query := "SELECT " + tickerColumns + " FROM tickers WHERE ticker = ?"

	row := r.db.QueryRow(query, normalizeTicker(ticker))
	t, err := scanTicker(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ticker: %w", err)
	}
	return t, nil
}

// GetAllActive returns all active tickers ordered by market cap descending.
func (r *Repository) GetAllActive() ([]Ticker, error) {
	query := "SELECT " + tickerColumns + " FROM tickers WHERE active = 1 ORDER BY market_cap DESC, ticker ASC"
	return r.queryTickers(query)
}

// GetAll returns every tracked ticker, active or not.
func (r *Repository) GetAll() ([]Ticker, error) {
	query := "SELECT " + tickerColumns + " FROM tickers ORDER BY market_cap DESC, ticker ASC"
	return r.queryTickers(query)
}

// PendingAnalysis returns active tickers not yet analyzed for the given date,
// ordered by market cap descending. This is the analysis job's backlog query.
func (r *Repository) PendingAnalysis(date time.Time) ([]Ticker, error) {
	query := "SELECT " + tickerColumns + ` FROM tickers
		WHERE active = 1 AND (last_analyzed_date IS NULL OR last_analyzed_date != ?)
		ORDER BY market_cap DESC, ticker ASC`
	return r.queryTickers(query, date.Format(calendar.DateFormat))
}

// CountActive returns the number of active tickers.
func (r *Repository) CountActive() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM tickers WHERE active = 1").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active tickers: %w", err)
	}
	return count, nil
}

// Upsert inserts or updates a ticker. The last_analyzed_date marker is not
// touched on update; only the analysis job mutates it.
func (r *Repository) Upsert(t Ticker) error {
	now := time.Now().Unix()

	query := `
		INSERT INTO tickers (ticker, name, market_cap, active, added_date, last_analyzed_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			name = excluded.name,
			market_cap = excluded.market_cap,
			active = excluded.active,
			updated_at = excluded.updated_at`

	_, err := r.db.Exec(query,
		normalizeTicker(t.Ticker), t.Name, t.MarketCap, boolToInt(t.IsActive),
		t.AddedDate.Format(calendar.DateFormat), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert ticker %s: %w", t.Ticker, err)
	}
	return nil
}

// Deactivate marks a ticker as no longer tracked. Rows are never deleted.
func (r *Repository) Deactivate(ticker string) error {
	res, err := r.db.Exec("UPDATE tickers SET active = 0, updated_at = ? WHERE ticker = ?",
		time.Now().Unix(), normalizeTicker(ticker))
	if err != nil {
		return fmt.Errorf("failed to deactivate ticker %s: %w", ticker, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticker %s not found", ticker)
	}
	return nil
}

// UpdateLastAnalyzedDate advances the last-analyzed marker for a ticker.
// The marker is monotonic: an update with a date at or before the current
// value is a no-op, so replayed or out-of-order invocations can never move
// a ticker backwards.
func (r *Repository) UpdateLastAnalyzedDate(ticker string, date time.Time) error {
	dateStr := date.Format(calendar.DateFormat)

	query := `
		UPDATE tickers SET last_analyzed_date = ?, updated_at = ?
		WHERE ticker = ? AND (last_analyzed_date IS NULL OR last_analyzed_date < ?)`

	_, err := r.db.Exec(query, dateStr, time.Now().Unix(), normalizeTicker(ticker), dateStr)
	if err != nil {
		return fmt.Errorf("failed to update last analyzed date for %s: %w", ticker, err)
	}
	return nil
}

func (r *Repository) queryTickers(query string, args ...interface{}) ([]Ticker, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []Ticker
	for rows.Next() {
		t, err := scanTicker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickers: %w", err)
	}
	return tickers, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTicker(s scanner) (*Ticker, error) {
	var t Ticker
	var active int
	var addedDate string
	var lastAnalyzed sql.NullString

	if err := s.Scan(&t.Ticker, &t.Name, &t.MarketCap, &active, &addedDate, &lastAnalyzed); err != nil {
		return nil, err
	}

	t.IsActive = active != 0
	added, err := time.Parse(calendar.DateFormat, addedDate)
	if err != nil {
		return nil, fmt.Errorf("invalid added_date %q: %w", addedDate, err)
	}
	t.AddedDate = added

	if lastAnalyzed.Valid && lastAnalyzed.String != "" {
		d, err := time.Parse(calendar.DateFormat, lastAnalyzed.String)
		if err != nil {
			return nil, fmt.Errorf("invalid last_analyzed_date %q: %w", lastAnalyzed.String, err)
		}
		t.LastAnalyzedDate = &d
	}

	return &t, nil
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
