package analysis

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"krxwatch/internal/calendar"
	"krxwatch/internal/database"
)

// Repository handles indicator bundle operations on analysis.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new analysis repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "analysis").Logger(),
	}
}

const indicatorColumns = `ticker, date, sma_5, sma_20, sma_60, ema_12, ema_26,
macd, macd_signal, macd_histogram, rsi_14,
bollinger_upper, bollinger_middle, bollinger_lower, stoch_k, stoch_d, volatility`

// ReplaceForTicker overwrites the stored bundle for a ticker with the given
// rows, atomically. This is the overwrite-on-recompute write path of the
// analysis job; a mid-run crash leaves either the old complete bundle or the
// new complete bundle, never a mix.
func (r *Repository) ReplaceForTicker(ticker string, rows []IndicatorRow) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM indicators WHERE ticker = ?", ticker); err != nil {
			return fmt.Errorf("failed to clear indicators for %s: %w", ticker, err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO indicators (` + indicatorColumns + `, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare indicator insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, row := range rows {
			_, err := stmt.Exec(
				ticker, row.Date.Format(calendar.DateFormat),
				row.SMA5, row.SMA20, row.SMA60, row.EMA12, row.EMA26,
				row.MACD, row.MACDSignal, row.MACDHistogram, row.RSI14,
				row.BollingerUpper, row.BollingerMiddle, row.BollingerLower,
				row.StochK, row.StochD, row.Volatility, now)
			if err != nil {
				return fmt.Errorf("failed to insert indicator row %s/%s: %w",
					ticker, row.Date.Format(calendar.DateFormat), err)
			}
		}

		return nil
	})
}

// GetLatest returns the most recent indicator row for a ticker, or nil when
// the ticker has never been analyzed.
func (r *Repository) GetLatest(ticker string) (*IndicatorRow, error) {
	query := "SELECT " + indicatorColumns + " FROM indicators WHERE ticker = ? ORDER BY date DESC LIMIT 1"

	row := r.db.QueryRow(query, ticker)
	ind, err := scanIndicatorRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest indicators for %s: %w", ticker, err)
	}
	return ind, nil
}

// GetRecent returns the most recent indicator rows for a ticker, oldest first.
func (r *Repository) GetRecent(ticker string, limit int) ([]IndicatorRow, error) {
	if limit <= 0 {
		limit = 30
	}

	query := "SELECT " + indicatorColumns + " FROM indicators WHERE ticker = ? ORDER BY date DESC LIMIT ?"

	rows, err := r.db.Query(query, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query indicators for %s: %w", ticker, err)
	}
	defer rows.Close()

	result, err := collectRows(rows)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// GetRecentMap returns, for each ticker, its most recent rows oldest-first.
// This is the screener's input.
func (r *Repository) GetRecentMap(perTicker int) (map[string][]IndicatorRow, error) {
	if perTicker <= 0 {
		perTicker = 2
	}

	query := "SELECT " + indicatorColumns + " FROM indicators ORDER BY ticker ASC, date ASC"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query indicators: %w", err)
	}
	defer rows.Close()

	all, err := collectRows(rows)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]IndicatorRow)
	for _, row := range all {
		result[row.Ticker] = append(result[row.Ticker], row)
	}
	for ticker, series := range result {
		if len(series) > perTicker {
			result[ticker] = series[len(series)-perTicker:]
		}
	}
	return result, nil
}

func collectRows(rows *sql.Rows) ([]IndicatorRow, error) {
	var result []IndicatorRow
	for rows.Next() {
		ind, err := scanIndicatorRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indicator row: %w", err)
		}
		result = append(result, *ind)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating indicator rows: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanIndicatorRow(s scanner) (*IndicatorRow, error) {
	var row IndicatorRow
	var dateStr string

	err := s.Scan(&row.Ticker, &dateStr,
		&row.SMA5, &row.SMA20, &row.SMA60, &row.EMA12, &row.EMA26,
		&row.MACD, &row.MACDSignal, &row.MACDHistogram, &row.RSI14,
		&row.BollingerUpper, &row.BollingerMiddle, &row.BollingerLower,
		&row.StochK, &row.StochD, &row.Volatility)
	if err != nil {
		return nil, err
	}

	d, err := time.Parse(calendar.DateFormat, dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q in analysis store: %w", dateStr, err)
	}
	row.Date = d

	return &row, nil
}
