package provider

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"krxwatch/internal/calendar"
	"krxwatch/internal/modules/marketdata"
)

// Cache stores already-fetched provider payloads in cache.db, keyed by
// (ticker, date). Rows are msgpack-encoded and ephemeral: losing the cache
// only costs refetches, never correctness.
type Cache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCache creates a provider payload cache.
func NewCache(db *sql.DB, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		log: log.With().Str("component", "provider_cache").Logger(),
	}
}

// cachedCandle is the msgpack layout of a cached payload.
type cachedCandle struct {
	Open   float64 `msgpack:"o"`
	High   float64 `msgpack:"h"`
	Low    float64 `msgpack:"l"`
	Close  float64 `msgpack:"c"`
	Volume int64   `msgpack:"v"`
}

// Get returns the cached candle for (ticker, date), or nil on a miss.
func (c *Cache) Get(ticker string, date time.Time) (*marketdata.Candle, error) {
	var blob []byte
	err := c.db.QueryRow(
		"SELECT payload FROM provider_payloads WHERE ticker = ? AND date = ?",
		ticker, date.Format(calendar.DateFormat)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload cache: %w", err)
	}

	var cached cachedCandle
	if err := msgpack.Unmarshal(blob, &cached); err != nil {
		return nil, fmt.Errorf("failed to decode cached payload: %w", err)
	}

	return &marketdata.Candle{
		Ticker: ticker,
		Date:   date,
		Open:   cached.Open,
		High:   cached.High,
		Low:    cached.Low,
		Close:  cached.Close,
		Volume: cached.Volume,
	}, nil
}

// Put stores a fetched candle.
func (c *Cache) Put(candle marketdata.Candle) error {
	blob, err := msgpack.Marshal(cachedCandle{
		Open:   candle.Open,
		High:   candle.High,
		Low:    candle.Low,
		Close:  candle.Close,
		Volume: candle.Volume,
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := `
		INSERT INTO provider_payloads (ticker, date, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ticker, date) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at`

	_, err = c.db.Exec(query, candle.Ticker, candle.Date.Format(calendar.DateFormat), blob, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write payload cache: %w", err)
	}
	return nil
}
