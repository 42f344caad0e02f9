package marketdata

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krxwatch/internal/database"
)

func setupTestRepo(t *testing.T) *Repository {
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
		Name: "history",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func mustDate(t *testing.T, s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func candle(t *testing.T, ticker, date string, close float64) Candle {
	return Candle{
		Ticker: ticker,
		Date:   mustDate(t, date),
		Open:   close - 1,
		High:   close + 2,
		Low:    close - 2,
		Close:  close,
		Volume: 1_000_000,
	}
}

func TestUpsertDaily_Idempotent(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.UpsertDaily(candle(t, "005930", "2026-08-28", 71000)))

	// Replaying the same date overwrites in place instead of duplicating.
	require.NoError(t, repo.UpsertDaily(candle(t, "005930", "2026-08-28", 71500)))

	candles, err := repo.GetRange("005930", mustDate(t, "2026-08-28"), mustDate(t, "2026-08-28"))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 71500.0, candles[0].Close)
}

func TestGetRange_OldestFirst(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.UpsertDaily(candle(t, "005930", "2026-08-27", 70500)))
	require.NoError(t, repo.UpsertDaily(candle(t, "005930", "2026-08-25", 70000)))
	require.NoError(t, repo.UpsertDaily(candle(t, "005930", "2026-08-28", 71000)))
	require.NoError(t, repo.UpsertDaily(candle(t, "000660", "2026-08-26", 180000)))

	candles, err := repo.GetRange("005930", mustDate(t, "2026-08-25"), mustDate(t, "2026-08-27"))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "2026-08-25", candles[0].Date.Format("2006-01-02"))
	assert.Equal(t, "2026-08-27", candles[1].Date.Format("2006-01-02"))
}

func TestGetRange_Empty(t *testing.T) {
	repo := setupTestRepo(t)

	candles, err := repo.GetRange("005930", mustDate(t, "2026-08-25"), mustDate(t, "2026-08-28"))
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestGetRecent(t *testing.T) {
	repo := setupTestRepo(t)

	for i, d := range []string{"2026-08-24", "2026-08-25", "2026-08-26", "2026-08-27", "2026-08-28"} {
		require.NoError(t, repo.UpsertDaily(candle(t, "005930", d, 70000+float64(i)*100)))
	}

	candles, err := repo.GetRecent("005930", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, "2026-08-26", candles[0].Date.Format("2006-01-02"))
	assert.Equal(t, "2026-08-28", candles[2].Date.Format("2006-01-02"))
}

func TestCountForDate(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.UpsertDaily(candle(t, "005930", "2026-08-28", 71000)))
	require.NoError(t, repo.UpsertDaily(candle(t, "000660", "2026-08-28", 180000)))
	require.NoError(t, repo.UpsertDaily(candle(t, "005930", "2026-08-27", 70500)))

	count, err := repo.CountForDate(mustDate(t, "2026-08-28"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
