package registry

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
		Path: filepath.Join(t.TempDir(), "universe.db"),
		Name: "universe",
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

func seedTicker(t *testing.T, repo *Repository, ticker, name string, marketCap int64, active bool) {
	t.Helper()
	require.NoError(t, repo.Upsert(Ticker{
		Ticker:    ticker,
		Name:      name,
		MarketCap: marketCap,
		IsActive:  active,
		AddedDate: mustDate(t, "2026-01-02"),
	}))
}

func TestUpsertAndGet(t *testing.T) {
	repo := setupTestRepo(t)

	seedTicker(t, repo, "005930", "Samsung Electronics", 400_000_000, true)

	got, err := repo.GetByTicker("005930")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Samsung Electronics", got.Name)
	assert.Equal(t, int64(400_000_000), got.MarketCap)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LastAnalyzedDate)
}

func TestGetByTicker_NotFound(t *testing.T) {
	repo := setupTestRepo(t)

	got, err := repo.GetByTicker("999999")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsert_UpdatePreservesAnalysisMarker(t *testing.T) {
	repo := setupTestRepo(t)

	seedTicker(t, repo, "005930", "Samsung Electronics", 400_000_000, true)
	require.NoError(t, repo.UpdateLastAnalyzedDate("005930", mustDate(t, "2026-08-27")))

	// A registry refresh updates name and market cap but must never reset
	// the analysis marker.
	seedTicker(t, repo, "005930", "Samsung Electronics Co", 410_000_000, true)

	got, err := repo.GetByTicker("005930")
	require.NoError(t, err)
	assert.Equal(t, "Samsung Electronics Co", got.Name)
	assert.Equal(t, int64(410_000_000), got.MarketCap)
	require.NotNil(t, got.LastAnalyzedDate)
	assert.Equal(t, "2026-08-27", got.LastAnalyzedDate.Format("2006-01-02"))
}

func TestGetAllActive_MarketCapOrder(t *testing.T) {
	repo := setupTestRepo(t)

	seedTicker(t, repo, "035420", "NAVER", 30_000_000, true)
	seedTicker(t, repo, "005930", "Samsung Electronics", 400_000_000, true)
	seedTicker(t, repo, "000660", "SK Hynix", 120_000_000, true)
	seedTicker(t, repo, "123456", "Delisted Corp", 500_000_000, false)

	tickers, err := repo.GetAllActive()
	require.NoError(t, err)
	require.Len(t, tickers, 3)
	assert.Equal(t, "005930", tickers[0].Ticker)
	assert.Equal(t, "000660", tickers[1].Ticker)
	assert.Equal(t, "035420", tickers[2].Ticker)
}

func TestPendingAnalysis(t *testing.T) {
	repo := setupTestRepo(t)
	today := mustDate(t, "2026-08-28")

	seedTicker(t, repo, "005930", "Samsung Electronics", 400_000_000, true)
	seedTicker(t, repo, "000660", "SK Hynix", 120_000_000, true)
	seedTicker(t, repo, "035420", "NAVER", 30_000_000, true)
	seedTicker(t, repo, "123456", "Delisted Corp", 500_000_000, false)

	// All active tickers start pending, largest first.
	pending, err := repo.PendingAnalysis(today)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "005930", pending[0].Ticker)

	// Marking one for today removes it; a stale marker does not.
	require.NoError(t, repo.UpdateLastAnalyzedDate("005930", today))
	require.NoError(t, repo.UpdateLastAnalyzedDate("000660", mustDate(t, "2026-08-27")))

	pending, err = repo.PendingAnalysis(today)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "000660", pending[0].Ticker)
	assert.Equal(t, "035420", pending[1].Ticker)
}

func TestUpdateLastAnalyzedDate_Monotonic(t *testing.T) {
	repo := setupTestRepo(t)

	seedTicker(t, repo, "005930", "Samsung Electronics", 400_000_000, true)
	require.NoError(t, repo.UpdateLastAnalyzedDate("005930", mustDate(t, "2026-08-28")))

	// A replayed invocation with an older date must not move the marker back.
	require.NoError(t, repo.UpdateLastAnalyzedDate("005930", mustDate(t, "2026-08-25")))

	got, err := repo.GetByTicker("005930")
	require.NoError(t, err)
	require.NotNil(t, got.LastAnalyzedDate)
	assert.Equal(t, "2026-08-28", got.LastAnalyzedDate.Format("2006-01-02"))
}

func TestDeactivate(t *testing.T) {
	repo := setupTestRepo(t)

	seedTicker(t, repo, "005930", "Samsung Electronics", 400_000_000, true)
	require.NoError(t, repo.Deactivate("005930"))

	got, err := repo.GetByTicker("005930")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	count, err := repo.CountActive()
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.Error(t, repo.Deactivate("999999"))
}

func TestNormalization(t *testing.T) {
	repo := setupTestRepo(t)

	seedTicker(t, repo, " 005930 ", "Samsung Electronics", 400_000_000, true)

	got, err := repo.GetByTicker("005930")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "005930", got.Ticker)
}
