package advisor

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krxwatch/internal/modules/analysis"
	"krxwatch/internal/modules/marketdata"
	"krxwatch/internal/modules/screener"
)

func TestService_DisabledWithoutAPIKey(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	svc := NewService(Config{}, nil, nil, nil, nil, log)

	assert.False(t, svc.Enabled())

	_, err := svc.MarketOverview(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = svc.AnalyzeTicker(context.Background(), "005930")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestBuildMarketOverviewPrompt(t *testing.T) {
	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	byStrategy := map[string][]screener.Match{
		"ma_golden_cross": {
			{Ticker: "005930", Name: "Samsung Electronics", Close: 71000, Strength: 0.82},
		},
		"rsi_oversold": {},
	}

	prompt := buildMarketOverviewPrompt(date, 1234, byStrategy)

	assert.Contains(t, prompt, "2026-08-28")
	assert.Contains(t, prompt, "1234 active tickers")
	assert.Contains(t, prompt, "ma_golden_cross (1 matches)")
	assert.Contains(t, prompt, "005930 (Samsung Electronics)")
	assert.Contains(t, prompt, "0.82")
	assert.Contains(t, prompt, "No matches.")
}

func TestBuildMarketOverviewPrompt_StrategySectionsSorted(t *testing.T) {
	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	byStrategy := map[string][]screener.Match{
		"rsi_oversold":      {},
		"bollinger_squeeze": {},
		"ma_golden_cross":   {},
		"macd_cross":        {},
	}

	prompt := buildMarketOverviewPrompt(date, 100, byStrategy)

	// Sections come out in name order regardless of map iteration, so the
	// same inputs always produce the same prompt.
	var positions []int
	for _, name := range []string{"bollinger_squeeze", "ma_golden_cross", "macd_cross", "rsi_oversold"} {
		positions = append(positions, strings.Index(prompt, "### Strategy: "+name))
	}
	assert.True(t, sort.IntsAreSorted(positions), "sections out of order: %v", positions)
	assert.GreaterOrEqual(t, positions[0], 0)
}

func TestBuildMarketOverviewPrompt_TruncatesLongMatchLists(t *testing.T) {
	matches := make([]screener.Match, 25)
	for i := range matches {
		matches[i] = screener.Match{Ticker: "005930", Name: "Samsung", Close: 71000, Strength: 0.5}
	}

	prompt := buildMarketOverviewPrompt(time.Now(), 100, map[string][]screener.Match{
		"bollinger_squeeze": matches,
	})

	assert.Contains(t, prompt, "and 15 more")
}

func TestBuildTickerPrompt(t *testing.T) {
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	candles := []marketdata.Candle{
		{Ticker: "005930", Date: day, Open: 70500, High: 71500, Low: 70000, Close: 71000, Volume: 1_000_000},
	}
	rsi := 58.3
	rows := []analysis.IndicatorRow{{Ticker: "005930", Date: day, RSI14: &rsi}}

	prompt := buildTickerPrompt("005930", "Samsung Electronics", candles, rows)

	assert.Contains(t, prompt, "Samsung Electronics (005930)")
	assert.Contains(t, prompt, "2026-08-28 | 70500 | 71500 | 70000 | 71000 | 1000000")
	assert.Contains(t, prompt, "RSI(14): 58.30")
	// Indicators still warming up appear as unavailable, not as zero.
	assert.Contains(t, prompt, "MACD: n/a")
}

func TestBuildTickerPrompt_NoIndicators(t *testing.T) {
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	candles := []marketdata.Candle{
		{Ticker: "005930", Date: day, Open: 70500, High: 71500, Low: 70000, Close: 71000, Volume: 1_000_000},
	}

	prompt := buildTickerPrompt("005930", "Samsung Electronics", candles, nil)
	require.NotContains(t, prompt, "Latest indicators")
}
