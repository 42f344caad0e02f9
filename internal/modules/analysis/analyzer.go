// Package analysis computes and stores the derived indicator bundle for
// tracked tickers.
package analysis

import (
	"fmt"

	"github.com/rs/zerolog"

	"krxwatch/internal/modules/marketdata"
	"krxwatch/pkg/formulas"
)

// MinCandles is the minimum history required for a meaningful bundle
// (the 60-day SMA needs 60 rows).
const MinCandles = 60

// Daily indicator parameters.
const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	rsiPeriod  = 14
	bbPeriod   = 20
	bbDev      = 2.0
	stochFastK = 14
	stochSlowK = 3
	stochSlowD = 3
	volWindow  = 20
)

// Analyzer computes indicator bundles from raw candle history.
type Analyzer struct {
	log zerolog.Logger
}

// NewAnalyzer creates a new analyzer.
func NewAnalyzer(log zerolog.Logger) *Analyzer {
	return &Analyzer{
		log: log.With().Str("component", "analyzer").Logger(),
	}
}

// Analyze computes the indicator bundle over the candle history (oldest
// first) and returns rows for the most recent keep dates. At least
// MinCandles rows of history are required.
func (a *Analyzer) Analyze(candles []marketdata.Candle, keep int) ([]IndicatorRow, error) {
	if len(candles) < MinCandles {
		return nil, fmt.Errorf("insufficient history: %d candles, need %d", len(candles), MinCandles)
	}
	if keep <= 0 || keep > len(candles) {
		keep = len(candles)
	}

	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	sma5 := formulas.Sma(closes, 5)
	sma20 := formulas.Sma(closes, 20)
	sma60 := formulas.Sma(closes, 60)
	ema12 := formulas.Ema(closes, macdFast)
	ema26 := formulas.Ema(closes, macdSlow)
	macd, macdSig, macdHist := formulas.Macd(closes, macdFast, macdSlow, macdSignal)
	rsi := formulas.Rsi(closes, rsiPeriod)
	bbUpper, bbMiddle, bbLower := formulas.Bbands(closes, bbPeriod, bbDev)
	stochK, stochD := formulas.Stoch(highs, lows, closes, stochFastK, stochSlowK, stochSlowD)

	macdWarmup := macdSlow - 1
	signalWarmup := macdSlow + macdSignal - 2
	stochKWarmup := stochFastK + stochSlowK - 2
	stochDWarmup := stochFastK + stochSlowK + stochSlowD - 3

	rows := make([]IndicatorRow, 0, keep)
	for i := n - keep; i < n; i++ {
		row := IndicatorRow{
			Ticker:          candles[i].Ticker,
			Date:            candles[i].Date,
			SMA5:            formulas.At(sma5, i, 4),
			SMA20:           formulas.At(sma20, i, 19),
			SMA60:           formulas.At(sma60, i, 59),
			EMA12:           formulas.At(ema12, i, macdFast-1),
			EMA26:           formulas.At(ema26, i, macdSlow-1),
			MACD:            formulas.At(macd, i, macdWarmup),
			MACDSignal:      formulas.At(macdSig, i, signalWarmup),
			MACDHistogram:   formulas.At(macdHist, i, signalWarmup),
			RSI14:           formulas.At(rsi, i, rsiPeriod),
			BollingerUpper:  formulas.At(bbUpper, i, bbPeriod-1),
			BollingerMiddle: formulas.At(bbMiddle, i, bbPeriod-1),
			BollingerLower:  formulas.At(bbLower, i, bbPeriod-1),
			StochK:          formulas.At(stochK, i, stochKWarmup),
			StochD:          formulas.At(stochD, i, stochDWarmup),
		}

		if i+1 >= volWindow {
			row.Volatility = formulas.AnnualizedVolatility(closes[i+1-volWindow : i+1])
		}

		rows = append(rows, row)
	}

	return rows, nil
}
