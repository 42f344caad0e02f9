// Package formulas provides technical indicator calculations on daily
// close series. Indicator math is delegated to go-talib; each wrapper
// documents the warm-up length before which values are meaningless.
package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Sma calculates the Simple Moving Average.
// Values before index period-1 are warm-up output.
func Sma(closes []float64, period int) []float64 {
	if len(closes) < period {
		return make([]float64, len(closes))
	}
	return talib.Sma(closes, period)
}

// Ema calculates the Exponential Moving Average.
// Values before index period-1 are warm-up output.
func Ema(closes []float64, period int) []float64 {
	if len(closes) < period {
		return make([]float64, len(closes))
	}
	return talib.Ema(closes, period)
}

// Rsi calculates the Relative Strength Index (0-100).
// Values before index period are warm-up output.
func Rsi(closes []float64, period int) []float64 {
	if len(closes) < period+1 {
		return make([]float64, len(closes))
	}
	return talib.Rsi(closes, period)
}

// Macd calculates MACD, its signal line, and the histogram.
// The MACD line warms up at slow-1, signal and histogram at slow+signal-2.
func Macd(closes []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	if len(closes) < slow+signal {
		zeros := make([]float64, len(closes))
		return zeros, append([]float64(nil), zeros...), append([]float64(nil), zeros...)
	}
	return talib.Macd(closes, fast, slow, signal)
}

// Bbands calculates Bollinger Bands with an SMA middle band.
// Values before index period-1 are warm-up output.
func Bbands(closes []float64, period int, dev float64) (upper, middle, lower []float64) {
	if len(closes) < period {
		zeros := make([]float64, len(closes))
		return zeros, append([]float64(nil), zeros...), append([]float64(nil), zeros...)
	}
	return talib.BBands(closes, period, dev, dev, talib.SMA)
}

// Stoch calculates the slow stochastic oscillator (%K, %D).
// Values before index fastK+slowK+slowD-3 are warm-up output.
func Stoch(highs, lows, closes []float64, fastK, slowK, slowD int) (k, d []float64) {
	if len(closes) < fastK+slowK+slowD {
		zeros := make([]float64, len(closes))
		return zeros, append([]float64(nil), zeros...)
	}
	return talib.Stoch(highs, lows, closes, fastK, slowK, talib.SMA, slowD, talib.SMA)
}

// At returns a pointer to series[i] when i is past the warm-up index and the
// value is finite, nil otherwise.
func At(series []float64, i, warmup int) *float64 {
	if i < warmup || i >= len(series) {
		return nil
	}
	v := series[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
