package screener

import "math"

// Price and volume floors shared by all strategies. Sub-floor tickers are
// mostly illiquid small caps whose indicator signals are noise.
const (
	minPrice  = 2000.0
	maxPrice  = 1_000_000.0
	minVolume = 50_000
)

func priceAndVolumeOK(in Input) bool {
	c := in.Candle
	return c.Close >= minPrice && c.Close <= maxPrice && c.Volume >= minVolume
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}

// MAGoldenCross flags tickers whose 20-day SMA has moved above the 60-day
// SMA with a healthy separation, confirmed by price position and RSI.
type MAGoldenCross struct{}

func (MAGoldenCross) Name() string { return "ma_golden_cross" }

func (MAGoldenCross) Description() string {
	return "20-day SMA crossing above the 60-day SMA with trend confirmation"
}

func (MAGoldenCross) Evaluate(in Input) (float64, bool) {
	row := in.Latest()
	if row.SMA20 == nil || row.SMA60 == nil || row.RSI14 == nil {
		return 0, false
	}
	if !priceAndVolumeOK(in) {
		return 0, false
	}

	sma20, sma60 := *row.SMA20, *row.SMA60
	if sma20 <= sma60 {
		return 0, false
	}

	// Separation between 1% and 8%: below is noise, above the cross is old.
	separation := (sma20 - sma60) / sma60
	if separation < 0.01 || separation > 0.08 {
		return 0, false
	}

	// Bullish but not overbought.
	if *row.RSI14 < 30 || *row.RSI14 > 75 {
		return 0, false
	}

	// Price must confirm the trend from above the fast average.
	price := in.Candle.Close
	if price < sma20 {
		return 0, false
	}

	strength := 0.5 + clamp01(separation/0.08)*0.3

	// A fresh cross (previous row still below) is the strongest signal.
	if prev := in.Previous(); prev != nil && prev.SMA20 != nil && prev.SMA60 != nil {
		if *prev.SMA20 <= *prev.SMA60 {
			strength += 0.2
		}
	}
	return clamp01(strength), true
}

// MACDGoldenCross flags tickers whose MACD line sits above its signal line
// with a positive histogram, filtered by RSI and the 20-day SMA.
type MACDGoldenCross struct{}

func (MACDGoldenCross) Name() string { return "macd_golden_cross" }

func (MACDGoldenCross) Description() string {
	return "MACD line crossing above its signal line with positive momentum"
}

func (MACDGoldenCross) Evaluate(in Input) (float64, bool) {
	row := in.Latest()
	if row.MACD == nil || row.MACDSignal == nil || row.MACDHistogram == nil || row.RSI14 == nil {
		return 0, false
	}
	if !priceAndVolumeOK(in) {
		return 0, false
	}

	if *row.MACD <= *row.MACDSignal || *row.MACDHistogram <= 0 {
		return 0, false
	}
	if *row.RSI14 < 30 || *row.RSI14 > 75 {
		return 0, false
	}
	if row.SMA20 != nil && in.Candle.Close < *row.SMA20 {
		return 0, false
	}

	// Histogram relative to price approximates momentum across price scales.
	momentum := clamp01(*row.MACDHistogram / in.Candle.Close / 0.005)
	strength := 0.4 + momentum*0.3

	// RSI in the 50-65 band is bullish without being stretched.
	if *row.RSI14 >= 50 && *row.RSI14 <= 65 {
		strength += 0.1
	}

	if prev := in.Previous(); prev != nil && prev.MACD != nil && prev.MACDSignal != nil {
		if *prev.MACD <= *prev.MACDSignal {
			strength += 0.2
		}
	}
	return clamp01(strength), true
}

// BollingerSqueeze flags tickers whose Bollinger Bands have narrowed into a
// low-volatility consolidation, a condition that often precedes breakouts.
type BollingerSqueeze struct{}

func (BollingerSqueeze) Name() string { return "bollinger_squeeze" }

func (BollingerSqueeze) Description() string {
	return "narrow Bollinger Bands signaling a low-volatility consolidation"
}

// maxBandWidth is the squeeze ceiling: band width as a fraction of the
// middle band.
const maxBandWidth = 0.10

func (BollingerSqueeze) Evaluate(in Input) (float64, bool) {
	row := in.Latest()
	if row.BollingerUpper == nil || row.BollingerMiddle == nil || row.BollingerLower == nil {
		return 0, false
	}
	if !priceAndVolumeOK(in) || *row.BollingerMiddle <= 0 {
		return 0, false
	}

	width := (*row.BollingerUpper - *row.BollingerLower) / *row.BollingerMiddle
	if width > maxBandWidth {
		return 0, false
	}

	// Consolidation check: price within 3% of the middle band.
	drift := math.Abs(in.Candle.Close-*row.BollingerMiddle) / *row.BollingerMiddle
	if drift > 0.03 {
		return 0, false
	}

	// The tighter the squeeze and the closer to the middle, the stronger.
	strength := (1-width/maxBandWidth)*0.6 + (1-drift/0.03)*0.3

	// Neutral RSI suggests balanced momentum going into the breakout.
	if row.RSI14 != nil && math.Abs(*row.RSI14-50) <= 10 {
		strength += (10 - math.Abs(*row.RSI14-50)) / 10 * 0.1
	}
	return clamp01(strength), true
}

// RSIOversold flags tickers dipping into oversold territory while still in a
// long-term uptrend, a pullback-buy setup rather than a falling knife.
type RSIOversold struct{}

func (RSIOversold) Name() string { return "rsi_oversold" }

func (RSIOversold) Description() string {
	return "oversold RSI within a long-term uptrend"
}

func (RSIOversold) Evaluate(in Input) (float64, bool) {
	row := in.Latest()
	if row.RSI14 == nil || row.SMA60 == nil {
		return 0, false
	}
	if !priceAndVolumeOK(in) {
		return 0, false
	}

	// Oversold band: 20-35. Below 20 the decline is usually structural.
	rsi := *row.RSI14
	if rsi < 20 || rsi > 35 {
		return 0, false
	}

	// Uptrend filter: price still above the 60-day SMA.
	if in.Candle.Close < *row.SMA60 {
		return 0, false
	}

	strength := 0.5 + clamp01((35-rsi)/15)*0.3

	// Bonus when price is leaning on the lower Bollinger band.
	if row.BollingerLower != nil && *row.BollingerLower > 0 {
		dip := (in.Candle.Close - *row.BollingerLower) / *row.BollingerLower
		if dip >= 0 && dip <= 0.02 {
			strength += 0.2
		}
	}
	return clamp01(strength), true
}
