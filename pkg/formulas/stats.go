package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// tradingDaysPerYear is the conventional annualization factor for daily data.
const tradingDaysPerYear = 252

// LogReturns returns the log return series of a close series
// (length is one less than the input).
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	return returns
}

// AnnualizedVolatility returns the annualized standard deviation of daily
// log returns, or nil when there is not enough data.
func AnnualizedVolatility(closes []float64) *float64 {
	returns := LogReturns(closes)
	if len(returns) < 2 {
		return nil
	}

	sd := stat.StdDev(returns, nil)
	if math.IsNaN(sd) {
		return nil
	}

	vol := sd * math.Sqrt(tradingDaysPerYear)
	return &vol
}
