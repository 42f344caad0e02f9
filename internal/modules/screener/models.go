// Package screener runs signal strategies over the stored indicator bundles.
package screener

import (
	"time"

	"krxwatch/internal/modules/analysis"
	"krxwatch/internal/modules/marketdata"
)

// Input is everything a strategy sees for one ticker: the latest candle and
// the most recent indicator rows, oldest first. Rows is never empty.
type Input struct {
	Ticker string
	Candle marketdata.Candle
	Rows   []analysis.IndicatorRow
}

// Latest returns the newest indicator row.
func (in Input) Latest() analysis.IndicatorRow {
	return in.Rows[len(in.Rows)-1]
}

// Previous returns the row before the newest one, or nil when only a single
// row is available. Cross detection degrades to state checks without it.
func (in Input) Previous() *analysis.IndicatorRow {
	if len(in.Rows) < 2 {
		return nil
	}
	return &in.Rows[len(in.Rows)-2]
}

// Match is one ticker flagged by a strategy.
type Match struct {
	Ticker   string    `json:"ticker"`
	Name     string    `json:"name"`
	Date     time.Time `json:"date"`
	Strategy string    `json:"strategy"`
	Strength float64   `json:"strength"`
	Close    float64   `json:"close"`
}

// Strategy evaluates one ticker's input and reports whether it matches,
// with a strength in (0, 1].
type Strategy interface {
	Name() string
	Description() string
	Evaluate(in Input) (strength float64, ok bool)
}
