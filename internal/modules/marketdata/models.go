package marketdata

import "time"

// Candle is one daily OHLCV row for a ticker. Rows are write-once: an
// upsert of the same (ticker, date) key overwrites with identical or
// corrected data, never duplicates.
type Candle struct {
	Ticker string    `json:"ticker"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}
