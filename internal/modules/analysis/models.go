package analysis

import "time"

// IndicatorRow is the derived indicator bundle for one ticker and date.
// Fields are nil while the underlying indicator is still warming up.
// Rows are overwritten wholesale on every successful recomputation.
type IndicatorRow struct {
	Ticker          string    `json:"ticker"`
	Date            time.Time `json:"date"`
	SMA5            *float64  `json:"sma_5,omitempty"`
	SMA20           *float64  `json:"sma_20,omitempty"`
	SMA60           *float64  `json:"sma_60,omitempty"`
	EMA12           *float64  `json:"ema_12,omitempty"`
	EMA26           *float64  `json:"ema_26,omitempty"`
	MACD            *float64  `json:"macd,omitempty"`
	MACDSignal      *float64  `json:"macd_signal,omitempty"`
	MACDHistogram   *float64  `json:"macd_histogram,omitempty"`
	RSI14           *float64  `json:"rsi_14,omitempty"`
	BollingerUpper  *float64  `json:"bollinger_upper,omitempty"`
	BollingerMiddle *float64  `json:"bollinger_middle,omitempty"`
	BollingerLower  *float64  `json:"bollinger_lower,omitempty"`
	StochK          *float64  `json:"stoch_k,omitempty"`
	StochD          *float64  `json:"stoch_d,omitempty"`
	Volatility      *float64  `json:"volatility,omitempty"`
}
