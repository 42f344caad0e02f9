package registry

import "time"

// Ticker represents a tracked instrument in the watch universe.
// MarketCap is the descending priority key for the analysis backlog.
// LastAnalyzedDate is nil until the analysis job has committed a full
// indicator bundle for the ticker; it only ever moves forward.
type Ticker struct {
	Ticker           string     `json:"ticker"`
	Name             string     `json:"name"`
	MarketCap        int64      `json:"market_cap"`
	IsActive         bool       `json:"is_active"`
	AddedDate        time.Time  `json:"added_date"`
	LastAnalyzedDate *time.Time `json:"last_analyzed_date,omitempty"`
}
