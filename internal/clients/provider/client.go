// Package provider is the HTTP client for the upstream daily market data feed.
// All calls are rate limited, guarded by a circuit breaker, and retried a
// bounded number of times with exponential backoff - an unbounded retry here
// would defeat the analysis job's time-box and could stall ingestion.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"krxwatch/internal/calendar"
	"krxwatch/internal/modules/marketdata"
)

// ErrNoData is returned when the provider has no rows for the requested
// ticker and range. It is not retried.
var ErrNoData = errors.New("provider has no data for ticker")

// Config holds provider client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64 // requests per second
	Backoff    time.Duration
}

// Client fetches daily OHLCV rows from the market data provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	backoff    time.Duration
	cache      *Cache
	log        zerolog.Logger
}

// NewClient creates a new provider client. cache may be nil to disable
// payload caching.
func NewClient(cfg Config, cache *Cache, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "marketdata-provider",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A ticker with no rows is a data condition, not a provider outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData)
		},
	})

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		breaker:    breaker,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		cache:      cache,
		log:        log.With().Str("client", "provider").Logger(),
	}
}

// dailyResponse is the provider's JSON payload for a daily range query.
type dailyResponse struct {
	Ticker  string `json:"ticker"`
	Candles []struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume int64   `json:"volume"`
	} `json:"candles"`
}

// FetchRange returns daily candles for a ticker in [from, to], oldest first.
func (c *Client) FetchRange(ctx context.Context, ticker string, from, to time.Time) ([]marketdata.Candle, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: backoff, 2*backoff, 4*backoff, ...
			wait := c.backoff << (attempt - 1)
			c.log.Debug().
				Str("ticker", ticker).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("Retrying provider fetch")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		candles, err := c.fetchOnce(ctx, ticker, from, to)
		if err == nil {
			return candles, nil
		}
		if errors.Is(err, ErrNoData) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("provider fetch for %s failed after %d retries: %w", ticker, c.maxRetries, lastErr)
}

// FetchDaily returns the candle for a single ticker and date. The payload
// cache is consulted first so gap-filling replays of already-fetched dates
// skip the network entirely.
func (c *Client) FetchDaily(ctx context.Context, ticker string, date time.Time) (*marketdata.Candle, error) {
	if c.cache != nil {
		if cached, err := c.cache.Get(ticker, date); err != nil {
			c.log.Warn().Err(err).Str("ticker", ticker).Msg("Payload cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	candles, err := c.FetchRange(ctx, ticker, date, date)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, ErrNoData
	}

	candle := candles[0]
	if c.cache != nil {
		if err := c.cache.Put(candle); err != nil {
			c.log.Warn().Err(err).Str("ticker", ticker).Msg("Payload cache write failed")
		}
	}
	return &candle, nil
}

func (c *Client) fetchOnce(ctx context.Context, ticker string, from, to time.Time) ([]marketdata.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, ticker, from, to)
	})
	if err != nil {
		return nil, err
	}

	return result.([]marketdata.Candle), nil
}

func (c *Client) doRequest(ctx context.Context, ticker string, from, to time.Time) ([]marketdata.Candle, error) {
	endpoint := fmt.Sprintf("%s/v1/daily/%s", c.baseURL, url.PathEscape(ticker))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}

	q := req.URL.Query()
	q.Set("from", from.Format(calendar.DateFormat))
	q.Set("to", to.Format(calendar.DateFormat))
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoData
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload dailyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	candles := make([]marketdata.Candle, 0, len(payload.Candles))
	for _, row := range payload.Candles {
		d, err := time.Parse(calendar.DateFormat, row.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q in provider response: %w", row.Date, err)
		}
		candles = append(candles, marketdata.Candle{
			Ticker: ticker,
			Date:   d,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}

	return candles, nil
}
