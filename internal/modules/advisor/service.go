// Package advisor generates AI commentary on screening results and
// individual tickers via the Anthropic API.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"krxwatch/internal/modules/analysis"
	"krxwatch/internal/modules/marketdata"
	"krxwatch/internal/modules/registry"
	"krxwatch/internal/modules/screener"
)

// ErrDisabled is returned when no API key is configured. The rest of the
// system runs fine without the advisor.
var ErrDisabled = errors.New("advisor disabled: no API key configured")

// ErrUnknownTicker is returned when the requested ticker is not tracked.
var ErrUnknownTicker = errors.New("ticker not tracked")

// Config holds advisor configuration.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// tickerPromptCandles is how many recent candles a per-ticker prompt carries.
const tickerPromptCandles = 20

// Service produces Claude-generated analysis from stored data.
type Service struct {
	cfg      Config
	client   anthropic.Client
	enabled  bool
	screener *screener.Service
	registry *registry.Repository
	prices   *marketdata.Repository
	results  *analysis.Repository
	log      zerolog.Logger
}

// NewService creates the advisor. Without an API key the service is created
// disabled and every request returns ErrDisabled.
func NewService(
	cfg Config,
	screenerSvc *screener.Service,
	registryRepo *registry.Repository,
	pricesRepo *marketdata.Repository,
	resultsRepo *analysis.Repository,
	log zerolog.Logger,
) *Service {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	s := &Service{
		cfg:      cfg,
		screener: screenerSvc,
		registry: registryRepo,
		prices:   pricesRepo,
		results:  resultsRepo,
		log:      log.With().Str("component", "advisor").Logger(),
	}

	if cfg.APIKey == "" {
		s.log.Info().Msg("No API key configured, advisor disabled")
		return s
	}

	s.client = anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	s.enabled = true
	s.log.Info().Str("model", cfg.Model).Msg("Advisor enabled")
	return s
}

// Enabled reports whether the advisor can serve requests.
func (s *Service) Enabled() bool {
	return s.enabled
}

// MarketOverview screens the universe with every registered strategy and
// asks for a market-level briefing on the combined results.
func (s *Service) MarketOverview(ctx context.Context, date time.Time) (string, error) {
	if !s.enabled {
		return "", ErrDisabled
	}

	universeSize, err := s.registry.CountActive()
	if err != nil {
		return "", fmt.Errorf("failed to size universe: %w", err)
	}

	byStrategy := make(map[string][]screener.Match)
	for _, info := range s.screener.List() {
		matches, err := s.screener.Screen(info.Name)
		if err != nil {
			return "", fmt.Errorf("failed to screen with %s: %w", info.Name, err)
		}
		byStrategy[info.Name] = matches
	}

	prompt := buildMarketOverviewPrompt(date, universeSize, byStrategy)
	return s.complete(ctx, prompt)
}

// AnalyzeTicker asks for a technical read on one tracked ticker.
func (s *Service) AnalyzeTicker(ctx context.Context, ticker string) (string, error) {
	if !s.enabled {
		return "", ErrDisabled
	}

	t, err := s.registry.GetByTicker(ticker)
	if err != nil {
		return "", fmt.Errorf("failed to look up ticker: %w", err)
	}
	if t == nil {
		return "", ErrUnknownTicker
	}

	candles, err := s.prices.GetRecent(t.Ticker, tickerPromptCandles)
	if err != nil {
		return "", fmt.Errorf("failed to load prices: %w", err)
	}
	if len(candles) == 0 {
		return "", fmt.Errorf("no price history for %s", t.Ticker)
	}

	rows, err := s.results.GetRecent(t.Ticker, 1)
	if err != nil {
		return "", fmt.Errorf("failed to load indicators: %w", err)
	}

	prompt := buildTickerPrompt(t.Ticker, t.Name, candles, rows)
	return s.complete(ctx, prompt)
}

// complete sends one prompt to the model and returns the concatenated text.
func (s *Service) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.cfg.Model),
		MaxTokens: int64(s.cfg.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("model returned no text content")
	}

	s.log.Info().
		Dur("duration", time.Since(start)).
		Int("response_chars", out.Len()).
		Msg("Completion generated")
	return out.String(), nil
}
