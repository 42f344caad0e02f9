package screener

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"krxwatch/internal/modules/analysis"
	"krxwatch/internal/modules/marketdata"
	"krxwatch/internal/modules/registry"
)

// recentRows is how many indicator rows each strategy sees per ticker; two
// rows are enough for cross detection.
const recentRows = 2

// Service screens the active universe with registered strategies.
type Service struct {
	strategies map[string]Strategy
	registry   *registry.Repository
	prices     *marketdata.Repository
	results    *analysis.Repository
	log        zerolog.Logger
}

// NewService creates a screener with the built-in strategies registered.
func NewService(
	registryRepo *registry.Repository,
	pricesRepo *marketdata.Repository,
	resultsRepo *analysis.Repository,
	log zerolog.Logger,
) *Service {
	s := &Service{
		strategies: make(map[string]Strategy),
		registry:   registryRepo,
		prices:     pricesRepo,
		results:    resultsRepo,
		log:        log.With().Str("component", "screener").Logger(),
	}
	for _, st := range []Strategy{MAGoldenCross{}, MACDGoldenCross{}, BollingerSqueeze{}, RSIOversold{}} {
		s.Register(st)
	}
	return s
}

// Register adds a strategy under its name.
func (s *Service) Register(st Strategy) {
	s.strategies[st.Name()] = st
}

// StrategyInfo describes a registered strategy.
type StrategyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// List returns the registered strategies sorted by name.
func (s *Service) List() []StrategyInfo {
	infos := make([]StrategyInfo, 0, len(s.strategies))
	for _, st := range s.strategies {
		infos = append(infos, StrategyInfo{Name: st.Name(), Description: st.Description()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Screen runs one strategy over every active ticker with stored indicators
// and returns matches sorted by strength descending.
func (s *Service) Screen(strategyName string) ([]Match, error) {
	st, ok := s.strategies[strategyName]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", strategyName)
	}

	tickers, err := s.registry.GetAllActive()
	if err != nil {
		return nil, fmt.Errorf("failed to load universe: %w", err)
	}

	rowsByTicker, err := s.results.GetRecentMap(recentRows)
	if err != nil {
		return nil, fmt.Errorf("failed to load indicators: %w", err)
	}

	var matches []Match
	for _, t := range tickers {
		rows := rowsByTicker[t.Ticker]
		if len(rows) == 0 {
			continue
		}

		candles, err := s.prices.GetRecent(t.Ticker, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to load prices for %s: %w", t.Ticker, err)
		}
		if len(candles) == 0 {
			continue
		}

		in := Input{Ticker: t.Ticker, Candle: candles[len(candles)-1], Rows: rows}
		strength, ok := st.Evaluate(in)
		if !ok {
			continue
		}

		matches = append(matches, Match{
			Ticker:   t.Ticker,
			Name:     t.Name,
			Date:     rows[len(rows)-1].Date,
			Strategy: st.Name(),
			Strength: strength,
			Close:    in.Candle.Close,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Strength != matches[j].Strength {
			return matches[i].Strength > matches[j].Strength
		}
		return matches[i].Ticker < matches[j].Ticker
	})

	s.log.Info().Str("strategy", strategyName).Int("matches", len(matches)).Msg("Screen completed")
	return matches, nil
}
