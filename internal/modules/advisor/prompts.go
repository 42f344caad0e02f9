package advisor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"krxwatch/internal/calendar"
	"krxwatch/internal/modules/analysis"
	"krxwatch/internal/modules/marketdata"
	"krxwatch/internal/modules/screener"
)

// systemPrompt frames every request. The persona mirrors how a research desk
// would brief a senior analyst covering KOSPI and KOSDAQ.
const systemPrompt = `You are a senior equity analyst with twenty years of experience covering the Korean stock market (KOSPI and KOSDAQ). You understand Korean market structure, the influence of foreign and institutional flows, and how technical signals behave in this market. Answer in concise, well-structured Markdown. Ground every claim in the data provided; when the data is insufficient, say so instead of speculating. Nothing you write is investment advice and you must include a one-line disclaimer at the end.`

// buildMarketOverviewPrompt summarizes screening results across strategies
// into a market-level briefing request.
func buildMarketOverviewPrompt(date time.Time, universeSize int, byStrategy map[string][]screener.Match) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Market screening summary for %s\n\n", date.Format(calendar.DateFormat))
	fmt.Fprintf(&b, "Universe: %d active tickers screened.\n\n", universeSize)

	total := 0
	for _, matches := range byStrategy {
		total += len(matches)
	}
	fmt.Fprintf(&b, "Strategies run: %d. Total signals: %d.\n\n", len(byStrategy), total)

	// Map order varies run to run; sorted sections keep prompts reproducible.
	names := make([]string, 0, len(byStrategy))
	for name := range byStrategy {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		matches := byStrategy[name]
		fmt.Fprintf(&b, "### Strategy: %s (%d matches)\n", name, len(matches))
		if len(matches) == 0 {
			b.WriteString("No matches.\n\n")
			continue
		}
		for i, m := range matches {
			if i >= 10 {
				fmt.Fprintf(&b, "- ... and %d more\n", len(matches)-i)
				break
			}
			fmt.Fprintf(&b, "- %s (%s): close %.0f, signal strength %.2f\n", m.Ticker, m.Name, m.Close, m.Strength)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Based on these screening results, write a market overview briefing:
1. What does the distribution of signals across strategies suggest about the current market phase?
2. Which sectors or themes appear among the matched tickers, if any?
3. What is the single most important risk to these signals right now?
Keep it under 400 words.`)

	return b.String()
}

// buildTickerPrompt turns one ticker's recent history and indicators into a
// focused technical analysis request.
func buildTickerPrompt(ticker, name string, candles []marketdata.Candle, rows []analysis.IndicatorRow) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Technical snapshot: %s (%s)\n\n", name, ticker)

	b.WriteString("### Recent daily prices (oldest first)\n")
	b.WriteString("date | open | high | low | close | volume\n")
	for _, c := range candles {
		fmt.Fprintf(&b, "%s | %.0f | %.0f | %.0f | %.0f | %d\n",
			c.Date.Format(calendar.DateFormat), c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	if len(rows) > 0 {
		latest := rows[len(rows)-1]
		b.WriteString("\n### Latest indicators\n")
		writeIndicator(&b, "SMA(5)", latest.SMA5)
		writeIndicator(&b, "SMA(20)", latest.SMA20)
		writeIndicator(&b, "SMA(60)", latest.SMA60)
		writeIndicator(&b, "MACD", latest.MACD)
		writeIndicator(&b, "MACD signal", latest.MACDSignal)
		writeIndicator(&b, "MACD histogram", latest.MACDHistogram)
		writeIndicator(&b, "RSI(14)", latest.RSI14)
		writeIndicator(&b, "Bollinger upper", latest.BollingerUpper)
		writeIndicator(&b, "Bollinger middle", latest.BollingerMiddle)
		writeIndicator(&b, "Bollinger lower", latest.BollingerLower)
		writeIndicator(&b, "Stochastic %K", latest.StochK)
		writeIndicator(&b, "Stochastic %D", latest.StochD)
		writeIndicator(&b, "Annualized volatility", latest.Volatility)
	}

	b.WriteString(`
Analyze this ticker:
1. Current trend and momentum, citing the specific indicator values above.
2. Key support and resistance levels visible in the price data.
3. The technical scenario that would invalidate your read.
Keep it under 300 words.`)

	return b.String()
}

func writeIndicator(b *strings.Builder, label string, v *float64) {
	if v == nil {
		fmt.Fprintf(b, "- %s: n/a\n", label)
		return
	}
	fmt.Fprintf(b, "- %s: %.2f\n", label, *v)
}
