package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"krxwatch/internal/modules/advisor"
	"krxwatch/internal/modules/ledger"
	"krxwatch/internal/modules/screener"
)

// queryLimit parses a ?limit= parameter with a default and a hard ceiling.
func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "krxwatch",
	})
}

func (s *Server) handleListTickers(w http.ResponseWriter, r *http.Request) {
	var (
		tickers interface{}
		err     error
	)
	if r.URL.Query().Get("all") == "true" {
		tickers, err = s.registry.GetAll()
	} else {
		tickers, err = s.registry.GetAllActive()
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list tickers")
		s.writeError(w, http.StatusInternalServerError, "failed to list tickers")
		return
	}
	s.writeJSON(w, http.StatusOK, tickers)
}

func (s *Server) handleGetTicker(w http.ResponseWriter, r *http.Request) {
	ticker, err := s.registry.GetByTicker(chi.URLParam(r, "ticker"))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to get ticker")
		s.writeError(w, http.StatusInternalServerError, "failed to get ticker")
		return
	}
	if ticker == nil {
		s.writeError(w, http.StatusNotFound, "ticker not tracked")
		return
	}
	s.writeJSON(w, http.StatusOK, ticker)
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 30, 500)

	candles, err := s.prices.GetRecent(chi.URLParam(r, "ticker"), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to get prices")
		s.writeError(w, http.StatusInternalServerError, "failed to get prices")
		return
	}
	s.writeJSON(w, http.StatusOK, candles)
}

func (s *Server) handleGetIndicators(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 30, 500)

	rows, err := s.analysis.GetRecent(chi.URLParam(r, "ticker"), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to get indicators")
		s.writeError(w, http.StatusInternalServerError, "failed to get indicators")
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// jobStatus is the per-job section of the status response.
type jobStatus struct {
	LastCompletedDate *string             `json:"last_completed_date"`
	TodayRun          *ledger.JobRun      `json:"today_run,omitempty"`
	TodayInvocations  []ledger.Invocation `json:"today_invocations,omitempty"`
	Backlog           *int                `json:"backlog,omitempty"`
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	today := time.Now().In(s.loc)
	status := make(map[string]jobStatus, 2)

	for _, name := range []string{ledger.JobIngest, ledger.JobAnalyze} {
		var js jobStatus

		last, err := s.ledger.LastCompletedDate(name)
		if err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("Failed to read ledger")
			s.writeError(w, http.StatusInternalServerError, "failed to read job ledger")
			return
		}
		if last != nil {
			d := last.Format("2006-01-02")
			js.LastCompletedDate = &d
		}

		run, err := s.ledger.GetRun(name, today)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to read job ledger")
			return
		}
		js.TodayRun = run

		invs, err := s.ledger.InvocationsFor(name, today)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to read job ledger")
			return
		}
		js.TodayInvocations = invs

		// The analysis backlog is what is still pending for today's date.
		if name == ledger.JobAnalyze {
			pending, err := s.registry.PendingAnalysis(today)
			if err != nil {
				s.writeError(w, http.StatusInternalServerError, "failed to read analysis backlog")
				return
			}
			n := len(pending)
			js.Backlog = &n
		}

		status[name] = js
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name != ledger.JobIngest && name != ledger.JobAnalyze {
		s.writeError(w, http.StatusNotFound, "unknown job")
		return
	}

	runs, err := s.ledger.History(name, queryLimit(r, 30, 365))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read job history")
		s.writeError(w, http.StatusInternalServerError, "failed to read job history")
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.screener.List())
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	matches, err := s.screener.Screen(chi.URLParam(r, "strategy"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if matches == nil {
		matches = []screener.Match{}
	}
	s.writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleMarketOverview(w http.ResponseWriter, r *http.Request) {
	text, err := s.advisor.MarketOverview(r.Context(), time.Now())
	if err != nil {
		s.writeAdvisorError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"analysis": text})
}

func (s *Server) handleAdvisorTicker(w http.ResponseWriter, r *http.Request) {
	text, err := s.advisor.AnalyzeTicker(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		s.writeAdvisorError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"analysis": text})
}

func (s *Server) writeAdvisorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, advisor.ErrDisabled):
		s.writeError(w, http.StatusServiceUnavailable, "advisor is not configured")
	case errors.Is(err, advisor.ErrUnknownTicker):
		s.writeError(w, http.StatusNotFound, "ticker not tracked")
	default:
		s.log.Error().Err(err).Msg("Advisor request failed")
		s.writeError(w, http.StatusBadGateway, "advisor request failed")
	}
}
