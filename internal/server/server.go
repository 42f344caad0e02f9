// Package server exposes the read-side HTTP API over the stored universe,
// price history, indicators, screener and job ledger.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"krxwatch/internal/database"
	"krxwatch/internal/modules/advisor"
	"krxwatch/internal/modules/analysis"
	"krxwatch/internal/modules/ledger"
	"krxwatch/internal/modules/marketdata"
	"krxwatch/internal/modules/registry"
	"krxwatch/internal/modules/screener"
)

// Config holds server configuration and dependencies.
type Config struct {
	Port    int
	DevMode bool
	Log     zerolog.Logger

	// Location is the exchange timezone, used to resolve "today" for
	// ledger-keyed views. Defaults to the host timezone.
	Location *time.Location

	Registry  *registry.Repository
	Prices    *marketdata.Repository
	Analysis  *analysis.Repository
	Ledger    *ledger.Repository
	Screener  *screener.Service
	Advisor   *advisor.Service
	Databases []*database.DB
}

// Server is the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	loc    *time.Location

	registry  *registry.Repository
	prices    *marketdata.Repository
	analysis  *analysis.Repository
	ledger    *ledger.Repository
	screener  *screener.Service
	advisor   *advisor.Service
	databases []*database.DB
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		loc:       cfg.Location,
		registry:  cfg.Registry,
		prices:    cfg.Prices,
		analysis:  cfg.Analysis,
		ledger:    cfg.Ledger,
		screener:  cfg.Screener,
		advisor:   cfg.Advisor,
		databases: cfg.Databases,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(120 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/tickers", func(r chi.Router) {
			r.Get("/", s.handleListTickers)
			r.Get("/{ticker}", s.handleGetTicker)
			r.Get("/{ticker}/prices", s.handleGetPrices)
			r.Get("/{ticker}/indicators", s.handleGetIndicators)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/status", s.handleJobStatus)
			r.Get("/{name}/history", s.handleJobHistory)
		})

		r.Route("/screener", func(r chi.Router) {
			r.Get("/", s.handleListStrategies)
			r.Get("/{strategy}", s.handleScreen)
		})

		r.Route("/advisor", func(r chi.Router) {
			r.Get("/market-overview", s.handleMarketOverview)
			r.Get("/tickers/{ticker}", s.handleAdvisorTicker)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.handleSystemHealth)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
