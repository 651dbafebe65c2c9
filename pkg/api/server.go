// Package api serves the marketplace and transaction history endpoints with
// conditional caching headers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Universal-Basic-Compute/serenissima-api/pkg/cache"
	"github.com/Universal-Basic-Compute/serenissima-api/pkg/logging"
	"github.com/Universal-Basic-Compute/serenissima-api/pkg/market"
	"github.com/Universal-Basic-Compute/serenissima-api/pkg/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Resource names, used as cache names and in invalidation routes.
const (
	ResourceMarketplace = "marketplace"
	ResourceHistory     = "history"
)

// Pinger reports whether a dependency is reachable. *cache.RedisStore implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

var _ Pinger = (*cache.RedisStore)(nil)

// Config holds the server dependencies.
type Config struct {
	// Source provides backend transactions (required)
	Source market.Source

	// Listings caches marketplace bodies (required)
	Listings *cache.ConditionalCache[market.ListingsBody]

	// History caches transaction history bodies (required)
	History *cache.ConditionalCache[market.HistoryBody]

	// FreshnessWindow for both resources (default cache.DefaultFreshness)
	FreshnessWindow time.Duration

	// Clock computes remaining freshness for max-age; share it with the caches (default: real clock)
	Clock clockwork.Clock

	// Ready is checked by /ready (optional)
	Ready Pinger

	// Logger (default: global logger with component=api)
	Logger *zerolog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	source   market.Source
	listings *cache.ConditionalCache[market.ListingsBody]
	history  *cache.ConditionalCache[market.HistoryBody]
	window   time.Duration
	clock    clockwork.Clock
	ready    Pinger
	logger   zerolog.Logger
}

// NewServer creates a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, errors.New("source is required")
	}
	if cfg.Listings == nil || cfg.History == nil {
		return nil, errors.New("listings and history caches are required")
	}

	window := cfg.FreshnessWindow
	if window <= 0 {
		window = cache.DefaultFreshness
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	logger := log.With().Str("component", "api").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Server{
		source:   cfg.Source,
		listings: cfg.Listings,
		history:  cfg.History,
		window:   window,
		clock:    clock,
		ready:    cfg.Ready,
		logger:   logger,
	}, nil
}

// Handler returns the routed HTTP handler, wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/marketplace", s.handleMarketplace)
	mux.HandleFunc("GET /api/transactions/history", s.handleHistory)
	mux.HandleFunc("DELETE /api/cache/{resource}", s.handleInvalidate)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	return logging.Middleware(s.logger)(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.ready.Ping(ctx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "store unavailable")
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
