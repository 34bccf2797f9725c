// Package api is the HTTP surface: fund and analytics reads, sync control,
// health, and Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prashant21b/kreditbee/internal/pipeline"
	"github.com/prashant21b/kreditbee/internal/ratelimit"
	"github.com/prashant21b/kreditbee/internal/store"
)

// FundReader serves fund lookups.
type FundReader interface {
	Get(ctx context.Context, schemeCode string) (*store.Fund, error)
	List(ctx context.Context, category, amc string) ([]store.Fund, error)
}

// NAVReader serves the latest NAV lookup.
type NAVReader interface {
	Latest(ctx context.Context, schemeCode string) (*store.NavPoint, error)
}

// AnalyticsReader serves analytics rows and rankings.
type AnalyticsReader interface {
	Get(ctx context.Context, schemeCode, windowType string) (*store.AnalyticsRow, error)
	Rank(ctx context.Context, category, windowType, sortBy string, limit int) ([]store.RankEntry, error)
}

// SyncReader serves the sync-state histogram.
type SyncReader interface {
	Histogram(ctx context.Context) ([]store.StatusCount, error)
}

// StatusReader serves the pipeline-status row.
type StatusReader interface {
	Get(ctx context.Context) (*store.PipelineStatus, error)
}

// Triggerer starts pipeline runs.
type Triggerer interface {
	Trigger(ctx context.Context, mode pipeline.Mode) error
}

// LimiterStatus peeks the admission buckets without consuming tokens.
type LimiterStatus interface {
	Status(ctx context.Context) ([]ratelimit.BucketStatus, error)
}

// Deps wires the server.
type Deps struct {
	Funds     FundReader
	NAVs      NAVReader
	Analytics AnalyticsReader
	Sync      SyncReader
	Status    StatusReader
	Pipeline  Triggerer
	Limiter   LimiterStatus
	Logger    *slog.Logger
}

// Server holds the handlers.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// New builds the server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, logger: logger}
}

// Router assembles the chi router with the standard middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/sync", func(r chi.Router) {
		r.Post("/trigger", s.handleSyncTrigger)
		r.Get("/status", s.handleSyncStatus)
	})

	r.Route("/funds", func(r chi.Router) {
		r.Get("/", s.handleListFunds)
		r.Get("/rank", s.handleRankFunds)
		r.Get("/{code}", s.handleGetFund)
		r.Get("/{code}/analytics", s.handleGetAnalytics)
	})

	return r
}
