// Package server is the explorer web service: product and summary JSON
// endpoints under /api, audit feeds, and the STAC API mounted at /stac.
package server

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cubedash/explorer/internal/config"
	"github.com/cubedash/explorer/internal/stacapi"
	"github.com/cubedash/explorer/internal/store"
	"github.com/cubedash/explorer/internal/summary"
)

// Store is the summary-store surface the server reads from.
type Store interface {
	stacapi.Store

	ListCompleteProducts(ctx context.Context) ([]string, error)
	ProductRegions(ctx context.Context, productName string) ([]summary.Region, error)
	ProductsByRegion(ctx context.Context, regionCode string, begin, end *time.Time) ([]string, error)
	DatasetSources(ctx context.Context, id uuid.UUID, limit int) ([]store.LinkedDataset, int, error)
	DerivedDatasets(ctx context.Context, id uuid.UUID, limit int) ([]store.LinkedDataset, int, error)
	AllDatasetCounts(ctx context.Context) ([]store.PeriodCount, error)
	LatestArrivals(ctx context.Context, within time.Duration) ([]summary.Arrival, error)
	SpatialQualityStats(ctx context.Context) ([]summary.SpatialQuality, error)
	IsInitialised(ctx context.Context) (bool, error)
}

// Server routes explorer HTTP traffic.
type Server struct {
	store Store
	cfg   *config.Config
	log   *zap.Logger
}

// New builds a Server; pass nil log to disable logging.
func New(s Store, cfg *config.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{store: s, cfg: cfg, log: log}
}

// Router assembles the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	if s.cfg.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/products", s.handleProductNames)

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", s.handleProducts)
		r.Get("/datasets/{product}", s.handleDatasets)
		r.Get("/dataset/{id}", s.handleDataset)
		r.Get("/region/{regionCode}", s.handleRegionProducts)

		for _, prefix := range []string{"/footprint", "/regions", "/dataset-timeline"} {
			var h func(chi.Router)
			switch prefix {
			case "/footprint":
				h = s.periodRoutes(s.handleFootprint)
			case "/regions":
				h = s.periodRoutes(s.handleRegions)
			case "/dataset-timeline":
				h = s.periodRoutes(s.handleTimeline)
			}
			r.Route(prefix+"/{product}", h)
		}
	})

	r.Get("/audit/arrivals", s.handleArrivals)
	r.Get("/audit/dataset-counts", s.handleDatasetCounts)
	r.Get("/audit/spatial-quality", s.handleSpatialQuality)

	r.Mount("/stac", stacapi.New(s.store, stacapi.Config{
		Title:        "Open Data Cube Explorer",
		Description:  "Dataset summaries and search over an Open Data Cube index",
		DefaultLimit: s.cfg.DefaultAPILimit,
		HardLimit:    s.cfg.HardAPILimit,
		MountPath:    "/stac",
	}, s.log).Routes())

	return r
}

// periodRoutes registers a summary handler at product, year, month and day
// granularity.
func (s *Server) periodRoutes(h periodHandler) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", s.withSelection(h))
		r.Get("/{year:[0-9]+}", s.withSelection(h))
		r.Get("/{year:[0-9]+}/{month:[0-9]+}", s.withSelection(h))
		r.Get("/{year:[0-9]+}/{month:[0-9]+}/{day:[0-9]+}", s.withSelection(h))
	}
}

var _ Store = (*store.SummaryStore)(nil)
