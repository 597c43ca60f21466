// Package stacapi serves a STAC API (core + item search) over the summary
// store: each product is a collection, each indexed dataset an item.
package stacapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cubedash/explorer/internal/store"
	"github.com/cubedash/explorer/internal/summary"
)

const (
	stacVersion = "1.0.0"

	conformanceCore        = "https://api.stacspec.org/v1.0.0/core"
	conformanceCollections = "https://api.stacspec.org/v1.0.0/collections"
	conformanceFeatures    = "https://api.stacspec.org/v1.0.0/ogcapi-features"
	conformanceItemSearch  = "https://api.stacspec.org/v1.0.0/item-search"
	conformanceFilter      = "https://api.stacspec.org/v1.0.0/item-search#filter"
)

// Store is the summary-store surface the API reads from.
type Store interface {
	AllProductSummaries(ctx context.Context) ([]*summary.ProductSummary, error)
	GetProductSummary(ctx context.Context, name string) (*summary.ProductSummary, error)
	GetSummary(ctx context.Context, productName string, sel summary.Selection) (*summary.TimePeriodOverview, error)
	SearchItems(ctx context.Context, q store.ItemQuery) ([]store.DatasetItem, error)
	CountItems(ctx context.Context, q store.ItemQuery) (int, error)
}

// Config tunes the API surface.
type Config struct {
	// Title and Description appear on the root catalog.
	Title       string
	Description string

	// DefaultLimit is the page size when the client doesn't ask for one.
	DefaultLimit int
	// HardLimit caps the page size regardless of what the client asks for.
	HardLimit int

	// BaseURL overrides link generation; when empty, links are derived
	// from each request's Host header.
	BaseURL string

	// MountPath is the router prefix links are generated under, e.g.
	// "/stac". Leave empty when Routes() is served at the root.
	MountPath string
}

// Handler serves the STAC endpoints.
type Handler struct {
	store Store
	cfg   Config
	log   *zap.Logger
}

// New builds a Handler over the given store.
func New(s Store, cfg Config, log *zap.Logger) *Handler {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 500
	}
	if cfg.HardLimit <= 0 {
		cfg.HardLimit = 4000
	}
	if cfg.Title == "" {
		cfg.Title = "Explorer"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: s, cfg: cfg, log: log}
}

// Routes returns the router for mounting under /stac.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleRoot)
	r.Get("/conformance", h.handleConformance)
	r.Get("/collections", h.handleCollections)
	r.Get("/collections/{collection}", h.handleCollection)
	r.Get("/collections/{collection}/items", h.handleCollectionItems)
	r.Get("/collections/{collection}/items/{id}", h.handleItem)
	r.Get("/search", h.handleSearchGET)
	r.Post("/search", h.handleSearchPOST)
	return r
}

// baseURL resolves the absolute URL prefix of the STAC mount for link
// generation.
func (h *Handler) baseURL(r *http.Request) string {
	if h.cfg.BaseURL != "" {
		return h.cfg.BaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: h.cfg.MountPath}
	return u.String()
}
