package stacapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	stac "github.com/planetlabs/go-stac"

	"github.com/cubedash/explorer/internal/store"
	"github.com/cubedash/explorer/internal/summary"
)

// Catalog is the STAC root document.
type Catalog struct {
	Type        string       `json:"type"`
	Version     string       `json:"stac_version"`
	ID          string       `json:"id"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description"`
	ConformsTo  []string     `json:"conformsTo"`
	Links       []*stac.Link `json:"links"`
}

func conformsTo() []string {
	return []string{
		conformanceCore,
		conformanceCollections,
		conformanceFeatures,
		conformanceItemSearch,
		conformanceFilter,
	}
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	base := h.baseURL(r)
	catalog := Catalog{
		Type:        "Catalog",
		Version:     stacVersion,
		ID:          "odc-explorer",
		Title:       h.cfg.Title,
		Description: h.cfg.Description,
		ConformsTo:  conformsTo(),
		Links: []*stac.Link{
			{Rel: "self", Type: "application/json", Href: base},
			{Rel: "root", Type: "application/json", Href: base},
			{Rel: "conformance", Type: "application/json", Href: base + "/conformance"},
			{Rel: "data", Type: "application/json", Href: base + "/collections"},
			{Rel: "search", Type: "application/geo+json", Href: base + "/search",
				AdditionalFields: map[string]any{"method": "GET"}},
			{Rel: "search", Type: "application/geo+json", Href: base + "/search",
				AdditionalFields: map[string]any{"method": "POST"}},
		},
	}

	products, err := h.store.AllProductSummaries(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	for _, p := range products {
		catalog.Links = append(catalog.Links, &stac.Link{
			Rel:   "child",
			Type:  "application/json",
			Title: p.Name,
			Href:  fmt.Sprintf("%s/collections/%s", base, p.Name),
		})
	}
	h.writeJSON(w, "application/json", catalog)
}

func (h *Handler) handleConformance(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, "application/json", map[string]any{"conformsTo": conformsTo()})
}

func (h *Handler) handleCollections(w http.ResponseWriter, r *http.Request) {
	base := h.baseURL(r)
	products, err := h.store.AllProductSummaries(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	collections := make([]*stac.Collection, 0, len(products))
	for _, p := range products {
		collections = append(collections, h.collection(r.Context(), p, base))
	}
	h.writeJSON(w, "application/json", map[string]any{
		"collections": collections,
		"links": []*stac.Link{
			{Rel: "self", Type: "application/json", Href: base + "/collections"},
			{Rel: "root", Type: "application/json", Href: base},
		},
	})
}

func (h *Handler) handleCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	p, err := h.store.GetProductSummary(r.Context(), name)
	if errors.Is(err, store.ErrNotSummarised) {
		h.writeError(w, errNotFound(fmt.Sprintf("no collection %q", name)))
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, "application/json", h.collection(r.Context(), p, h.baseURL(r)))
}

// collection renders a product summary as a STAC collection. The spatial
// extent comes from the whole-product footprint when one is summarised.
func (h *Handler) collection(ctx context.Context, p *summary.ProductSummary, base string) *stac.Collection {
	extent := &stac.Extent{
		Spatial:  &stac.SpatialExtent{Bbox: [][]float64{{-180, -90, 180, 90}}},
		Temporal: &stac.TemporalExtent{Interval: [][]any{{nil, nil}}},
	}
	if !p.TimeEarliest.IsZero() && !p.TimeLatest.IsZero() {
		extent.Temporal.Interval = [][]any{{
			p.TimeEarliest.UTC().Format(time.RFC3339),
			p.TimeLatest.UTC().Format(time.RFC3339),
		}}
	}
	if overview, err := h.store.GetSummary(ctx, p.Name, summary.SelectAll()); err == nil && overview.Footprint != nil {
		bound := overview.Footprint.Bound()
		extent.Spatial.Bbox = [][]float64{{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]}}
	}

	description := fmt.Sprintf("%d datasets", p.DatasetCount)
	return &stac.Collection{
		Version:     stacVersion,
		Id:          p.Name,
		License:     "proprietary",
		Description: description,
		Extent:      extent,
		Links: []*stac.Link{
			{Rel: "self", Type: "application/json", Href: fmt.Sprintf("%s/collections/%s", base, p.Name)},
			{Rel: "items", Type: "application/geo+json", Href: fmt.Sprintf("%s/collections/%s/items", base, p.Name)},
			{Rel: "root", Type: "application/json", Href: base},
		},
	}
}

func (h *Handler) handleCollectionItems(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	if _, err := h.store.GetProductSummary(r.Context(), name); err != nil {
		if errors.Is(err, store.ErrNotSummarised) {
			h.writeError(w, errNotFound(fmt.Sprintf("no collection %q", name)))
		} else {
			h.writeError(w, err)
		}
		return
	}

	params, err := parseSearchQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	params.Collections = []string{name}
	href := fmt.Sprintf("%s/collections/%s/items", h.baseURL(r), name)
	h.search(w, r, params, href)
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, errBadRequest(fmt.Sprintf("invalid item id: %q", chi.URLParam(r, "id"))))
		return
	}

	items, err := h.store.SearchItems(r.Context(), store.ItemQuery{
		Collections: []string{name},
		IDs:         []uuid.UUID{id},
		Limit:       1,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(items) == 0 {
		h.writeError(w, errNotFound(fmt.Sprintf("no dataset %s in %s", id, name)))
		return
	}
	h.writeJSON(w, "application/geo+json", stacItem(items[0], h.baseURL(r)))
}

func (h *Handler) handleSearchGET(w http.ResponseWriter, r *http.Request) {
	params, err := parseSearchQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.search(w, r, params, h.baseURL(r)+"/search")
}

func (h *Handler) handleSearchPOST(w http.ResponseWriter, r *http.Request) {
	var params SearchParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.writeError(w, errBadRequest(fmt.Sprintf("invalid search body: %v", err)))
		return
	}
	h.search(w, r, params, h.baseURL(r)+"/search")
}

// search runs an item query and writes one page, with a rel=next link when
// more results remain.
func (h *Handler) search(w http.ResponseWriter, r *http.Request, params SearchParams, href string) {
	q, err := params.toItemQuery(h.cfg)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Over-fetch by one row to detect a further page.
	probe := q
	probe.Limit = q.Limit + 1
	items, err := h.store.SearchItems(r.Context(), probe)
	if err != nil {
		h.writeError(w, err)
		return
	}
	hasMore := len(items) > q.Limit
	if hasMore {
		items = items[:q.Limit]
	}

	matched, err := h.store.CountItems(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}

	base := h.baseURL(r)
	page := ItemCollection{
		Type:           "FeatureCollection",
		Items:          make([]*stac.Item, 0, len(items)),
		NumberReturned: len(items),
		NumberMatched:  &matched,
		Context: map[string]any{
			"limit":    q.Limit,
			"matched":  matched,
			"returned": len(items),
		},
		Links: []*stac.Link{
			{Rel: "self", Type: "application/geo+json", Href: href},
			{Rel: "root", Type: "application/json", Href: base},
		},
	}
	for _, d := range items {
		page.Items = append(page.Items, stacItem(d, base))
	}
	if hasMore {
		next := params.nextQuery(q.Offset + q.Limit)
		page.Links = append(page.Links, &stac.Link{
			Rel:  "next",
			Type: "application/geo+json",
			Href: href + "?" + next.Encode(),
		})
	}
	h.writeJSON(w, "application/geo+json", page)
}
