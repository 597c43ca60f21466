package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/cubedash/explorer/internal/store"
	"github.com/cubedash/explorer/internal/summary"
)

// periodHandler serves one product summary at a chosen time granularity.
type periodHandler func(w http.ResponseWriter, r *http.Request, product string, sel summary.Selection)

// withSelection parses the product and year/month/day path segments.
func (s *Server) withSelection(h periodHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		product := chi.URLParam(r, "product")
		sel, err := parseSelection(r)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h(w, r, product, sel)
	}
}

func parseSelection(r *http.Request) (summary.Selection, error) {
	atoi := func(name string) (int, bool, error) {
		raw := chi.URLParam(r, name)
		if raw == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, false, fmt.Errorf("invalid %s: %q", name, raw)
		}
		return n, true, nil
	}

	year, haveYear, err := atoi("year")
	if err != nil {
		return summary.Selection{}, err
	}
	month, haveMonth, err := atoi("month")
	if err != nil {
		return summary.Selection{}, err
	}
	day, haveDay, err := atoi("day")
	if err != nil {
		return summary.Selection{}, err
	}

	var sel summary.Selection
	switch {
	case haveDay:
		sel = summary.SelectDay(year, month, day)
	case haveMonth:
		sel = summary.SelectMonth(year, month)
	case haveYear:
		sel = summary.SelectYear(year)
	default:
		sel = summary.SelectAll()
	}
	if err := sel.Validate(); err != nil {
		return sel, err
	}
	return sel, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok, err := s.store.IsInitialised(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"status": "ok", "initialised": ok})
}

// handleProductNames lists products with a finished summary. Cheap enough
// to double as the liveness check.
func (s *Server) handleProductNames(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.ListCompleteProducts(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, names)
}

type productResponse struct {
	Name            string         `json:"name"`
	DatasetCount    int            `json:"dataset_count"`
	TimeEarliest    *time.Time     `json:"time_earliest,omitempty"`
	TimeLatest      *time.Time     `json:"time_latest,omitempty"`
	SourceProducts  []string       `json:"source_products,omitempty"`
	DerivedProducts []string       `json:"derived_products,omitempty"`
	FixedMetadata   map[string]any `json:"fixed_metadata,omitempty"`
	LastRefresh     *time.Time     `json:"last_refresh,omitempty"`
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.AllProductSummaries(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp := productResponse{
			Name:            p.Name,
			DatasetCount:    p.DatasetCount,
			SourceProducts:  p.SourceProducts,
			DerivedProducts: p.DerivedProducts,
			FixedMetadata:   p.FixedMetadata,
		}
		if !p.TimeEarliest.IsZero() {
			t := p.TimeEarliest
			resp.TimeEarliest = &t
		}
		if !p.TimeLatest.IsZero() {
			t := p.TimeLatest
			resp.TimeLatest = &t
		}
		if !p.LastRefreshTime.IsZero() {
			t := p.LastRefreshTime
			resp.LastRefresh = &t
		}
		out = append(out, resp)
	}
	s.writeJSON(w, out)
}

type datasetResponse struct {
	ID         string     `json:"id"`
	Product    string     `json:"product"`
	CenterTime time.Time  `json:"center_time"`
	Created    *time.Time `json:"created,omitempty"`
	RegionCode *string    `json:"region_code,omitempty"`
	SizeBytes  *int64     `json:"size_bytes,omitempty"`
	Bbox       []float64  `json:"bbox,omitempty"`
}

// handleDatasets lists a product's most recently observed datasets.
func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")
	limit := s.cfg.DefaultAPILimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q", raw))
			return
		}
		limit = n
	}
	if limit > s.cfg.HardAPILimit {
		limit = s.cfg.HardAPILimit
	}

	items, err := s.store.SearchItems(r.Context(), store.ItemQuery{
		Collections:      []string{product},
		Limit:            limit,
		OrderNewestFirst: true,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	out := make([]datasetResponse, 0, len(items))
	for _, d := range items {
		resp := datasetResponse{
			ID:         d.ID.String(),
			Product:    d.Product,
			CenterTime: d.CenterTime.UTC(),
			Created:    d.CreationTime,
			RegionCode: d.RegionCode,
			SizeBytes:  d.SizeBytes,
		}
		if bound, ok := d.Bbox(); ok {
			resp.Bbox = []float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]}
		}
		out = append(out, resp)
	}
	s.writeJSON(w, out)
}

type linkedDatasetResponse struct {
	ID      string `json:"id"`
	Product string `json:"product"`
}

type datasetDetailResponse struct {
	datasetResponse
	Sources         []linkedDatasetResponse `json:"sources,omitempty"`
	SourcesNotShown int                     `json:"sources_not_shown,omitempty"`
	Derived         []linkedDatasetResponse `json:"derived,omitempty"`
	DerivedNotShown int                     `json:"derived_not_shown,omitempty"`
}

// provenanceLimit bounds how many linked datasets the detail endpoint
// returns per direction. Some derived products have thousands of sources.
const provenanceLimit = 20

// handleDataset returns one dataset with its direct provenance links.
func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid dataset id: %q", chi.URLParam(r, "id")))
		return
	}

	items, err := s.store.SearchItems(r.Context(), store.ItemQuery{
		IDs:   []uuid.UUID{id},
		Limit: 1,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if len(items) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no dataset %s", id))
		return
	}
	d := items[0]

	resp := datasetDetailResponse{
		datasetResponse: datasetResponse{
			ID:         d.ID.String(),
			Product:    d.Product,
			CenterTime: d.CenterTime.UTC(),
			Created:    d.CreationTime,
			RegionCode: d.RegionCode,
			SizeBytes:  d.SizeBytes,
		},
	}
	if bound, ok := d.Bbox(); ok {
		resp.Bbox = []float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]}
	}

	sources, remaining, err := s.store.DatasetSources(r.Context(), id, provenanceLimit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	resp.SourcesNotShown = remaining
	for _, l := range sources {
		resp.Sources = append(resp.Sources, linkedDatasetResponse{ID: l.ID.String(), Product: l.Product})
	}

	derived, remaining, err := s.store.DerivedDatasets(r.Context(), id, provenanceLimit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	resp.DerivedNotShown = remaining
	for _, l := range derived {
		resp.Derived = append(resp.Derived, linkedDatasetResponse{ID: l.ID.String(), Product: l.Product})
	}

	s.writeJSON(w, resp)
}

// handleRegionProducts lists the products with datasets in a region,
// optionally restricted to a begin/end time window.
func (s *Server) handleRegionProducts(w http.ResponseWriter, r *http.Request) {
	regionCode := chi.URLParam(r, "regionCode")

	parseTime := func(name string) (*time.Time, error) {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q", name, raw)
		}
		return &t, nil
	}
	begin, err := parseTime("begin")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTime("end")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	products, err := s.store.ProductsByRegion(r.Context(), regionCode, begin, end)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if len(products) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no datasets in region %q", regionCode))
		return
	}
	s.writeJSON(w, map[string]any{
		"region_code": regionCode,
		"products":    products,
	})
}

type periodCountResponse struct {
	Product      string         `json:"product"`
	Period       summary.Period `json:"period"`
	Label        string         `json:"label"`
	DatasetCount int            `json:"dataset_count"`
}

// handleDatasetCounts reports the dataset count of every stored summary
// period across all products.
func (s *Server) handleDatasetCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.AllDatasetCounts(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]periodCountResponse, 0, len(counts))
	for _, c := range counts {
		sel := summary.SelectionForStartDay(c.Period, c.StartDay)
		out = append(out, periodCountResponse{
			Product:      c.ProductName,
			Period:       c.Period,
			Label:        sel.Label(),
			DatasetCount: c.Count,
		})
	}
	s.writeJSON(w, out)
}

// handleFootprint returns the summarised footprint for a period as a
// GeoJSON feature.
func (s *Server) handleFootprint(w http.ResponseWriter, r *http.Request, product string, sel summary.Selection) {
	o, err := s.store.GetSummary(r.Context(), product, sel)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if o.Footprint == nil {
		s.writeError(w, http.StatusNotFound,
			fmt.Sprintf("no footprint for %s %s", product, sel.Label()))
		return
	}

	feature := geojson.NewFeature(o.Footprint)
	feature.Properties = geojson.Properties{
		"product":         product,
		"dataset_count":   o.DatasetCount,
		"footprint_count": o.FootprintCount,
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(feature); err != nil {
		s.log.Error("encode footprint", zap.Error(err))
	}
}

// handleRegions returns the product's regions as a GeoJSON feature
// collection, with per-period counts from the matching overview.
func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request, product string, sel summary.Selection) {
	regions, err := s.store.ProductRegions(r.Context(), product)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	// Datasets without a region code land in the unnamed region; a
	// product with only that one has no regions layer to show.
	if len(regions) == 0 || (len(regions) == 1 && regions[0].RegionCode == "") {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("product %s has no regions", product))
		return
	}

	counts := map[string]int{}
	if o, err := s.store.GetSummary(r.Context(), product, sel); err == nil {
		counts = o.RegionCounts
	} else if !errors.Is(err, store.ErrNotSummarised) {
		s.writeStoreError(w, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, region := range regions {
		if region.Footprint == nil {
			continue
		}
		count, ok := counts[region.RegionCode]
		if !ok && sel.Period() != summary.PeriodAll {
			// Region had no datasets in this period.
			continue
		}
		feature := geojson.NewFeature(region.Footprint)
		feature.Properties = geojson.Properties{
			"region_code": region.RegionCode,
			"count":       count,
		}
		fc.Append(feature)
	}

	low, high := 0, 0
	first := true
	for _, count := range counts {
		if first || count < low {
			low = count
		}
		if first || count > high {
			high = count
		}
		first = false
	}
	fc.ExtraMembers = geojson.Properties{
		"properties": map[string]any{
			"min_count": low,
			"max_count": high,
		},
	}

	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		s.log.Error("encode regions", zap.Error(err))
	}
}

type timelineResponse struct {
	Product      string         `json:"product"`
	Period       summary.Period `json:"period"`
	DatasetCount int            `json:"dataset_count"`
	Timeline     []timelineDay  `json:"timeline"`
}

type timelineDay struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request, product string, sel summary.Selection) {
	o, err := s.store.GetSummary(r.Context(), product, sel)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	resp := timelineResponse{
		Product:      product,
		Period:       o.Period,
		DatasetCount: o.DatasetCount,
		Timeline:     make([]timelineDay, 0, len(o.TimelineCounts)),
	}
	for _, d := range o.TimelineCounts {
		resp.Timeline = append(resp.Timeline, timelineDay{
			Day:   d.Day.Format("2006-01-02"),
			Count: d.Count,
		})
	}
	s.writeJSON(w, resp)
}

type arrivalResponse struct {
	Day          string   `json:"day"`
	Product      string   `json:"product"`
	DatasetCount int      `json:"dataset_count"`
	SampleIDs    []string `json:"sample_dataset_ids,omitempty"`
}

// handleArrivals reports recent dataset arrivals, newest first. The window
// defaults to five days before the most recent arrival.
func (s *Server) handleArrivals(w http.ResponseWriter, r *http.Request) {
	days := 5
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid days: %q", raw))
			return
		}
		days = n
	}

	arrivals, err := s.store.LatestArrivals(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]arrivalResponse, 0, len(arrivals))
	for _, a := range arrivals {
		out = append(out, arrivalResponse{
			Day:          a.Day.Format("2006-01-02"),
			Product:      a.ProductName,
			DatasetCount: a.DatasetCount,
			SampleIDs:    a.SampleIDs,
		})
	}
	s.writeJSON(w, out)
}

type spatialQualityResponse struct {
	Product          string `json:"product"`
	Count            int    `json:"count"`
	MissingFootprint int    `json:"missing_footprint"`
	FootprintSize    int64  `json:"footprint_size_bytes"`
	MissingSRID      int    `json:"missing_srid"`
	HasFileSize      int    `json:"has_file_size"`
	HasRegion        int    `json:"has_region"`
}

func (s *Server) handleSpatialQuality(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.SpatialQualityStats(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]spatialQualityResponse, 0, len(stats))
	for _, q := range stats {
		out = append(out, spatialQualityResponse{
			Product:          q.ProductName,
			Count:            q.Count,
			MissingFootprint: q.MissingFootprint,
			FootprintSize:    q.FootprintSize,
			MissingSRID:      q.MissingSRID,
			HasFileSize:      q.HasFileSize,
			HasRegion:        q.HasRegion,
		})
	}
	s.writeJSON(w, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]any{"status": status, "title": http.StatusText(status)}
	if detail != "" {
		payload["detail"] = detail
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// writeStoreError maps store sentinels onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotSummarised),
		errors.Is(err, store.ErrUnknownProduct):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrEmptyCatalog):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "")
	}
}
