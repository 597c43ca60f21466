package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubedash/explorer/internal/config"
	"github.com/cubedash/explorer/internal/store"
	"github.com/cubedash/explorer/internal/summary"
)

type fakeStore struct {
	products  map[string]*summary.ProductSummary
	overviews map[string]*summary.TimePeriodOverview
	regions   []summary.Region
	items     []store.DatasetItem
	sources   []store.LinkedDataset
	derived   []store.LinkedDataset
	counts    []store.PeriodCount
	arrivals  []summary.Arrival
	quality   []summary.SpatialQuality
}

func (f *fakeStore) AllProductSummaries(ctx context.Context) ([]*summary.ProductSummary, error) {
	var out []*summary.ProductSummary
	for _, name := range []string{"ls8_ard"} {
		if p, ok := f.products[name]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetProductSummary(ctx context.Context, name string) (*summary.ProductSummary, error) {
	if p, ok := f.products[name]; ok {
		return p, nil
	}
	return nil, store.ErrNotSummarised
}

func (f *fakeStore) GetSummary(ctx context.Context, productName string, sel summary.Selection) (*summary.TimePeriodOverview, error) {
	o, ok := f.overviews[productName+"/"+sel.Label()]
	if !ok {
		return nil, store.ErrNotSummarised
	}
	return o, nil
}

func (f *fakeStore) SearchItems(ctx context.Context, q store.ItemQuery) ([]store.DatasetItem, error) {
	matches := func(d store.DatasetItem) bool {
		if len(q.Collections) > 0 {
			found := false
			for _, c := range q.Collections {
				if d.Product == c {
					found = true
				}
			}
			if !found {
				return false
			}
		}
		if len(q.IDs) > 0 {
			found := false
			for _, id := range q.IDs {
				if d.ID == id {
					found = true
				}
			}
			if !found {
				return false
			}
		}
		return true
	}

	var out []store.DatasetItem
	for _, d := range f.items {
		if matches(d) {
			out = append(out, d)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeStore) CountItems(ctx context.Context, q store.ItemQuery) (int, error) {
	items, err := f.SearchItems(ctx, store.ItemQuery{Collections: q.Collections})
	return len(items), err
}

func (f *fakeStore) ListCompleteProducts(ctx context.Context) ([]string, error) {
	var names []string
	for name := range f.products {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeStore) ProductsByRegion(ctx context.Context, regionCode string, begin, end *time.Time) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	for _, region := range f.regions {
		if region.RegionCode == regionCode && !seen[region.ProductName] {
			seen[region.ProductName] = true
			names = append(names, region.ProductName)
		}
	}
	return names, nil
}

func (f *fakeStore) DatasetSources(ctx context.Context, id uuid.UUID, limit int) ([]store.LinkedDataset, int, error) {
	return f.sources, 0, nil
}

func (f *fakeStore) DerivedDatasets(ctx context.Context, id uuid.UUID, limit int) ([]store.LinkedDataset, int, error) {
	return f.derived, 0, nil
}

func (f *fakeStore) AllDatasetCounts(ctx context.Context) ([]store.PeriodCount, error) {
	return f.counts, nil
}

func (f *fakeStore) ProductRegions(ctx context.Context, productName string) ([]summary.Region, error) {
	var out []summary.Region
	for _, region := range f.regions {
		if region.ProductName == productName {
			out = append(out, region)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestArrivals(ctx context.Context, within time.Duration) ([]summary.Arrival, error) {
	return f.arrivals, nil
}

func (f *fakeStore) SpatialQualityStats(ctx context.Context) ([]summary.SpatialQuality, error) {
	return f.quality, nil
}

func (f *fakeStore) IsInitialised(ctx context.Context) (bool, error) {
	return true, nil
}

func footprint() orb.Geometry {
	return orb.Polygon{{{130, -25}, {131, -25}, {131, -24}, {130, -24}, {130, -25}}}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	region := "17_-29"
	fake := &fakeStore{
		products: map[string]*summary.ProductSummary{
			"ls8_ard": {
				Name:         "ls8_ard",
				DatasetCount: 12,
				TimeEarliest: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
				TimeLatest:   time.Date(2017, 6, 30, 0, 0, 0, 0, time.UTC),
			},
		},
		overviews: map[string]*summary.TimePeriodOverview{
			"ls8_ard/all": {
				ProductName:  "ls8_ard",
				Period:       summary.PeriodAll,
				DatasetCount: 12,
				Footprint:    footprint(),
				RegionCounts: map[string]int{"17_-29": 12},
			},
			"ls8_ard/2017-06": {
				ProductName:  "ls8_ard",
				Period:       summary.PeriodMonth,
				DatasetCount: 5,
				Footprint:    footprint(),
				RegionCounts: map[string]int{"17_-29": 5},
				TimelineCounts: summary.TimelineCounts{
					{Day: time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC), Count: 2},
					{Day: time.Date(2017, 6, 9, 0, 0, 0, 0, time.UTC), Count: 3},
				},
			},
		},
		regions: []summary.Region{
			{ProductName: "ls8_ard", RegionCode: "17_-29", Footprint: footprint(), Count: 12},
			{ProductName: "ls8_ard", RegionCode: "18_-29", Footprint: footprint(), Count: 3},
		},
		items: []store.DatasetItem{
			{
				ID:         uuid.MustParse("00000000-0000-0000-0000-000000000001"),
				Product:    "ls8_ard",
				CenterTime: time.Date(2017, 6, 9, 1, 2, 3, 0, time.UTC),
				Geometry:   footprint(),
				RegionCode: &region,
			},
		},
		sources: []store.LinkedDataset{
			{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), Product: "ls8_level1"},
		},
		counts: []store.PeriodCount{
			{ProductName: "ls8_ard", Period: summary.PeriodAll,
				StartDay: time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), Count: 12},
			{ProductName: "ls8_ard", Period: summary.PeriodMonth,
				StartDay: time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC), Count: 5},
		},
		arrivals: []summary.Arrival{
			{
				Day:          time.Date(2017, 6, 9, 0, 0, 0, 0, time.UTC),
				ProductName:  "ls8_ard",
				DatasetCount: 7,
				SampleIDs:    []string{"00000000-0000-0000-0000-000000000001"},
			},
		},
		quality: []summary.SpatialQuality{
			{ProductName: "ls8_ard", Count: 12, MissingFootprint: 1, HasRegion: 12},
		},
	}

	cfg := &config.Config{DefaultAPILimit: 500, HardAPILimit: 4000}
	srv := httptest.NewServer(New(fake, cfg, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	var body map[string]any
	resp := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestProductNames(t *testing.T) {
	srv := newTestServer(t)

	var names []string
	resp := getJSON(t, srv.URL+"/products", &names)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"ls8_ard"}, names)
}

func TestProducts(t *testing.T) {
	srv := newTestServer(t)

	var products []productResponse
	resp := getJSON(t, srv.URL+"/api/products", &products)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, products, 1)
	assert.Equal(t, "ls8_ard", products[0].Name)
	assert.Equal(t, 12, products[0].DatasetCount)
	require.NotNil(t, products[0].TimeEarliest)
}

func TestDatasets(t *testing.T) {
	srv := newTestServer(t)

	var datasets []datasetResponse
	resp := getJSON(t, srv.URL+"/api/datasets/ls8_ard", &datasets)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, datasets, 1)
	assert.Equal(t, "17_-29", *datasets[0].RegionCode)
	assert.Len(t, datasets[0].Bbox, 4)
}

func TestDatasetDetail(t *testing.T) {
	srv := newTestServer(t)

	var detail datasetDetailResponse
	resp := getJSON(t, srv.URL+"/api/dataset/00000000-0000-0000-0000-000000000001", &detail)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ls8_ard", detail.Product)
	require.Len(t, detail.Sources, 1)
	assert.Equal(t, "ls8_level1", detail.Sources[0].Product)
	assert.Empty(t, detail.Derived)
}

func TestDatasetDetailNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/dataset/00000000-0000-0000-0000-0000000000ff")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/dataset/not-a-uuid")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegionProducts(t *testing.T) {
	srv := newTestServer(t)

	var body struct {
		RegionCode string   `json:"region_code"`
		Products   []string `json:"products"`
	}
	resp := getJSON(t, srv.URL+"/api/region/17_-29", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "17_-29", body.RegionCode)
	assert.Equal(t, []string{"ls8_ard"}, body.Products)

	empty, err := http.Get(srv.URL + "/api/region/99_-99")
	require.NoError(t, err)
	empty.Body.Close()
	assert.Equal(t, http.StatusNotFound, empty.StatusCode)
}

func TestDatasetCounts(t *testing.T) {
	srv := newTestServer(t)

	var counts []periodCountResponse
	resp := getJSON(t, srv.URL+"/audit/dataset-counts", &counts)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, counts, 2)
	assert.Equal(t, "all", counts[0].Label)
	assert.Equal(t, "2017-06", counts[1].Label)
	assert.Equal(t, 5, counts[1].DatasetCount)
}

func TestFootprint(t *testing.T) {
	srv := newTestServer(t)

	var feature struct {
		Type     string `json:"type"`
		Geometry struct {
			Type string `json:"type"`
		} `json:"geometry"`
		Properties map[string]any `json:"properties"`
	}
	resp := getJSON(t, srv.URL+"/api/footprint/ls8_ard/2017/6", &feature)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Feature", feature.Type)
	assert.Equal(t, "Polygon", feature.Geometry.Type)
	assert.Equal(t, float64(5), feature.Properties["dataset_count"])
}

func TestFootprintUnknownPeriod(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/footprint/ls8_ard/2001/2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFootprintBadSelection(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/footprint/ls8_ard/2017/13")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegions(t *testing.T) {
	srv := newTestServer(t)

	var fc struct {
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
		Features   []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	resp := getJSON(t, srv.URL+"/api/regions/ls8_ard", &fc)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, float64(12), fc.Properties["min_count"])
	assert.Equal(t, float64(12), fc.Properties["max_count"])

	// Month view only includes regions with datasets in that month.
	resp = getJSON(t, srv.URL+"/api/regions/ls8_ard/2017/6", &fc)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "17_-29", fc.Features[0].Properties["region_code"])
	assert.Equal(t, float64(5), fc.Features[0].Properties["count"])
	assert.Equal(t, float64(5), fc.Properties["max_count"])
}

func TestRegionsOnlyUnnamedRegion(t *testing.T) {
	fake := &fakeStore{
		regions: []summary.Region{
			{ProductName: "ls8_satellite_telemetry", RegionCode: "", Footprint: footprint(), Count: 4},
		},
	}
	srv := httptest.NewServer(New(fake, &config.Config{}, nil).Router())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/regions/ls8_satellite_telemetry")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTimeline(t *testing.T) {
	srv := newTestServer(t)

	var body timelineResponse
	resp := getJSON(t, srv.URL+"/api/dataset-timeline/ls8_ard/2017/6", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, body.DatasetCount)
	require.Len(t, body.Timeline, 2)
	assert.Equal(t, "2017-06-01", body.Timeline[0].Day)
	assert.Equal(t, 2, body.Timeline[0].Count)
}

func TestArrivals(t *testing.T) {
	srv := newTestServer(t)

	var arrivals []arrivalResponse
	resp := getJSON(t, srv.URL+"/audit/arrivals", &arrivals)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, arrivals, 1)
	assert.Equal(t, "2017-06-09", arrivals[0].Day)
	assert.Equal(t, 7, arrivals[0].DatasetCount)
}

func TestSpatialQuality(t *testing.T) {
	srv := newTestServer(t)

	var stats []spatialQualityResponse
	resp := getJSON(t, srv.URL+"/audit/spatial-quality", &stats)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].MissingFootprint)
}

func TestUnknownProductIs404(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/dataset-timeline/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSTACMounted(t *testing.T) {
	srv := newTestServer(t)

	var catalog map[string]any
	resp := getJSON(t, srv.URL+"/stac", &catalog)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Catalog", catalog["type"])
}
