package stacapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubedash/explorer/internal/store"
	"github.com/cubedash/explorer/internal/summary"
)

// fakeStore serves fixtures and records the last item query it saw.
type fakeStore struct {
	products map[string]*summary.ProductSummary
	items    []store.DatasetItem

	lastQuery store.ItemQuery
}

func (f *fakeStore) AllProductSummaries(ctx context.Context) ([]*summary.ProductSummary, error) {
	out := make([]*summary.ProductSummary, 0, len(f.products))
	for _, name := range []string{"ls8_ard", "s2a_granule"} {
		if p, ok := f.products[name]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetProductSummary(ctx context.Context, name string) (*summary.ProductSummary, error) {
	p, ok := f.products[name]
	if !ok {
		return nil, store.ErrNotSummarised
	}
	return p, nil
}

func (f *fakeStore) GetSummary(ctx context.Context, productName string, sel summary.Selection) (*summary.TimePeriodOverview, error) {
	p, ok := f.products[productName]
	if !ok {
		return nil, store.ErrNotSummarised
	}
	return &summary.TimePeriodOverview{
		ProductName:  productName,
		Period:       sel.Period(),
		StartDay:     sel.StartDay(),
		DatasetCount: p.DatasetCount,
		Footprint:    testFootprint(130, -25),
	}, nil
}

func (f *fakeStore) matches(q store.ItemQuery, d store.DatasetItem) bool {
	if len(q.Collections) > 0 {
		found := false
		for _, c := range q.Collections {
			if c == d.Product {
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
			if id == d.ID {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if q.TimeBegin != nil && d.CenterTime.Before(*q.TimeBegin) {
		return false
	}
	if q.TimeEnd != nil && !d.CenterTime.Before(*q.TimeEnd) {
		return false
	}
	return true
}

func (f *fakeStore) SearchItems(ctx context.Context, q store.ItemQuery) ([]store.DatasetItem, error) {
	f.lastQuery = q
	var matched []store.DatasetItem
	for _, d := range f.items {
		if f.matches(q, d) {
			matched = append(matched, d)
		}
	}
	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (f *fakeStore) CountItems(ctx context.Context, q store.ItemQuery) (int, error) {
	n := 0
	for _, d := range f.items {
		if f.matches(q, d) {
			n++
		}
	}
	return n, nil
}

func testFootprint(lon, lat float64) orb.Geometry {
	return orb.Polygon{{
		{lon, lat}, {lon + 1, lat}, {lon + 1, lat + 1}, {lon, lat + 1}, {lon, lat},
	}}
}

func testFixture() *fakeStore {
	fake := &fakeStore{
		products: map[string]*summary.ProductSummary{
			"ls8_ard": {
				Name:         "ls8_ard",
				DatasetCount: 8,
				TimeEarliest: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
				TimeLatest:   time.Date(2017, 6, 30, 0, 0, 0, 0, time.UTC),
			},
			"s2a_granule": {
				Name:         "s2a_granule",
				DatasetCount: 2,
			},
		},
	}
	region := "17_-29"
	for i := 0; i < 8; i++ {
		fake.items = append(fake.items, store.DatasetItem{
			ID:         uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", i+1)),
			Product:    "ls8_ard",
			CenterTime: time.Date(2017, 6, 1+i, 0, 0, 0, 0, time.UTC),
			Geometry:   testFootprint(130+float64(i), -25),
			RegionCode: &region,
		})
	}
	for i := 0; i < 2; i++ {
		fake.items = append(fake.items, store.DatasetItem{
			ID:         uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0001-%012d", i+1)),
			Product:    "s2a_granule",
			CenterTime: time.Date(2018, 3, 1+i, 0, 0, 0, 0, time.UTC),
			Geometry:   testFootprint(147, -35),
		})
	}
	return fake
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore) {
	t.Helper()

	fake := testFixture()
	handler := New(fake, Config{DefaultLimit: 5, HardLimit: 100}, nil)
	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)
	return srv, fake
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func itemCollectionSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	f, err := os.Open("testdata/itemcollection.json")
	require.NoError(t, err)
	defer f.Close()

	doc, err := jsonschema.UnmarshalJSON(f)
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	require.NoError(t, compiler.AddResource("itemcollection.json", doc))
	schema, err := compiler.Compile("itemcollection.json")
	require.NoError(t, err)
	return schema
}

func validatePage(t *testing.T, schema *jsonschema.Schema, body []byte) {
	t.Helper()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	require.NoError(t, err)
	require.NoError(t, schema.Validate(doc))
}

func TestRootCatalog(t *testing.T) {
	srv, _ := newTestServer(t)

	var catalog Catalog
	resp := getJSON(t, srv.URL+"/", &catalog)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Catalog", catalog.Type)
	assert.NotEmpty(t, catalog.ConformsTo)

	children := 0
	for _, link := range catalog.Links {
		if link.Rel == "child" {
			children++
		}
	}
	assert.Equal(t, 2, children)
}

func TestConformance(t *testing.T) {
	srv, _ := newTestServer(t)

	var body struct {
		ConformsTo []string `json:"conformsTo"`
	}
	resp := getJSON(t, srv.URL+"/conformance", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body.ConformsTo, conformanceItemSearch)
}

func TestCollections(t *testing.T) {
	srv, _ := newTestServer(t)

	var body struct {
		Collections []json.RawMessage `json:"collections"`
	}
	resp := getJSON(t, srv.URL+"/collections", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body.Collections, 2)
}

func TestCollectionExtent(t *testing.T) {
	srv, _ := newTestServer(t)

	var body struct {
		ID     string `json:"id"`
		Extent struct {
			Spatial struct {
				Bbox [][]float64 `json:"bbox"`
			} `json:"spatial"`
			Temporal struct {
				Interval [][]any `json:"interval"`
			} `json:"temporal"`
		} `json:"extent"`
	}
	resp := getJSON(t, srv.URL+"/collections/ls8_ard", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ls8_ard", body.ID)

	require.Len(t, body.Extent.Spatial.Bbox, 1)
	assert.Equal(t, []float64{130, -25, 131, -24}, body.Extent.Spatial.Bbox[0])
	require.Len(t, body.Extent.Temporal.Interval, 1)
	assert.Equal(t, "2017-01-01T00:00:00Z", body.Extent.Temporal.Interval[0][0])
}

func TestCollectionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/collections/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var apiErr APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestSearchReturnsValidItemCollection(t *testing.T) {
	srv, _ := newTestServer(t)
	schema := itemCollectionSchema(t)

	resp, err := http.Get(srv.URL + "/search?collections=ls8_ard&limit=3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	var page ItemCollection
	require.NoError(t, json.NewDecoder(io.TeeReader(resp.Body, &buf)).Decode(&page))
	validatePage(t, schema, buf.Bytes())

	assert.Equal(t, 3, page.NumberReturned)
	require.NotNil(t, page.NumberMatched)
	assert.Equal(t, 8, *page.NumberMatched)
	require.NotNil(t, page.NextLink())
}

func TestSearchPagination(t *testing.T) {
	srv, _ := newTestServer(t)
	schema := itemCollectionSchema(t)

	seen := map[string]bool{}
	url := srv.URL + "/search?collections=ls8_ard&limit=3"
	pages := 0
	for url != "" {
		resp, err := http.Get(url)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		validatePage(t, schema, body)

		var page ItemCollection
		require.NoError(t, json.Unmarshal(body, &page))
		for _, item := range page.Items {
			assert.False(t, seen[item.Id], "item repeated across pages")
			seen[item.Id] = true
		}

		url = ""
		if next := page.NextLink(); next != nil {
			require.True(t, strings.HasPrefix(next.Href, "http"))
			url = next.Href
		}
		pages++
		require.Less(t, pages, 10)
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 8)
}

func TestLinksFollowMountPath(t *testing.T) {
	handler := New(testFixture(), Config{DefaultLimit: 3, HardLimit: 100, MountPath: "/stac"}, nil)
	r := chi.NewRouter()
	r.Mount("/stac", handler.Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	var page ItemCollection
	resp := getJSON(t, srv.URL+"/stac/search?collections=ls8_ard&limit=3", &page)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	next := page.NextLink()
	require.NotNil(t, next)
	assert.Contains(t, next.Href, "/stac/search")

	// The advertised link resolves on the same server.
	followed, err := http.Get(next.Href)
	require.NoError(t, err)
	followed.Body.Close()
	assert.Equal(t, http.StatusOK, followed.StatusCode)
}

func TestSearchPOSTWithFilter(t *testing.T) {
	srv, fake := newTestServer(t)

	body := `{
		"collections": ["ls8_ard"],
		"filter": {"op": "=", "args": [{"property": "region_code"}, "17_-29"]}
	}`
	resp, err := http.Post(srv.URL+"/search", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The filter reaches the store as a translated condition.
	assert.Equal(t, "sp.region_code = ?", fake.lastQuery.Where)
	assert.Equal(t, []any{"17_-29"}, fake.lastQuery.WhereArgs)
}

func TestSearchDatetimeInterval(t *testing.T) {
	srv, fake := newTestServer(t)

	resp, err := http.Get(srv.URL + "/search?collections=ls8_ard&datetime=2017-06-02T00:00:00Z/2017-06-04T00:00:00Z")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page ItemCollection
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Equal(t, 2, page.NumberReturned)

	require.NotNil(t, fake.lastQuery.TimeBegin)
	require.NotNil(t, fake.lastQuery.TimeEnd)
}

func TestSearchOpenIntervals(t *testing.T) {
	srv, fake := newTestServer(t)

	resp, err := http.Get(srv.URL + "/search?datetime=../2017-06-04T00:00:00Z")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, fake.lastQuery.TimeBegin)
	assert.NotNil(t, fake.lastQuery.TimeEnd)
}

func TestSearchBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	for name, query := range map[string]string{
		"bad bbox":      "?bbox=1,2,3",
		"bbox not num":  "?bbox=a,b,c,d",
		"bad datetime":  "?datetime=yesterday",
		"open datetime": "?datetime=../..",
		"bad limit":     "?limit=lots",
		"bad id":        "?ids=not-a-uuid",
		"bad filter":    `?filter={"op":"frobnicate","args":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/search" + query)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestSearchLimitIsCapped(t *testing.T) {
	srv, fake := newTestServer(t)

	resp, err := http.Get(srv.URL + "/search?limit=100000")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	// Hard cap, plus the extra row fetched to detect a next page.
	assert.Equal(t, 101, fake.lastQuery.Limit)
}

func TestCollectionItems(t *testing.T) {
	srv, _ := newTestServer(t)
	schema := itemCollectionSchema(t)

	resp, err := http.Get(srv.URL + "/collections/s2a_granule/items")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	validatePage(t, schema, body)

	var page ItemCollection
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, 2, page.NumberReturned)
	for _, item := range page.Items {
		assert.Equal(t, "s2a_granule", item.Collection)
	}
}

func TestGetItem(t *testing.T) {
	srv, _ := newTestServer(t)

	id := "00000000-0000-0000-0000-000000000003"
	var item map[string]any
	resp := getJSON(t, srv.URL+"/collections/ls8_ard/items/"+id, &item)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, item["id"])
	assert.Equal(t, "ls8_ard", item["collection"])

	missing, err := http.Get(srv.URL + "/collections/ls8_ard/items/00000000-0000-0000-0000-000000000099")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
