package explorerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	stac "github.com/planetlabs/go-stac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, ErrInvalidBaseURL)

	_, err = New(WithBaseURL("not-absolute"))
	assert.ErrorIs(t, err, ErrInvalidBaseURL)
}

func TestProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/products", r.URL.Path)
		fmt.Fprint(w, `[{"name": "ls8_ard", "dataset_count": 12}]`)
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL))
	require.NoError(t, err)

	products, err := c.Products(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "ls8_ard", products[0].Name)
	assert.Equal(t, 12, products[0].DatasetCount)
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"status": 404, "title": "not found", "detail": "no collection \"nope\""}`)
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL), WithRetryPolicy(nil))
	require.NoError(t, err)

	_, err = c.ProductNames(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not found", apiErr.Title)
	assert.False(t, apiErr.Temporary())
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `["ls8_ard"]`)
	}))
	defer srv.Close()

	c, err := New(
		WithBaseURL(srv.URL),
		WithRetryPolicy(RetryPolicyFunc(func(resp *http.Response, err error) (bool, time.Duration) {
			return err != nil || resp.StatusCode >= 500, time.Millisecond
		})),
	)
	require.NoError(t, err)

	names, err := c.ProductNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ls8_ard"}, names)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearchQueryFollowsPagination(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := ItemCollection{Type: "FeatureCollection"}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/stac/search":
			var params SearchParams
			require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
			require.Equal(t, []string{"ls8_ard"}, params.Collections)
			page.Items = []*stac.Item{{Id: "one"}, {Id: "two"}}
			page.Links = []*stac.Link{{Rel: "next", Href: srvURL + "/stac/search?_o=2"}}
		case r.URL.Query().Get("_o") == "2":
			page.Items = []*stac.Item{{Id: "three"}}
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL)
		}
		require.NoError(t, json.NewEncoder(w).Encode(page))
	}))
	defer srv.Close()
	srvURL = srv.URL

	c, err := New(WithBaseURL(srv.URL))
	require.NoError(t, err)

	var ids []string
	for item, err := range c.Search().Query(context.Background(), SearchParams{Collections: []string{"ls8_ard"}}) {
		require.NoError(t, err)
		ids = append(ids, item.Id)
	}
	assert.Equal(t, []string{"one", "two", "three"}, ids)
}

func TestBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL), WithBearerToken("sekrit"))
	require.NoError(t, err)

	_, err = c.ProductNames(context.Background())
	require.NoError(t, err)
}

func TestFilterBuilder(t *testing.T) {
	f := And(
		Eq("collection", "ls8_ard"),
		Gte("datetime", Timestamp("2017-06-01T00:00:00Z")),
		Not(IsNull("region_code")),
	)

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "and", decoded["op"])
	assert.Len(t, decoded["args"], 3)

	// A single operand collapses instead of wrapping in and/or.
	single := And(Eq("collection", "ls8_ard"))
	assert.Equal(t, "=", single["op"])
}
