package explorerclient

import (
	"context"
	"net/http"
	"time"
)

// Product is one summarised product as reported by /api/products.
type Product struct {
	Name            string         `json:"name"`
	DatasetCount    int            `json:"dataset_count"`
	TimeEarliest    *time.Time     `json:"time_earliest,omitempty"`
	TimeLatest      *time.Time     `json:"time_latest,omitempty"`
	SourceProducts  []string       `json:"source_products,omitempty"`
	DerivedProducts []string       `json:"derived_products,omitempty"`
	FixedMetadata   map[string]any `json:"fixed_metadata,omitempty"`
	LastRefresh     *time.Time     `json:"last_refresh,omitempty"`
}

// Products fetches the full product summary list.
func (c *Client) Products(ctx context.Context, opts ...RequestOption) ([]Product, error) {
	var products []Product
	if err := c.doJSON(ctx, http.MethodGet, "/api/products", nil, nil, &products, opts); err != nil {
		return nil, err
	}
	return products, nil
}

// ProductNames fetches just the product names. Doubles as a liveness probe.
func (c *Client) ProductNames(ctx context.Context, opts ...RequestOption) ([]string, error) {
	var names []string
	if err := c.doJSON(ctx, http.MethodGet, "/products", nil, nil, &names, opts); err != nil {
		return nil, err
	}
	return names, nil
}

// LinkedDataset is one provenance neighbour of a dataset.
type LinkedDataset struct {
	ID      string `json:"id"`
	Product string `json:"product"`
}

// DatasetDetail is one dataset with its direct provenance links.
type DatasetDetail struct {
	ID              string          `json:"id"`
	Product         string          `json:"product"`
	CenterTime      time.Time       `json:"center_time"`
	Created         *time.Time      `json:"created,omitempty"`
	RegionCode      *string         `json:"region_code,omitempty"`
	SizeBytes       *int64          `json:"size_bytes,omitempty"`
	Bbox            []float64       `json:"bbox,omitempty"`
	Sources         []LinkedDataset `json:"sources,omitempty"`
	SourcesNotShown int             `json:"sources_not_shown,omitempty"`
	Derived         []LinkedDataset `json:"derived,omitempty"`
	DerivedNotShown int             `json:"derived_not_shown,omitempty"`
}

// Dataset fetches one dataset by id, with provenance.
func (c *Client) Dataset(ctx context.Context, id string, opts ...RequestOption) (*DatasetDetail, error) {
	var detail DatasetDetail
	if err := c.doJSON(ctx, http.MethodGet, "/api/dataset/"+id, nil, nil, &detail, opts); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Arrival is one day of dataset arrivals from the audit feed.
type Arrival struct {
	Day          string   `json:"day"`
	Product      string   `json:"product"`
	DatasetCount int      `json:"dataset_count"`
	SampleIDs    []string `json:"sample_dataset_ids,omitempty"`
}

// Arrivals fetches recent dataset arrivals, newest first.
func (c *Client) Arrivals(ctx context.Context, opts ...RequestOption) ([]Arrival, error) {
	var arrivals []Arrival
	if err := c.doJSON(ctx, http.MethodGet, "/audit/arrivals", nil, nil, &arrivals, opts); err != nil {
		return nil, err
	}
	return arrivals, nil
}
