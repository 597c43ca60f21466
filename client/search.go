package explorerclient

import (
	"context"
	"iter"
	"net/http"

	stac "github.com/planetlabs/go-stac"
)

// SearchService executes STAC item searches against /stac/search.
type SearchService struct {
	client *Client
}

// SearchParams are the POST /stac/search body parameters.
type SearchParams struct {
	Collections []string  `json:"collections,omitempty"`
	IDs         []string  `json:"ids,omitempty"`
	BBox        []float64 `json:"bbox,omitempty"`
	Datetime    string    `json:"datetime,omitempty"`
	Limit       int       `json:"limit,omitempty"`
	Filter      any       `json:"filter,omitempty"`
	FilterLang  string    `json:"filter-lang,omitempty"`
}

// ItemCollection is one page of search results.
type ItemCollection struct {
	Type           string       `json:"type"`
	Items          []*stac.Item `json:"features"`
	Links          []*stac.Link `json:"links,omitempty"`
	NumberReturned int          `json:"numberReturned"`
	NumberMatched  *int         `json:"numberMatched,omitempty"`
}

// NextLink returns the rel="next" link if present.
func (c *ItemCollection) NextLink() *stac.Link {
	if c == nil {
		return nil
	}
	for _, link := range c.Links {
		if link != nil && link.Rel == "next" {
			return link
		}
	}
	return nil
}

// GetPage performs a single search request returning one page of items.
func (s *SearchService) GetPage(ctx context.Context, params SearchParams, opts ...RequestOption) (*ItemCollection, error) {
	var page ItemCollection
	if err := s.client.doJSON(ctx, http.MethodPost, "/stac/search", nil, params, &page, opts); err != nil {
		return nil, err
	}
	return &page, nil
}

// Query streams search results lazily, following pagination links.
func (s *SearchService) Query(ctx context.Context, params SearchParams, opts ...RequestOption) iter.Seq2[*stac.Item, error] {
	return func(yield func(*stac.Item, error) bool) {
		page, err := s.GetPage(ctx, params, opts...)
		for {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, item := range page.Items {
				if item == nil {
					continue
				}
				if !yield(item, nil) {
					return
				}
			}
			next := page.NextLink()
			if next == nil || next.Href == "" {
				return
			}
			var following ItemCollection
			err = s.client.getAbsolute(ctx, next.Href, &following, opts)
			page = &following
		}
	}
}
