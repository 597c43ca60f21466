package stacapi

import (
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"
	stac "github.com/planetlabs/go-stac"

	"github.com/cubedash/explorer/internal/store"
)

// ItemCollection is a STAC ItemCollection response page.
type ItemCollection struct {
	Type           string         `json:"type"`
	Items          []*stac.Item   `json:"features"`
	Links          []*stac.Link   `json:"links,omitempty"`
	NumberReturned int            `json:"numberReturned"`
	NumberMatched  *int           `json:"numberMatched,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
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

// stacItem renders one spatial row as a STAC item with absolute links.
func stacItem(d store.DatasetItem, base string) *stac.Item {
	properties := map[string]any{
		"datetime": d.CenterTime.UTC().Format(time.RFC3339),
	}
	if d.CreationTime != nil {
		properties["created"] = d.CreationTime.UTC().Format(time.RFC3339)
	}
	if d.RegionCode != nil && *d.RegionCode != "" {
		properties["cubedash:region_code"] = *d.RegionCode
	}

	item := &stac.Item{
		Version:    stacVersion,
		Id:         d.ID.String(),
		Collection: d.Product,
		Properties: properties,
		Assets:     map[string]*stac.Asset{},
		Links: []*stac.Link{
			{Rel: "self", Type: "application/geo+json",
				Href: fmt.Sprintf("%s/collections/%s/items/%s", base, d.Product, d.ID)},
			{Rel: "collection", Type: "application/json",
				Href: fmt.Sprintf("%s/collections/%s", base, d.Product)},
			{Rel: "parent", Type: "application/json",
				Href: fmt.Sprintf("%s/collections/%s", base, d.Product)},
			{Rel: "root", Type: "application/json", Href: base},
		},
	}
	if d.Geometry != nil {
		item.Geometry = geojson.NewGeometry(d.Geometry)
		bound := d.Geometry.Bound()
		item.Bbox = []float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]}
	}
	return item
}
