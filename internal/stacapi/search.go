package stacapi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/cubedash/explorer/internal/cql"
	"github.com/cubedash/explorer/internal/store"
)

// SearchParams are the item-search parameters, shared by the GET query
// string and the POST JSON body.
type SearchParams struct {
	Collections []string        `json:"collections,omitempty"`
	IDs         []string        `json:"ids,omitempty"`
	BBox        []float64       `json:"bbox,omitempty"`
	Datetime    string          `json:"datetime,omitempty"`
	Intersects  json.RawMessage `json:"intersects,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Filter      json.RawMessage `json:"filter,omitempty"`
	FilterLang  string          `json:"filter-lang,omitempty"`
	Offset      int             `json:"_o,omitempty"`
}

// parseSearchQuery reads GET-style search parameters.
func parseSearchQuery(q url.Values) (SearchParams, error) {
	var p SearchParams
	if v := q.Get("collections"); v != "" {
		p.Collections = splitCSV(v)
	}
	if v := q.Get("collection"); v != "" {
		p.Collections = append(p.Collections, v)
	}
	if v := q.Get("ids"); v != "" {
		p.IDs = splitCSV(v)
	}
	if v := q.Get("bbox"); v != "" {
		bbox, err := parseBBox(v)
		if err != nil {
			return p, err
		}
		p.BBox = bbox
	}
	p.Datetime = q.Get("datetime")
	if v := q.Get("intersects"); v != "" {
		p.Intersects = json.RawMessage(v)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, errBadRequest(fmt.Sprintf("limit is not a number: %q", v))
		}
		p.Limit = n
	}
	if v := q.Get("filter"); v != "" {
		p.Filter = json.RawMessage(v)
	}
	p.FilterLang = q.Get("filter-lang")
	if v := q.Get("_o"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, errBadRequest(fmt.Sprintf("invalid offset: %q", v))
		}
		p.Offset = n
	}
	return p, nil
}

// toItemQuery validates the parameters and renders them as a store query.
func (p SearchParams) toItemQuery(cfg Config) (store.ItemQuery, error) {
	q := store.ItemQuery{
		Collections:      p.Collections,
		BBox:             p.BBox,
		Offset:           p.Offset,
		OrderNewestFirst: true,
	}

	switch len(p.BBox) {
	case 0, 4:
	case 6:
		// 3D bbox: drop the elevation bounds.
		q.BBox = []float64{p.BBox[0], p.BBox[1], p.BBox[3], p.BBox[4]}
	default:
		return q, errBadRequest("bbox must contain 4 or 6 coordinates")
	}

	for _, raw := range p.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return q, errBadRequest(fmt.Sprintf("invalid id: %q", raw))
		}
		q.IDs = append(q.IDs, id)
	}

	if p.Datetime != "" {
		begin, end, err := parseDatetime(p.Datetime)
		if err != nil {
			return q, err
		}
		q.TimeBegin, q.TimeEnd = begin, end
	}

	if len(p.Intersects) > 0 {
		geom, err := geojson.UnmarshalGeometry(p.Intersects)
		if err != nil {
			return q, errBadRequest(fmt.Sprintf("invalid intersects geometry: %v", err))
		}
		q.Intersects = geom.Geometry()
	}

	if len(p.Filter) > 0 {
		if p.FilterLang != "" && p.FilterLang != "cql2-json" {
			return q, errBadRequest(fmt.Sprintf("unsupported filter-lang: %q", p.FilterLang))
		}
		expr, err := cql.ParseJSON(p.Filter)
		if err != nil {
			return q, errBadRequest(fmt.Sprintf("invalid filter: %v", err))
		}
		where, args, err := cql.ToSQL(expr)
		if err != nil {
			return q, errBadRequest(fmt.Sprintf("unsupported filter: %v", err))
		}
		q.Where, q.WhereArgs = where, args
	}

	q.Limit = p.Limit
	if q.Limit <= 0 {
		q.Limit = cfg.DefaultLimit
	}
	if q.Limit > cfg.HardLimit {
		q.Limit = cfg.HardLimit
	}
	return q, nil
}

// nextQuery renders GET query parameters for the next page.
func (p SearchParams) nextQuery(offset int) url.Values {
	q := url.Values{}
	if len(p.Collections) > 0 {
		q.Set("collections", strings.Join(p.Collections, ","))
	}
	if len(p.IDs) > 0 {
		q.Set("ids", strings.Join(p.IDs, ","))
	}
	if len(p.BBox) == 4 {
		parts := make([]string, 4)
		for i, f := range p.BBox {
			parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		q.Set("bbox", strings.Join(parts, ","))
	}
	if p.Datetime != "" {
		q.Set("datetime", p.Datetime)
	}
	if len(p.Intersects) > 0 {
		q.Set("intersects", string(p.Intersects))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if len(p.Filter) > 0 {
		q.Set("filter", string(p.Filter))
		q.Set("filter-lang", "cql2-json")
	}
	q.Set("_o", strconv.Itoa(offset))
	return q
}

// parseDatetime reads a STAC datetime: a single RFC3339 instant or an
// interval "begin/end" where either side may be open ("..").
func parseDatetime(value string) (*time.Time, *time.Time, error) {
	parse := func(s string) (*time.Time, error) {
		if s == "" || s == ".." {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, errBadRequest(fmt.Sprintf("invalid datetime: %q", s))
		}
		return &t, nil
	}

	if !strings.Contains(value, "/") {
		t, err := parse(value)
		if err != nil {
			return nil, nil, err
		}
		if t == nil {
			return nil, nil, errBadRequest("datetime cannot be fully open")
		}
		// A single instant matches the second it names.
		end := t.Add(time.Second)
		return t, &end, nil
	}

	parts := strings.SplitN(value, "/", 2)
	begin, err := parse(parts[0])
	if err != nil {
		return nil, nil, err
	}
	end, err := parse(parts[1])
	if err != nil {
		return nil, nil, err
	}
	if begin == nil && end == nil {
		return nil, nil, errBadRequest("datetime cannot be fully open")
	}
	if begin != nil && end != nil && end.Before(*begin) {
		return nil, nil, errBadRequest("datetime interval ends before it begins")
	}
	return begin, end, nil
}

func parseBBox(value string) ([]float64, error) {
	// Accept both "1,2,3,4" and a JSON array.
	if strings.HasPrefix(strings.TrimSpace(value), "[") {
		var bbox []float64
		if err := json.Unmarshal([]byte(value), &bbox); err != nil {
			return nil, errBadRequest(fmt.Sprintf("invalid bbox: %v", err))
		}
		return bbox, nil
	}
	parts := splitCSV(value)
	bbox := make([]float64, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, errBadRequest(fmt.Sprintf("invalid bbox value: %q", part))
		}
		bbox = append(bbox, f)
	}
	return bbox, nil
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
