package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// DatasetItem is one spatial-table row shaped for the STAC item API:
// geometry and bbox are in WGS84.
type DatasetItem struct {
	ID           uuid.UUID
	Product      string
	CenterTime   time.Time
	CreationTime *time.Time
	Geometry     orb.Geometry
	RegionCode   *string
	SizeBytes    *int64
}

// Bbox returns the WGS84 bounding box, or false when there's no geometry.
func (d *DatasetItem) Bbox() (orb.Bound, bool) {
	if d.Geometry == nil {
		return orb.Bound{}, false
	}
	return d.Geometry.Bound(), true
}

// ItemQuery filters the spatial table for item searches. Zero values mean
// unfiltered. Where holds an extra pre-rendered SQL condition (from the
// CQL2 translator) using `?` placeholders, filled from WhereArgs in order.
type ItemQuery struct {
	Collections []string
	IDs         []uuid.UUID
	BBox        []float64 // west, south, east, north
	TimeBegin   *time.Time
	TimeEnd     *time.Time
	Intersects  orb.Geometry
	RegionCode  string

	Where     string
	WhereArgs []any

	Limit  int
	Offset int

	OrderNewestFirst bool
}

// buildClauses renders the query into SQL conditions with numbered args.
func (q ItemQuery) buildClauses() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(q.Collections) > 0 {
		clauses = append(clauses, fmt.Sprintf("pt.name = ANY(%s)", arg(q.Collections)))
	}
	if len(q.IDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("sp.id = ANY(%s)", arg(q.IDs)))
	}
	if len(q.BBox) == 4 {
		clauses = append(clauses, fmt.Sprintf(
			"st_intersects(st_transform(sp.footprint, 4326), st_makeenvelope(%s, %s, %s, %s, 4326))",
			arg(q.BBox[0]), arg(q.BBox[1]), arg(q.BBox[2]), arg(q.BBox[3])))
	}
	if q.TimeBegin != nil {
		clauses = append(clauses, fmt.Sprintf("sp.center_time >= %s", arg(*q.TimeBegin)))
	}
	if q.TimeEnd != nil {
		clauses = append(clauses, fmt.Sprintf("sp.center_time < %s", arg(*q.TimeEnd)))
	}
	if q.Intersects != nil {
		clauses = append(clauses, fmt.Sprintf(
			"st_intersects(st_transform(sp.footprint, 4326), st_setsrid(st_geomfromwkb(%s), 4326))",
			arg(wkb.MustMarshal(q.Intersects))))
	}
	if q.RegionCode != "" {
		clauses = append(clauses, fmt.Sprintf("sp.region_code = %s", arg(q.RegionCode)))
	}
	if q.Where != "" {
		// Turn the translator's `?` placeholders into numbered args.
		where := q.Where
		for _, v := range q.WhereArgs {
			where = strings.Replace(where, "?", arg(v), 1)
		}
		clauses = append(clauses, "("+where+")")
	}

	if len(clauses) == 0 {
		return "TRUE", args
	}
	return strings.Join(clauses, "\n\t\t  AND "), args
}

// SearchItems runs an item search over the spatial table.
func (s *SummaryStore) SearchItems(ctx context.Context, q ItemQuery) ([]DatasetItem, error) {
	where, args := q.buildClauses()

	order := "sp.center_time, sp.id"
	if q.OrderNewestFirst {
		order = "sp.center_time DESC, sp.id"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}

	stmt := fmt.Sprintf(`
		SELECT sp.id,
		       pt.name,
		       sp.center_time,
		       sp.creation_time,
		       st_asbinary(st_transform(sp.footprint, 4326)),
		       sp.region_code,
		       sp.size_bytes
		FROM cubedash.dataset_spatial sp
		JOIN agdc.dataset_type pt ON pt.id = sp.dataset_type_ref
		WHERE %s
		ORDER BY %s
		LIMIT %d OFFSET %d`, where, order, limit, q.Offset)

	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()

	var items []DatasetItem
	for rows.Next() {
		var (
			item        DatasetItem
			geometryWKB []byte
		)
		if err := rows.Scan(&item.ID, &item.Product, &item.CenterTime,
			&item.CreationTime, &geometryWKB, &item.RegionCode, &item.SizeBytes); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if len(geometryWKB) > 0 {
			geom, err := wkb.Unmarshal(geometryWKB)
			if err != nil {
				return nil, fmt.Errorf("decode item geometry: %w", err)
			}
			item.Geometry = geom
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountItems returns the total number of datasets matching a query,
// ignoring paging.
func (s *SummaryStore) CountItems(ctx context.Context, q ItemQuery) (int, error) {
	where, args := q.buildClauses()
	var count int
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT count(*)
		FROM cubedash.dataset_spatial sp
		JOIN agdc.dataset_type pt ON pt.id = sp.dataset_type_ref
		WHERE %s`, where), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

// LinkedDataset identifies one provenance neighbour of a dataset.
type LinkedDataset struct {
	ID      uuid.UUID
	Product string
}

// DatasetSources returns the direct source datasets of a dataset without
// loading the whole upper provenance tree, plus how many more exist beyond
// the limit.
func (s *SummaryStore) DatasetSources(ctx context.Context, id uuid.UUID, limit int) ([]LinkedDataset, int, error) {
	return s.linkedDatasets(ctx, id, limit, `
		SELECT d.id, pt.name
		FROM agdc.dataset_source src
		JOIN agdc.dataset d ON d.id = src.source_dataset_ref
		JOIN agdc.dataset_type pt ON pt.id = d.dataset_type_ref
		WHERE src.dataset_ref = $1`, `
		SELECT count(*) FROM agdc.dataset_source WHERE dataset_ref = $1`)
}

// DerivedDatasets returns datasets derived from this one, with a limit and
// the remaining count.
func (s *SummaryStore) DerivedDatasets(ctx context.Context, id uuid.UUID, limit int) ([]LinkedDataset, int, error) {
	return s.linkedDatasets(ctx, id, limit, `
		SELECT d.id, pt.name
		FROM agdc.dataset_source src
		JOIN agdc.dataset d ON d.id = src.dataset_ref
		JOIN agdc.dataset_type pt ON pt.id = d.dataset_type_ref
		WHERE src.source_dataset_ref = $1`, `
		SELECT count(*) FROM agdc.dataset_source WHERE source_dataset_ref = $1`)
}

func (s *SummaryStore) linkedDatasets(ctx context.Context, id uuid.UUID, limit int, selectStmt, countStmt string) ([]LinkedDataset, int, error) {
	stmt := selectStmt
	if limit > 0 {
		// One extra row detects records beyond the limit.
		stmt += fmt.Sprintf(" LIMIT %d", limit+1)
	}
	rows, err := s.db.Query(ctx, stmt, id)
	if err != nil {
		return nil, 0, fmt.Errorf("linked datasets: %w", err)
	}
	defer rows.Close()

	var linked []LinkedDataset
	for rows.Next() {
		var l LinkedDataset
		if err := rows.Scan(&l.ID, &l.Product); err != nil {
			return nil, 0, fmt.Errorf("scan linked dataset: %w", err)
		}
		linked = append(linked, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	remaining := 0
	if limit > 0 && len(linked) > limit {
		linked = linked[:limit]
		var total int
		if err := s.db.QueryRow(ctx, countStmt, id).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count linked datasets: %w", err)
		}
		remaining = total - limit
	}
	return linked, remaining, nil
}

// ProductsByRegion lists the products that have datasets in a region.
func (s *SummaryStore) ProductsByRegion(ctx context.Context, regionCode string, begin, end *time.Time) ([]string, error) {
	stmt := `
		SELECT DISTINCT pt.name
		FROM cubedash.dataset_spatial sp
		JOIN agdc.dataset_type pt ON pt.id = sp.dataset_type_ref
		WHERE sp.region_code = $1`
	args := []any{regionCode}
	if begin != nil {
		args = append(args, *begin)
		stmt += fmt.Sprintf(" AND sp.center_time >= $%d", len(args))
	}
	if end != nil {
		args = append(args, *end)
		stmt += fmt.Sprintf(" AND sp.center_time < $%d", len(args))
	}
	stmt += " ORDER BY pt.name"

	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("products by region: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan product name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
