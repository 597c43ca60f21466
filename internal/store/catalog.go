package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cubedash/explorer/internal/summary"
)

// CatalogProduct is a product definition from the agdc catalog (the system
// of record this store summarises).
type CatalogProduct struct {
	ID         int16
	Name       string
	Definition map[string]any
}

// CatalogProducts lists all products defined in the catalog.
func (s *SummaryStore) CatalogProducts(ctx context.Context) ([]CatalogProduct, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, definition
		FROM agdc.dataset_type
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list catalog products: %w", err)
	}
	defer rows.Close()

	var products []CatalogProduct
	for rows.Next() {
		var p CatalogProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.Definition); err != nil {
			return nil, fmt.Errorf("scan catalog product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CatalogProduct fetches one product definition by name.
func (s *SummaryStore) CatalogProduct(ctx context.Context, name string) (*CatalogProduct, error) {
	var p CatalogProduct
	err := s.db.QueryRow(ctx, `
		SELECT id, name, definition
		FROM agdc.dataset_type
		WHERE name = $1`, name,
	).Scan(&p.ID, &p.Name, &p.Definition)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get catalog product %s: %w", name, err)
	}
	return &p, nil
}

// CatalogIsEmpty reports whether the catalog holds any datasets at all.
func (s *SummaryStore) CatalogIsEmpty(ctx context.Context) (bool, error) {
	var hasAny bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agdc.dataset)`).Scan(&hasAny)
	if err != nil {
		return false, fmt.Errorf("check catalog: %w", err)
	}
	return !hasAny, nil
}

// ProductTimeOverview returns the indexed time bounds and dataset count of
// a product, from the spatial table.
func (s *SummaryStore) ProductTimeOverview(ctx context.Context, productRef int16) (earliest, latest *time.Time, count int, err error) {
	err = s.db.QueryRow(ctx, `
		SELECT min(center_time), max(center_time), count(*)
		FROM cubedash.dataset_spatial
		WHERE dataset_type_ref = $1`, productRef,
	).Scan(&earliest, &latest, &count)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("product time overview: %w", err)
	}
	return earliest, latest, count, nil
}

// LinkDirection selects which side of the provenance graph to walk.
type LinkDirection string

const (
	LinkSource  LinkDirection = "source"
	LinkDerived LinkDirection = "derived"
)

// LinkedProductRefs finds the products linked to this one through dataset
// provenance, sampling a bounded number of datasets.
func (s *SummaryStore) LinkedProductRefs(ctx context.Context, productRef int16, direction LinkDirection) ([]int16, error) {
	fromRef, toRef := "source_dataset_ref", "dataset_ref"
	if direction == LinkDerived {
		fromRef, toRef = toRef, fromRef
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		WITH datasets AS (
			SELECT id FROM agdc.dataset
			WHERE dataset_type_ref = $1 AND archived IS NULL
			LIMIT 10000
		),
		linked_datasets AS (
			SELECT DISTINCT %s AS linked_dataset_ref
			FROM agdc.dataset_source
			INNER JOIN datasets d ON d.id = %s
		)
		SELECT DISTINCT dataset_type_ref
		FROM agdc.dataset
		INNER JOIN linked_datasets ON id = linked_dataset_ref
		WHERE archived IS NULL
		ORDER BY dataset_type_ref`, fromRef, toRef),
		productRef)
	if err != nil {
		return nil, fmt.Errorf("linked products: %w", err)
	}
	refs, err := pgx.CollectRows(rows, pgx.RowTo[int16])
	if err != nil {
		return nil, fmt.Errorf("linked products: %w", err)
	}
	return refs, nil
}

// fixedMetadataProperties are the dataset-document properties checked for
// product-wide constant values.
var fixedMetadataProperties = []string{
	"eo:platform",
	"eo:instrument",
	"eo:gsd",
	"odc:product_family",
	"odc:file_format",
	"dea:dataset_maturity",
}

const fixedFieldQuery = `
	SELECT bool_and(metadata -> 'properties' -> $2 IS NOT DISTINCT FROM $3::jsonb)
	FROM (
		SELECT metadata FROM agdc.dataset
		WHERE dataset_type_ref = $1 AND archived IS NULL
		LIMIT $4
	) sampled`

// FindFixedMetadata samples datasets of a product and returns the document
// properties that hold the same value on every sampled dataset.
func (s *SummaryStore) FindFixedMetadata(ctx context.Context, productRef int16, sampleSize int) (map[string]any, error) {
	if sampleSize <= 0 {
		sampleSize = 100
	}

	// Take one dataset's values as candidates.
	candidates := map[string]any{}
	var sampleID string
	err := s.db.QueryRow(ctx, `
		SELECT id::text, metadata -> 'properties'
		FROM agdc.dataset
		WHERE dataset_type_ref = $1 AND archived IS NULL
		LIMIT 1`, productRef,
	).Scan(&sampleID, &candidates)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sample dataset: %w", err)
	}

	fixed := map[string]any{}
	for _, prop := range fixedMetadataProperties {
		value, ok := candidates[prop]
		if !ok {
			continue
		}
		// Constant across the sample? Compared as jsonb so numeric
		// values match regardless of text rendering (30.0 vs 30).
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode fixed field %s: %w", prop, err)
		}
		var isFixed *bool
		err = s.db.QueryRow(ctx, fixedFieldQuery,
			productRef, prop, string(encoded), sampleSize,
		).Scan(&isFixed)
		if err != nil {
			return nil, fmt.Errorf("check fixed field %s: %w", prop, err)
		}
		if isFixed != nil && *isFixed {
			fixed[prop] = value
		}
	}
	return fixed, nil
}

// LatestArrivals summarises dataset arrivals per day and product over the
// period ending at the newest arrival in the catalog.
func (s *SummaryStore) LatestArrivals(ctx context.Context, within time.Duration) ([]summary.Arrival, error) {
	var latest *time.Time
	if err := s.db.QueryRow(ctx,
		`SELECT max(added) FROM agdc.dataset`).Scan(&latest); err != nil {
		return nil, fmt.Errorf("latest arrival date: %w", err)
	}
	if latest == nil {
		return nil, ErrEmptyCatalog
	}
	since := latest.Add(-within)

	rows, err := s.db.Query(ctx, `
		SELECT date_trunc('day', d.added) AS arrival_date,
		       (SELECT name FROM agdc.dataset_type WHERE id = d.dataset_type_ref) AS product_name,
		       count(*),
		       (array_agg(d.id::text))[0:3]
		FROM agdc.dataset d
		WHERE d.added > $1
		GROUP BY arrival_date, product_name
		ORDER BY arrival_date DESC, product_name`, since)
	if err != nil {
		return nil, fmt.Errorf("latest arrivals: %w", err)
	}
	defer rows.Close()

	var arrivals []summary.Arrival
	for rows.Next() {
		var a summary.Arrival
		if err := rows.Scan(&a.Day, &a.ProductName, &a.DatasetCount, &a.SampleIDs); err != nil {
			return nil, fmt.Errorf("scan arrival: %w", err)
		}
		arrivals = append(arrivals, a)
	}
	return arrivals, rows.Err()
}
