package store

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/encoding/wkb"

	"github.com/cubedash/explorer/internal/summary"
)

// RefreshProductRegions rebuilds the region rows of a product from the
// spatial table: one row per distinct region code, with the unioned,
// simplified footprint and dataset count. Returns the number of regions.
func (s *SummaryStore) RefreshProductRegions(ctx context.Context, productRef int16) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		WITH srid_groups AS (
			SELECT sp.dataset_type_ref                              AS dataset_type_ref,
			       sp.region_code                                   AS region_code,
			       st_transform(st_union(sp.footprint), 4326)       AS footprint,
			       count(*)                                         AS count
			FROM cubedash.dataset_spatial sp
			WHERE sp.dataset_type_ref = $1
			  AND st_isvalid(sp.footprint)
			GROUP BY sp.dataset_type_ref, sp.region_code, st_srid(sp.footprint)
		)
		INSERT INTO cubedash.region (dataset_type_ref, region_code, footprint, count)
		SELECT srid_groups.dataset_type_ref,
		       coalesce(srid_groups.region_code, '')                 AS region_code,
		       st_simplifypreservetopology(
		           st_union(st_buffer(srid_groups.footprint, 0)), 0.0001) AS footprint,
		       sum(srid_groups.count)                                AS count
		FROM srid_groups
		GROUP BY srid_groups.dataset_type_ref, srid_groups.region_code
		ON CONFLICT (dataset_type_ref, region_code) DO UPDATE SET
			count           = excluded.count,
			generation_time = now(),
			footprint       = excluded.footprint`,
		productRef)
	if err != nil {
		return 0, fmt.Errorf("refresh product regions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteEmptyRegions drops region rows that no longer have any datasets.
func (s *SummaryStore) DeleteEmptyRegions(ctx context.Context, productRef int16) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM cubedash.region r
		WHERE r.dataset_type_ref = $1
		  AND r.region_code NOT IN (
			SELECT coalesce(sp.region_code, '')
			FROM cubedash.dataset_spatial sp
			WHERE sp.dataset_type_ref = $1
			GROUP BY 1
		  )`, productRef)
	if err != nil {
		return 0, fmt.Errorf("delete empty regions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ProductRegions lists a product's regions with footprints, by region code.
func (s *SummaryStore) ProductRegions(ctx context.Context, productName string) ([]summary.Region, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.region_code, r.count, r.generation_time, st_asbinary(r.footprint)
		FROM cubedash.region r
		JOIN agdc.dataset_type pt ON pt.id = r.dataset_type_ref
		WHERE pt.name = $1
		ORDER BY r.region_code`, productName)
	if err != nil {
		return nil, fmt.Errorf("product regions: %w", err)
	}
	defer rows.Close()

	var regions []summary.Region
	for rows.Next() {
		var (
			r            summary.Region
			footprintWKB []byte
		)
		if err := rows.Scan(&r.RegionCode, &r.Count, &r.GenerationTime, &footprintWKB); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		r.ProductName = productName
		if len(footprintWKB) > 0 {
			geom, err := wkb.Unmarshal(footprintWKB)
			if err != nil {
				return nil, fmt.Errorf("decode region footprint: %w", err)
			}
			r.Footprint = geom
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// SpatialQualityStats reads the per-product footprint quality view.
func (s *SummaryStore) SpatialQualityStats(ctx context.Context) ([]summary.SpatialQuality, error) {
	rows, err := s.db.Query(ctx, `
		SELECT pt.name, q.count, q.missing_footprint, q.footprint_size,
		       q.missing_srid, q.has_file_size, q.has_region
		FROM cubedash.mv_dataset_spatial_quality q
		JOIN agdc.dataset_type pt ON pt.id = q.dataset_type_ref
		ORDER BY pt.name`)
	if err != nil {
		return nil, fmt.Errorf("spatial quality stats: %w", err)
	}
	defer rows.Close()

	var stats []summary.SpatialQuality
	for rows.Next() {
		var q summary.SpatialQuality
		if err := rows.Scan(&q.ProductName, &q.Count, &q.MissingFootprint,
			&q.FootprintSize, &q.MissingSRID, &q.HasFileSize, &q.HasRegion); err != nil {
			return nil, fmt.Errorf("scan spatial quality: %w", err)
		}
		stats = append(stats, q)
	}
	return stats, rows.Err()
}
