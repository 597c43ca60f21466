package store

import (
	"context"
	"fmt"
	"time"
)

// sridExpression resolves a dataset document's crs field ("epsg:32655" or
// similar shorthand) to a spatial_ref_sys srid. Documents without a
// resolvable CRS fall back to WGS84.
const sridExpression = `
	coalesce(
		CASE
			WHEN d.metadata ->> 'crs' ~ '^[A-Za-z0-9]+:[0-9]+$' THEN
				(SELECT srs.srid
				 FROM spatial_ref_sys srs
				 WHERE lower(srs.auth_name) = lower(split_part(d.metadata ->> 'crs', ':', 1))
				   AND srs.auth_srid = split_part(d.metadata ->> 'crs', ':', 2)::integer)
		END,
		4326
	)`

// centerTimeExpression derives a dataset's representative time: the stated
// datetime, else the midpoint of the start/end range, else catalog arrival.
const centerTimeExpression = `
	coalesce(
		(d.metadata -> 'properties' ->> 'datetime')::timestamptz,
		to_timestamp((
			extract(epoch from (d.metadata -> 'properties' ->> 'dtr:start_datetime')::timestamptz) +
			extract(epoch from (d.metadata -> 'properties' ->> 'dtr:end_datetime')::timestamptz)
		) / 2),
		d.added
	)`

// footprintExpression derives a dataset's footprint from its document: the
// stated geometry when present, else a polygon built from the default
// grid's shape and affine transform ([a b c; d e f] row-major, pixel
// coordinates to CRS units).
const footprintExpression = `
	CASE
		WHEN d.metadata ? 'geometry' THEN
			st_geomfromgeojson(d.metadata -> 'geometry')
		WHEN d.metadata -> 'grids' -> 'default' ? 'transform' THEN
			(SELECT st_makepolygon(st_makeline(ARRAY[
				st_makepoint(t[3], t[6]),
				st_makepoint(t[1] * ncols + t[3], t[4] * ncols + t[6]),
				st_makepoint(t[1] * ncols + t[2] * nrows + t[3],
				             t[4] * ncols + t[5] * nrows + t[6]),
				st_makepoint(t[2] * nrows + t[3], t[5] * nrows + t[6]),
				st_makepoint(t[3], t[6])]))
			 FROM (SELECT
				array(SELECT v::float8
				      FROM jsonb_array_elements_text(
				          d.metadata -> 'grids' -> 'default' -> 'transform') AS v) AS t,
				(d.metadata -> 'grids' -> 'default' -> 'shape' ->> 0)::float8 AS nrows,
				(d.metadata -> 'grids' -> 'default' -> 'shape' ->> 1)::float8 AS ncols) grid)
	END`

// UpsertDatasetSpatial inserts or updates spatial rows for all active
// datasets of a product, computing footprint, times and region from each
// dataset document. A non-nil since restricts work to datasets added or
// updated after that point (incremental refresh). Returns affected rows.
func (s *SummaryStore) UpsertDatasetSpatial(ctx context.Context, productRef int16, since *time.Time) (int64, error) {
	stmt := `
		INSERT INTO cubedash.dataset_spatial
			(id, dataset_type_ref, center_time, creation_time, footprint, region_code, size_bytes)
		SELECT d.id,
		       d.dataset_type_ref,
		       ` + centerTimeExpression + ` AS center_time,
		       coalesce(
		           (d.metadata -> 'properties' ->> 'odc:processing_datetime')::timestamptz,
		           d.added
		       ) AS creation_time,
		       st_setsrid(` + footprintExpression + `, ` + sridExpression + `) AS footprint,
		       d.metadata -> 'properties' ->> 'odc:region_code' AS region_code,
		       (d.metadata ->> 'size_bytes')::bigint AS size_bytes
		FROM agdc.dataset d
		WHERE d.dataset_type_ref = $1
		  AND d.archived IS NULL`
	args := []any{productRef}
	if since != nil {
		stmt += `
		  AND (d.added > $2 OR d.updated > $2)`
		args = append(args, *since)
	}
	stmt += `
		ON CONFLICT (id) DO UPDATE SET
			center_time   = excluded.center_time,
			creation_time = excluded.creation_time,
			footprint     = excluded.footprint,
			region_code   = excluded.region_code,
			size_bytes    = excluded.size_bytes`

	tag, err := s.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert dataset spatial: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteStaleDatasets removes spatial rows whose datasets have been
// archived. A non-nil after restricts the check to recently changed
// datasets; full additionally drops rows whose dataset vanished from the
// catalog entirely (manual deletes).
func (s *SummaryStore) DeleteStaleDatasets(ctx context.Context, productRef int16, after *time.Time, full bool) (int64, error) {
	if full {
		tag, err := s.db.Exec(ctx, `
			DELETE FROM cubedash.dataset_spatial sp
			WHERE sp.dataset_type_ref = $1
			  AND sp.id NOT IN (
				SELECT id FROM agdc.dataset
				WHERE dataset_type_ref = $1 AND archived IS NULL
			  )`, productRef)
		if err != nil {
			return 0, fmt.Errorf("delete vanished datasets: %w", err)
		}
		return tag.RowsAffected(), nil
	}

	stmt := `
		DELETE FROM cubedash.dataset_spatial sp
		WHERE sp.id IN (
			SELECT id FROM agdc.dataset d
			WHERE d.dataset_type_ref = $1
			  AND d.archived IS NOT NULL`
	args := []any{productRef}
	if after != nil {
		stmt += `
			  AND (d.added > $2 OR d.updated > $2)`
		args = append(args, *after)
	}
	stmt += `
		)`

	tag, err := s.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete archived datasets: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ChangedMonth is a month whose datasets changed since the last refresh.
type ChangedMonth struct {
	Month        time.Time
	DatasetCount int
}

// outdatedMonthsQuery reads the catalog directly rather than the spatial
// table: archived datasets lose their spatial row before this runs, but
// their month still needs its summary regenerated.
const outdatedMonthsQuery = `
	SELECT date_trunc('month', ` + centerTimeExpression + ` AT TIME ZONE $3) AS month,
	       count(*)
	FROM agdc.dataset d
	WHERE d.dataset_type_ref = $1
	  AND (d.added > $2 OR d.updated > $2)
	GROUP BY month
	ORDER BY month`

// OutdatedMonths finds the months that saw dataset changes (including
// archivals) after the given time, so only those periods need regeneration.
func (s *SummaryStore) OutdatedMonths(ctx context.Context, productRef int16, newerThan time.Time) ([]ChangedMonth, error) {
	rows, err := s.db.Query(ctx, outdatedMonthsQuery,
		productRef, newerThan, s.grouping.String())
	if err != nil {
		return nil, fmt.Errorf("outdated months: %w", err)
	}
	defer rows.Close()

	var months []ChangedMonth
	for rows.Next() {
		var m ChangedMonth
		if err := rows.Scan(&m.Month, &m.DatasetCount); err != nil {
			return nil, fmt.Errorf("scan outdated month: %w", err)
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// OutdatedYears finds years whose stored summary is older than one of its
// month summaries.
func (s *SummaryStore) OutdatedYears(ctx context.Context, productID int) ([]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT extract(year FROM years.start_day)::int
		FROM cubedash.time_overview years
		WHERE years.period_type = 'year'
		  AND years.product_ref = $1
		  AND EXISTS (
			SELECT 1 FROM cubedash.time_overview months
			WHERE months.period_type = 'month'
			  AND months.product_ref = $1
			  AND extract(year FROM months.start_day) = extract(year FROM years.start_day)
			  AND months.generation_time > years.generation_time
		  )
		ORDER BY years.start_day`, productID)
	if err != nil {
		return nil, fmt.Errorf("outdated years: %w", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("scan outdated year: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// SummarisedYears lists the years that already hold summary rows for a
// product.
func (s *SummaryStore) SummarisedYears(ctx context.Context, productID int) ([]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT extract(year FROM start_day)::int
		FROM cubedash.time_overview
		WHERE product_ref = $1 AND period_type = 'year'
		ORDER BY start_day`, productID)
	if err != nil {
		return nil, fmt.Errorf("summarised years: %w", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("scan summarised year: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}
