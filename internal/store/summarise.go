package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/cubedash/explorer/internal/summary"
)

// summaryWhere builds the dataset_spatial filter for one product/period.
// Invalid footprints are excluded from aggregation (matching the quality
// view, which reports them separately).
func summaryWhere(productRef int16, sel summary.Selection, loc *time.Location) (string, []any) {
	clause := `sp.dataset_type_ref = $1
		  AND (st_isvalid(sp.footprint) IS NOT FALSE)`
	args := []any{productRef}
	begin, end := sel.Range(loc)
	if !begin.IsZero() {
		clause += `
		  AND sp.center_time >= $2 AND sp.center_time < $3`
		args = append(args, begin, end)
	}
	return clause, args
}

// Summarise aggregates the spatial table into one TimePeriodOverview for a
// product and period. The footprint is unioned per source srid first, then
// across srids in the grouping CRS, and returned in WGS84.
func (s *SummaryStore) Summarise(ctx context.Context, productName string, productRef int16, sel summary.Selection) (*summary.TimePeriodOverview, error) {
	where, args := summaryWhere(productRef, sel, s.grouping)

	o := &summary.TimePeriodOverview{
		ProductName: productName,
		Period:      sel.Period(),
		StartDay:    sel.StartDay(),
	}

	var (
		datasetCount   *int64
		footprintCount *int64
		sizeBytes      *int64
		srids          []int32
		footprintWKB   []byte
		newest         *time.Time
		generated      time.Time
	)
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		WITH srid_summaries AS (
			SELECT st_srid(sp.footprint)                             AS srid,
			       count(*)                                         AS dataset_count,
			       count(sp.footprint)                              AS footprint_count,
			       st_union(st_buffer(sp.footprint, 0))             AS footprint_geometry,
			       sum(sp.size_bytes)                               AS size_bytes,
			       max(sp.creation_time)                            AS newest_dataset_creation_time
			FROM cubedash.dataset_spatial sp
			WHERE %s
			GROUP BY 1
		)
		SELECT sum(dataset_count),
		       sum(footprint_count),
		       sum(size_bytes),
		       array_remove(array_agg(srid), NULL),
		       st_asbinary(st_transform(st_union(
		           st_buffer(st_transform(footprint_geometry, %d), 0)
		       ), 4326)),
		       max(newest_dataset_creation_time),
		       now()
		FROM srid_summaries`, where, s.epsg), args...,
	).Scan(&datasetCount, &footprintCount, &sizeBytes, &srids, &footprintWKB, &newest, &generated)
	if err != nil {
		return nil, fmt.Errorf("summarise %s %s: %w", productName, sel.Label(), err)
	}

	if datasetCount != nil {
		o.DatasetCount = int(*datasetCount)
	}
	if footprintCount != nil {
		o.FootprintCount = int(*footprintCount)
	}
	if sizeBytes != nil {
		o.SizeBytes = *sizeBytes
	}
	if newest != nil {
		o.NewestDatasetCreationTime = *newest
	}
	o.GenerationTime = generated

	if len(footprintWKB) > 0 {
		geom, err := wkb.Unmarshal(footprintWKB)
		if err != nil {
			return nil, fmt.Errorf("decode summary footprint: %w", err)
		}
		o.Footprint = geom
	}
	if o.CRSes, err = s.sridNames(ctx, srids); err != nil {
		return nil, err
	}

	if o.TimelineCounts, err = s.dayCounts(ctx, where, args); err != nil {
		return nil, fmt.Errorf("summarise %s %s: %w", productName, sel.Label(), err)
	}
	if o.RegionCounts, err = s.regionCounts(ctx, where, args); err != nil {
		return nil, fmt.Errorf("summarise %s %s: %w", productName, sel.Label(), err)
	}
	return o, nil
}

func (s *SummaryStore) dayCounts(ctx context.Context, where string, args []any) (summary.TimelineCounts, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT date_trunc('day', sp.center_time AT TIME ZONE '%s') AS day,
		       count(*)
		FROM cubedash.dataset_spatial sp
		WHERE %s
		GROUP BY day
		ORDER BY day`, s.grouping.String(), where), args...)
	if err != nil {
		return nil, fmt.Errorf("day counts: %w", err)
	}
	defer rows.Close()

	var counts summary.TimelineCounts
	for rows.Next() {
		var d summary.DayCount
		if err := rows.Scan(&d.Day, &d.Count); err != nil {
			return nil, fmt.Errorf("scan day count: %w", err)
		}
		counts = append(counts, d)
	}
	return counts, rows.Err()
}

func (s *SummaryStore) regionCounts(ctx context.Context, where string, args []any) (map[string]int, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT coalesce(sp.region_code, ''), count(*)
		FROM cubedash.dataset_spatial sp
		WHERE %s
		GROUP BY 1`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("region counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			code string
			n    int
		)
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("scan region count: %w", err)
		}
		counts[code] = n
	}
	return counts, rows.Err()
}

// sridNames converts internal srid keys to authority codes ("EPSG:32655").
func (s *SummaryStore) sridNames(ctx context.Context, srids []int32) ([]string, error) {
	if len(srids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT auth_name || ':' || auth_srid
		FROM spatial_ref_sys
		WHERE srid = ANY($1)
		ORDER BY 1`, srids)
	if err != nil {
		return nil, fmt.Errorf("srid names: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("srid names: %w", err)
	}
	return names, nil
}

// PutSummary upserts one overview row, keyed by product, start day and
// period type.
func (s *SummaryStore) PutSummary(ctx context.Context, productID int, o *summary.TimePeriodOverview) error {
	var footprintWKB []byte
	if o.Footprint != nil {
		footprintWKB = wkb.MustMarshal(o.Footprint)
	}

	days := make([]time.Time, 0, len(o.TimelineCounts))
	dayCounts := make([]int32, 0, len(o.TimelineCounts))
	for _, d := range o.TimelineCounts {
		days = append(days, d.Day)
		dayCounts = append(dayCounts, int32(d.Count))
	}

	regions := make([]string, 0, len(o.RegionCounts))
	for code := range o.RegionCounts {
		regions = append(regions, code)
	}
	sort.Strings(regions)
	regionCounts := make([]int32, 0, len(regions))
	for _, code := range regions {
		regionCounts = append(regionCounts, int32(o.RegionCounts[code]))
	}

	var newest, refreshed *time.Time
	if !o.NewestDatasetCreationTime.IsZero() {
		newest = &o.NewestDatasetCreationTime
	}
	if !o.ProductRefreshTime.IsZero() {
		refreshed = &o.ProductRefreshTime
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO cubedash.time_overview
			(product_ref, start_day, period_type, dataset_count,
			 footprint_geometry, footprint_count, newest_dataset_creation_time,
			 timeline_dataset_start_days, timeline_dataset_counts,
			 regions, region_dataset_counts, crses, size_bytes,
			 generation_time, product_refresh_time)
		VALUES ($1, $2, $3, $4,
		        st_geomfromwkb($5, 4326), $6, $7,
		        $8, $9, $10, $11, $12, $13, now(), $14)
		ON CONFLICT (product_ref, start_day, period_type) DO UPDATE SET
			dataset_count                = excluded.dataset_count,
			footprint_geometry           = excluded.footprint_geometry,
			footprint_count              = excluded.footprint_count,
			newest_dataset_creation_time = excluded.newest_dataset_creation_time,
			timeline_dataset_start_days  = excluded.timeline_dataset_start_days,
			timeline_dataset_counts      = excluded.timeline_dataset_counts,
			regions                      = excluded.regions,
			region_dataset_counts        = excluded.region_dataset_counts,
			crses                        = excluded.crses,
			size_bytes                   = excluded.size_bytes,
			generation_time              = now(),
			product_refresh_time         = excluded.product_refresh_time`,
		productID, o.StartDay, string(o.Period), o.DatasetCount,
		footprintWKB, o.FootprintCount, newest,
		days, dayCounts, regions, regionCounts, o.CRSes, o.SizeBytes,
		refreshed)
	if err != nil {
		return fmt.Errorf("put summary %s %s: %w", o.ProductName, o.Period, err)
	}
	return nil
}

// GetSummary reads one overview row back, or ErrNotSummarised.
func (s *SummaryStore) GetSummary(ctx context.Context, productName string, sel summary.Selection) (*summary.TimePeriodOverview, error) {
	o := &summary.TimePeriodOverview{
		ProductName: productName,
		Period:      sel.Period(),
		StartDay:    sel.StartDay(),
	}
	var (
		footprintWKB []byte
		days         []time.Time
		dayCounts    []int32
		regions      []string
		regionCounts []int32
		sizeBytes    *int64
		newest       *time.Time
		refreshed    *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT o.dataset_count,
		       st_asbinary(o.footprint_geometry),
		       o.footprint_count,
		       o.newest_dataset_creation_time,
		       o.timeline_dataset_start_days,
		       o.timeline_dataset_counts,
		       o.regions,
		       o.region_dataset_counts,
		       o.crses,
		       o.size_bytes,
		       o.generation_time,
		       o.product_refresh_time
		FROM cubedash.time_overview o
		JOIN cubedash.product p ON p.id = o.product_ref
		WHERE p.name = $1 AND o.start_day = $2 AND o.period_type = $3`,
		productName, sel.StartDay(), string(sel.Period()),
	).Scan(&o.DatasetCount, &footprintWKB, &o.FootprintCount, &newest,
		&days, &dayCounts, &regions, &regionCounts, &o.CRSes,
		&sizeBytes, &o.GenerationTime, &refreshed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotSummarised
	}
	if err != nil {
		return nil, fmt.Errorf("get summary %s %s: %w", productName, sel.Label(), err)
	}

	if len(footprintWKB) > 0 {
		geom, err := wkb.Unmarshal(footprintWKB)
		if err != nil {
			return nil, fmt.Errorf("decode stored footprint: %w", err)
		}
		o.Footprint = geom
	}
	for i := range days {
		count := 0
		if i < len(dayCounts) {
			count = int(dayCounts[i])
		}
		o.TimelineCounts = append(o.TimelineCounts, summary.DayCount{Day: days[i], Count: count})
	}
	if len(regions) > 0 {
		o.RegionCounts = make(map[string]int, len(regions))
		for i, code := range regions {
			if i < len(regionCounts) {
				o.RegionCounts[code] = int(regionCounts[i])
			}
		}
	}
	if sizeBytes != nil {
		o.SizeBytes = *sizeBytes
	}
	if newest != nil {
		o.NewestDatasetCreationTime = *newest
	}
	if refreshed != nil {
		o.ProductRefreshTime = *refreshed
	}
	return o, nil
}

// PeriodCount is one (product, period) dataset count, for the overview
// grid across all products.
type PeriodCount struct {
	ProductName string
	StartDay    time.Time
	Period      summary.Period
	Count       int
}

// AllDatasetCounts returns dataset counts for every stored period of every
// product.
func (s *SummaryStore) AllDatasetCounts(ctx context.Context) ([]PeriodCount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.name, o.start_day, o.period_type, o.dataset_count
		FROM cubedash.time_overview o
		JOIN cubedash.product p ON p.id = o.product_ref
		ORDER BY p.name, o.start_day, o.period_type`)
	if err != nil {
		return nil, fmt.Errorf("all dataset counts: %w", err)
	}
	defer rows.Close()

	var counts []PeriodCount
	for rows.Next() {
		var (
			c      PeriodCount
			period string
		)
		if err := rows.Scan(&c.ProductName, &c.StartDay, &period, &c.Count); err != nil {
			return nil, fmt.Errorf("scan period count: %w", err)
		}
		c.Period = summary.Period(period)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
