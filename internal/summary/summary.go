// Package summary holds the domain model for generated product summaries:
// per-period dataset aggregates, product-level rollups and the supporting
// period arithmetic used to bucket datasets by year, month and day.
package summary

import (
	"time"

	"github.com/paulmach/orb"
)

// Period is the granularity of a time overview row.
type Period string

const (
	PeriodAll   Period = "all"
	PeriodYear  Period = "year"
	PeriodMonth Period = "month"
	PeriodDay   Period = "day"
)

// TimePeriodOverview is one aggregated summary of a product over a period:
// either the whole product ("all"), one year, one month or one day.
type TimePeriodOverview struct {
	ProductName string
	Period      Period
	// StartDay anchors the period: Jan 1 for years, the first of the
	// month for months, epoch day for "all".
	StartDay time.Time

	DatasetCount int

	// TimelineCounts maps the start of each day (in the grouping
	// timezone) to the number of datasets whose center time falls on it.
	TimelineCounts TimelineCounts

	// RegionCounts maps region code to dataset count. Datasets without a
	// region land under the empty code.
	RegionCounts map[string]int

	// Footprint is the unioned valid dataset footprint, in WGS84.
	// Nil when no dataset had a footprint.
	Footprint      orb.Geometry
	FootprintCount int

	NewestDatasetCreationTime time.Time
	SizeBytes                 int64

	// CRSes lists the distinct source reference systems seen, as
	// authority codes ("EPSG:32655").
	CRSes []string

	GenerationTime     time.Time
	ProductRefreshTime time.Time
}

// IsEmpty reports whether the period contains no datasets at all.
func (o *TimePeriodOverview) IsEmpty() bool {
	return o == nil || o.DatasetCount == 0
}

// TimelineCounts is an ordered day → dataset-count series.
type TimelineCounts []DayCount

// DayCount is one day of the dataset timeline.
type DayCount struct {
	Day   time.Time
	Count int
}

// Total sums the series.
func (t TimelineCounts) Total() int {
	n := 0
	for _, d := range t {
		n += d.Count
	}
	return n
}

// ProductSummary is the product-level rollup row kept alongside the
// per-period overviews.
type ProductSummary struct {
	ID           int
	Name         string
	DatasetCount int
	TimeEarliest time.Time
	TimeLatest   time.Time

	SourceProducts  []string
	DerivedProducts []string

	// FixedMetadata holds metadata fields that had the same value on
	// every sampled dataset. Nil means "not known" (legacy rows), an
	// empty map means "no fixed fields".
	FixedMetadata map[string]any

	LastRefreshTime           time.Time
	LastSuccessfulSummaryTime time.Time
}

// Region is a distinct spatial region of a product (eg. a satellite
// path/row or an albers tile), with its unioned footprint.
type Region struct {
	ProductName    string
	RegionCode     string
	Footprint      orb.Geometry
	Count          int
	GenerationTime time.Time
}

// Arrival is a day of dataset arrivals for one product, for the audit feed.
type Arrival struct {
	Day          time.Time
	ProductName  string
	DatasetCount int
	SampleIDs    []string
}

// SpatialQuality is one row of the per-product footprint quality view.
type SpatialQuality struct {
	ProductName      string
	Count            int
	MissingFootprint int
	FootprintSize    int64
	MissingSRID      int
	HasFileSize      int
	HasRegion        int
}
