// Package gen drives summary generation: it scans the dataset catalog and
// materialises per-product, per-time-period summaries into the summary
// store, incrementally where possible.
package gen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cubedash/explorer/internal/store"
	"github.com/cubedash/explorer/internal/summary"
)

// Status of one product refresh.
type Status string

const (
	StatusNew       Status = "new"
	StatusUpdated   Status = "updated"
	StatusNoChanges Status = "no-changes"
	StatusError     Status = "error"
)

// Result reports what one product refresh did.
type Result struct {
	Product        string
	Status         Status
	DatasetChanges int64
	PeriodsWritten int
	Err            error
}

// Store is the summary-store surface the generator drives.
type Store interface {
	CatalogIsEmpty(ctx context.Context) (bool, error)
	CatalogProducts(ctx context.Context) ([]store.CatalogProduct, error)
	CatalogProduct(ctx context.Context, name string) (*store.CatalogProduct, error)
	GetProductSummary(ctx context.Context, name string) (*summary.ProductSummary, error)

	DeleteStaleDatasets(ctx context.Context, productRef int16, after *time.Time, full bool) (int64, error)
	UpsertDatasetSpatial(ctx context.Context, productRef int16, since *time.Time) (int64, error)
	ProductTimeOverview(ctx context.Context, productRef int16) (earliest, latest *time.Time, count int, err error)
	LinkedProductRefs(ctx context.Context, productRef int16, direction store.LinkDirection) ([]int16, error)
	FindFixedMetadata(ctx context.Context, productRef int16, sampleSize int) (map[string]any, error)
	UpsertProduct(ctx context.Context, name string, f store.ProductFields) (int, error)

	OutdatedMonths(ctx context.Context, productRef int16, newerThan time.Time) ([]store.ChangedMonth, error)
	OutdatedYears(ctx context.Context, productID int) ([]int, error)
	SummarisedYears(ctx context.Context, productID int) ([]int, error)
	GroupingTimezone() *time.Location
	Summarise(ctx context.Context, productName string, productRef int16, sel summary.Selection) (*summary.TimePeriodOverview, error)
	PutSummary(ctx context.Context, productID int, o *summary.TimePeriodOverview) error

	RefreshProductRegions(ctx context.Context, productRef int16) (int64, error)
	DeleteEmptyRegions(ctx context.Context, productRef int16) (int64, error)
	MarkSummaryComplete(ctx context.Context, productID int, at time.Time) error
}

var _ Store = (*store.SummaryStore)(nil)

// Generator refreshes product summaries.
type Generator struct {
	store Store
	log   *zap.Logger

	// ForceRefresh regenerates every period and re-checks every dataset
	// row, instead of only what changed since the last run.
	ForceRefresh bool

	// SampleSize bounds the datasets sampled for fixed-metadata checks.
	SampleSize int
}

// New creates a Generator over an opened store.
func New(s Store, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{store: s, log: log, SampleSize: 100}
}

// RefreshAll refreshes the named products (or every catalog product when
// names is empty) on a worker pool of the given size. Results come back in
// name order; a failed product doesn't stop the others.
func (g *Generator) RefreshAll(ctx context.Context, names []string, jobs int) ([]Result, error) {
	empty, err := g.store.CatalogIsEmpty(ctx)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, store.ErrEmptyCatalog
	}

	if len(names) == 0 {
		products, err := g.store.CatalogProducts(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range products {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)

	if jobs < 1 {
		jobs = 1
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(jobs)

	var (
		mu      sync.Mutex
		results = make([]Result, len(names))
	)
	for i, name := range names {
		eg.Go(func() error {
			result := g.RefreshProduct(ctx, name)
			mu.Lock()
			results[i] = result
			mu.Unlock()
			if result.Err != nil {
				g.log.Error("product refresh failed",
					zap.String("product", name), zap.Error(result.Err))
			}
			// Keep going; per-product errors are reported in results.
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// RefreshProduct refreshes one product end to end: spatial rows, product
// record, outdated periods, regions.
func (g *Generator) RefreshProduct(ctx context.Context, name string) Result {
	result := Result{Product: name, Status: StatusError}

	product, err := g.store.CatalogProduct(ctx, name)
	if err != nil {
		result.Err = err
		return result
	}

	refreshStart := time.Now().UTC()
	log := g.log.With(zap.String("product", name))

	// Previous refresh time bounds the incremental work.
	var since *time.Time
	isNew := false
	previous, err := g.store.GetProductSummary(ctx, name)
	switch {
	case errors.Is(err, store.ErrNotSummarised):
		isNew = true
	case err != nil:
		result.Err = err
		return result
	case !g.ForceRefresh && !previous.LastRefreshTime.IsZero():
		t := previous.LastRefreshTime
		since = &t
	}

	// 1. Bring the spatial table up to date.
	deleted, err := g.store.DeleteStaleDatasets(ctx, product.ID, since, g.ForceRefresh)
	if err != nil {
		result.Err = err
		return result
	}
	changed, err := g.store.UpsertDatasetSpatial(ctx, product.ID, since)
	if err != nil {
		result.Err = err
		return result
	}
	result.DatasetChanges = changed + deleted
	log.Debug("spatial table refreshed",
		zap.Int64("changed", changed), zap.Int64("deleted", deleted))

	// 2. Product-level aggregates.
	earliest, latest, datasetCount, err := g.store.ProductTimeOverview(ctx, product.ID)
	if err != nil {
		result.Err = err
		return result
	}
	sourceRefs, err := g.store.LinkedProductRefs(ctx, product.ID, store.LinkSource)
	if err != nil {
		result.Err = err
		return result
	}
	derivedRefs, err := g.store.LinkedProductRefs(ctx, product.ID, store.LinkDerived)
	if err != nil {
		result.Err = err
		return result
	}
	fixed, err := g.store.FindFixedMetadata(ctx, product.ID, g.SampleSize)
	if err != nil {
		result.Err = err
		return result
	}
	productID, err := g.store.UpsertProduct(ctx, name, store.ProductFields{
		DatasetCount:      datasetCount,
		TimeEarliest:      earliest,
		TimeLatest:        latest,
		SourceProductRefs: sourceRefs,
		DerivedProductRefs: derivedRefs,
		FixedMetadata:     fixed,
		LastRefresh:       refreshStart,
	})
	if err != nil {
		result.Err = err
		return result
	}

	// 3. Which periods need regenerating?
	months, err := g.monthsToRefresh(ctx, product.ID, since, earliest, latest)
	if err != nil {
		result.Err = err
		return result
	}
	if len(months) == 0 && !isNew {
		if err := g.store.MarkSummaryComplete(ctx, productID, refreshStart); err != nil {
			result.Err = err
			return result
		}
		result.Status = StatusNoChanges
		return result
	}

	written, err := g.summarisePeriods(ctx, name, product.ID, productID, months, refreshStart)
	if err != nil {
		result.Err = err
		return result
	}
	result.PeriodsWritten = written

	// 4. Region table.
	if _, err := g.store.RefreshProductRegions(ctx, product.ID); err != nil {
		result.Err = err
		return result
	}
	if _, err := g.store.DeleteEmptyRegions(ctx, product.ID); err != nil {
		result.Err = err
		return result
	}

	if err := g.store.MarkSummaryComplete(ctx, productID, refreshStart); err != nil {
		result.Err = err
		return result
	}

	if isNew {
		result.Status = StatusNew
	} else {
		result.Status = StatusUpdated
	}
	log.Info("product refreshed",
		zap.String("status", string(result.Status)),
		zap.Int("periods", result.PeriodsWritten),
		zap.Int64("dataset_changes", result.DatasetChanges))
	return result
}

// monthsToRefresh picks the month selections to regenerate: everything in
// the product's time range for new/forced runs, otherwise only months with
// changed datasets.
func (g *Generator) monthsToRefresh(ctx context.Context, productRef int16, since *time.Time, earliest, latest *time.Time) ([]summary.Selection, error) {
	if since != nil && !g.ForceRefresh {
		changed, err := g.store.OutdatedMonths(ctx, productRef, *since)
		if err != nil {
			return nil, err
		}
		months := make([]summary.Selection, 0, len(changed))
		for _, m := range changed {
			months = append(months, summary.SelectMonth(m.Month.Year(), int(m.Month.Month())))
		}
		return months, nil
	}

	if earliest == nil || latest == nil {
		return nil, nil
	}
	loc := g.store.GroupingTimezone()
	var months []summary.Selection
	cursor := time.Date(earliest.In(loc).Year(), earliest.In(loc).Month(), 1, 0, 0, 0, 0, loc)
	end := latest.In(loc)
	for !cursor.After(end) {
		months = append(months, summary.SelectMonth(cursor.Year(), int(cursor.Month())))
		cursor = cursor.AddDate(0, 1, 0)
	}
	return months, nil
}

// summarisePeriods regenerates the given months, then the years they
// belong to, then the whole-product rollup.
func (g *Generator) summarisePeriods(ctx context.Context, name string, productRef int16, productID int, months []summary.Selection, refreshStart time.Time) (int, error) {
	written := 0
	put := func(sel summary.Selection) error {
		o, err := g.store.Summarise(ctx, name, productRef, sel)
		if err != nil {
			return err
		}
		o.ProductRefreshTime = refreshStart
		if err := g.store.PutSummary(ctx, productID, o); err != nil {
			return err
		}
		written++
		g.log.Debug("period summarised",
			zap.String("product", name),
			zap.String("period", sel.Label()),
			zap.Int("dataset_count", o.DatasetCount))
		return nil
	}

	years := map[int]bool{}
	for _, month := range months {
		if err := put(month); err != nil {
			return written, err
		}
		years[month.Year] = true
	}

	// Years whose stored summary predates a regenerated month also need
	// a rebuild (catches summaries from older interrupted runs).
	outdated, err := g.store.OutdatedYears(ctx, productID)
	if err != nil {
		return written, err
	}
	for _, y := range outdated {
		years[y] = true
	}

	if g.ForceRefresh {
		// Also rewrite year rows outside the current time range, so
		// stale summaries of fully-archived years get zeroed.
		summarised, err := g.store.SummarisedYears(ctx, productID)
		if err != nil {
			return written, err
		}
		for _, y := range summarised {
			years[y] = true
		}
	}

	sorted := make([]int, 0, len(years))
	for y := range years {
		sorted = append(sorted, y)
	}
	sort.Ints(sorted)
	for _, y := range sorted {
		if err := put(summary.SelectYear(y)); err != nil {
			return written, err
		}
	}

	if err := put(summary.SelectAll()); err != nil {
		return written, err
	}
	return written, nil
}

// Describe renders a result line for CLI output.
func (r Result) Describe() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: error: %v", r.Product, r.Err)
	}
	return fmt.Sprintf("%s: %s (%d periods, %d dataset changes)",
		r.Product, r.Status, r.PeriodsWritten, r.DatasetChanges)
}
