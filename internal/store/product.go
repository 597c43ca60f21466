package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cubedash/explorer/internal/summary"
)

// ProductFields carries the product-level aggregates written during a
// refresh.
type ProductFields struct {
	DatasetCount       int
	TimeEarliest       *time.Time
	TimeLatest         *time.Time
	SourceProductRefs  []int16
	DerivedProductRefs []int16
	FixedMetadata      map[string]any
	LastRefresh        time.Time
}

// UpsertProduct writes the product-level record, returning its summary id.
//
// This is deliberately an update-else-insert in two statements rather than
// ON CONFLICT: the conflict check increments the id sequence even when
// nothing is inserted, and the sequence is smallserial.
func (s *SummaryStore) UpsertProduct(ctx context.Context, name string, f ProductFields) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int
	err = tx.QueryRow(ctx,
		`SELECT id FROM cubedash.product WHERE name = $1`, name,
	).Scan(&id)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx, `
			INSERT INTO cubedash.product
				(name, dataset_count, time_earliest, time_latest,
				 source_product_refs, derived_product_refs, fixed_metadata, last_refresh)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			name, f.DatasetCount, f.TimeEarliest, f.TimeLatest,
			f.SourceProductRefs, f.DerivedProductRefs, f.FixedMetadata, f.LastRefresh,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert product %s: %w", name, err)
		}
	case err != nil:
		return 0, fmt.Errorf("find product %s: %w", name, err)
	default:
		_, err = tx.Exec(ctx, `
			UPDATE cubedash.product
			SET dataset_count = $2, time_earliest = $3, time_latest = $4,
			    source_product_refs = $5, derived_product_refs = $6,
			    fixed_metadata = $7, last_refresh = $8
			WHERE id = $1`,
			id, f.DatasetCount, f.TimeEarliest, f.TimeLatest,
			f.SourceProductRefs, f.DerivedProductRefs, f.FixedMetadata, f.LastRefresh,
		)
		if err != nil {
			return 0, fmt.Errorf("update product %s: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// MarkSummaryComplete records a successful summary generation, never
// moving the timestamp backwards.
func (s *SummaryStore) MarkSummaryComplete(ctx context.Context, productID int, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE cubedash.product
		SET last_successful_summary = $2
		WHERE id = $1
		  AND (last_successful_summary IS NULL OR last_successful_summary < $2)`,
		productID, at)
	if err != nil {
		return fmt.Errorf("mark summary complete: %w", err)
	}
	return nil
}

// GetProductSummary reads the product-level rollup, or ErrNotSummarised.
func (s *SummaryStore) GetProductSummary(ctx context.Context, name string) (*summary.ProductSummary, error) {
	p := summary.ProductSummary{Name: name}
	var (
		earliest, latest, lastRefresh, lastSuccess *time.Time
		sourceRefs, derivedRefs                    []int16
		fixed                                      map[string]any
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, dataset_count, time_earliest, time_latest,
		       source_product_refs, derived_product_refs, fixed_metadata,
		       last_refresh, last_successful_summary
		FROM cubedash.product
		WHERE name = $1`, name,
	).Scan(&p.ID, &p.DatasetCount, &earliest, &latest,
		&sourceRefs, &derivedRefs, &fixed, &lastRefresh, &lastSuccess)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotSummarised
	}
	if err != nil {
		return nil, fmt.Errorf("get product summary %s: %w", name, err)
	}

	if earliest != nil {
		p.TimeEarliest = *earliest
	}
	if latest != nil {
		p.TimeLatest = *latest
	}
	if lastRefresh != nil {
		p.LastRefreshTime = *lastRefresh
	}
	if lastSuccess != nil {
		p.LastSuccessfulSummaryTime = *lastSuccess
	}
	p.FixedMetadata = fixed

	if p.SourceProducts, err = s.catalogProductNames(ctx, sourceRefs); err != nil {
		return nil, err
	}
	if p.DerivedProducts, err = s.catalogProductNames(ctx, derivedRefs); err != nil {
		return nil, err
	}
	return &p, nil
}

// AllProductSummaries lists every summarised product, ordered by name.
func (s *SummaryStore) AllProductSummaries(ctx context.Context) ([]*summary.ProductSummary, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name FROM cubedash.product ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	summaries := make([]*summary.ProductSummary, 0, len(names))
	for _, name := range names {
		p, err := s.GetProductSummary(ctx, name)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, p)
	}
	return summaries, nil
}

// ListCompleteProducts returns the names of products with a finished
// summary generation.
func (s *SummaryStore) ListCompleteProducts(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT name FROM cubedash.product
		WHERE last_successful_summary IS NOT NULL
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list complete products: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list complete products: %w", err)
	}
	return names, nil
}

// catalogProductNames resolves agdc product ids to names.
func (s *SummaryStore) catalogProductNames(ctx context.Context, refs []int16) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT name FROM agdc.dataset_type
		WHERE id = ANY($1)
		ORDER BY name`, refs)
	if err != nil {
		return nil, fmt.Errorf("resolve product refs: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("resolve product refs: %w", err)
	}
	return names, nil
}
