// Package store implements the Postgres/PostGIS summary store: the
// cubedash schema holding denormalised per-product and per-time-period
// aggregates, generated from the catalog's agdc tables and read by the web
// API without rescanning the full catalog.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var (
	// ErrEmptyCatalog indicates the agdc catalog holds no datasets at all.
	ErrEmptyCatalog = errors.New("store: catalog is empty")
	// ErrNotSummarised indicates the requested product exists but has no
	// generated summary yet.
	ErrNotSummarised = errors.New("store: product not summarised, run cubedash-gen")
	// ErrUnknownProduct indicates the product does not exist in the catalog.
	ErrUnknownProduct = errors.New("store: unknown product")
)

// SummaryStore reads and writes the cubedash summary schema.
type SummaryStore struct {
	db  *pgxpool.Pool
	url string
	log *zap.Logger

	// grouping controls how datasets are bucketed into days.
	grouping *time.Location
	epsg     int
}

// Option configures a SummaryStore during construction.
type Option func(*SummaryStore)

// WithLogger replaces the default no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *SummaryStore) {
		if log != nil {
			s.log = log
		}
	}
}

// WithGroupingTimezone sets the timezone used for day bucketing.
func WithGroupingTimezone(loc *time.Location) Option {
	return func(s *SummaryStore) {
		if loc != nil {
			s.grouping = loc
		}
	}
}

// WithFootprintEPSG sets the CRS used when unioning dataset footprints.
func WithFootprintEPSG(epsg int) Option {
	return func(s *SummaryStore) {
		if epsg != 0 {
			s.epsg = epsg
		}
	}
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*SummaryStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 16
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &SummaryStore{
		db:       pool,
		url:      databaseURL,
		log:      zap.NewNop(),
		grouping: time.UTC,
		epsg:     6933,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *SummaryStore) Close() {
	s.db.Close()
}

// Init creates or upgrades the cubedash schema. Safe to re-run.
func (s *SummaryStore) Init(ctx context.Context) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(s.url))
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	s.log.Info("schema initialised", zap.Int("epsg", s.epsg))
	return nil
}

// migrateURL rewrites a postgres:// URL to golang-migrate's pgx/v5 scheme.
func migrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// IsInitialised reports whether the cubedash schema exists.
func (s *SummaryStore) IsInitialised(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'cubedash' AND table_name = 'time_overview'
		)
	`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check schema: %w", err)
	}
	return exists, nil
}

// RefreshStats refreshes the spatial-quality materialized view. This is
// ideally done once after all needed products have been refreshed.
func (s *SummaryStore) RefreshStats(ctx context.Context, concurrently bool) error {
	stmt := `REFRESH MATERIALIZED VIEW cubedash.mv_dataset_spatial_quality`
	if concurrently {
		stmt = `REFRESH MATERIALIZED VIEW CONCURRENTLY cubedash.mv_dataset_spatial_quality`
	}
	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("refresh stats: %w", err)
	}
	return nil
}

// GroupingTimezone returns the timezone datasets are day-bucketed in.
func (s *SummaryStore) GroupingTimezone() *time.Location {
	return s.grouping
}
