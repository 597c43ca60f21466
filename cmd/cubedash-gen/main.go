// Command cubedash-gen generates and refreshes product summaries for the
// explorer web service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/cubedash/explorer/internal/config"
	"github.com/cubedash/explorer/internal/gen"
	"github.com/cubedash/explorer/internal/store"
)

var (
	initFlag = &cli.BoolFlag{
		Name:  "init",
		Usage: "create or update the summary schema before generating",
	}
	allFlag = &cli.BoolFlag{
		Name:    "all",
		Aliases: []string{"a"},
		Usage:   "refresh every product in the catalog",
	}
	forceFlag = &cli.BoolFlag{
		Name:  "force-refresh",
		Usage: "regenerate summaries even where nothing changed",
	}
	refreshStatsFlag = &cli.BoolFlag{
		Name:  "refresh-stats",
		Usage: "refresh the spatial-quality statistics view",
	}
	jobsFlag = &cli.IntFlag{
		Name:    "jobs",
		Aliases: []string{"j"},
		Usage:   "products refreshed concurrently",
		Value:   3,
	}
	verboseFlag = &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "debug logging",
	}
)

func main() {
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:      "cubedash-gen",
		Usage:     "Generate explorer summaries from an Open Data Cube index",
		ArgsUsage: "[product...]",
		Flags: []cli.Flag{
			initFlag, allFlag, forceFlag, refreshStatsFlag, jobsFlag, verboseFlag,
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd.Bool(verboseFlag.Name))
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.DefaultTimezone, err)
	}

	st, err := store.Open(ctx, cfg.ConnectionURL(),
		store.WithLogger(log),
		store.WithGroupingTimezone(loc),
		store.WithFootprintEPSG(cfg.DefaultEPSG),
	)
	if err != nil {
		return err
	}
	defer st.Close()

	if cmd.Bool(initFlag.Name) {
		log.Info("initialising summary schema")
		if err := st.Init(ctx); err != nil {
			return err
		}
	} else if ok, err := st.IsInitialised(ctx); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("summary schema missing, run with --init first")
	}

	products := cmd.Args().Slice()
	if len(products) > 0 || cmd.Bool(allFlag.Name) {
		if err := generate(ctx, st, log, cmd, products); err != nil {
			return err
		}
	} else if !cmd.Bool(initFlag.Name) && !cmd.Bool(refreshStatsFlag.Name) {
		return fmt.Errorf("nothing to do: name products, or pass --all")
	}

	if cmd.Bool(refreshStatsFlag.Name) {
		log.Info("refreshing statistics")
		if err := st.RefreshStats(ctx, true); err != nil {
			return err
		}
	}
	return nil
}

func generate(ctx context.Context, st *store.SummaryStore, log *zap.Logger, cmd *cli.Command, products []string) error {
	g := gen.New(st, log)
	g.ForceRefresh = cmd.Bool(forceFlag.Name)

	started := time.Now()
	results, err := g.RefreshAll(ctx, products, int(cmd.Int(jobsFlag.Name)))
	if err != nil {
		return err
	}

	failed := 0
	for _, result := range results {
		fmt.Println(result.Describe())
		if result.Err != nil {
			failed++
		}
	}
	log.Info("generation finished",
		zap.Int("products", len(results)),
		zap.Int("failed", failed),
		zap.Duration("took", time.Since(started)))

	if failed > 0 {
		return fmt.Errorf("%d of %d products failed", failed, len(results))
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
