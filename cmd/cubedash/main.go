// Command cubedash serves the explorer web API over a generated summary
// store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/cubedash/explorer/internal/config"
	"github.com/cubedash/explorer/internal/server"
	"github.com/cubedash/explorer/internal/store"
)

var (
	listenFlag = &cli.StringFlag{
		Name:    "listen",
		Aliases: []string{"l"},
		Usage:   "address to listen on (overrides CUBEDASH_LISTEN_ADDR)",
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
		Name:   "cubedash",
		Usage:  "Serve dataset summaries and STAC search over an Open Data Cube index",
		Flags:  []cli.Flag{listenFlag, verboseFlag},
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
	if addr := cmd.String(listenFlag.Name); addr != "" {
		cfg.ListenAddr = addr
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if ok, err := st.IsInitialised(ctx); err != nil {
		return err
	} else if !ok {
		log.Warn("summary schema missing, run cubedash-gen --init")
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.New(st, cfg, log).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*store.SummaryStore, error) {
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.DefaultTimezone, err)
	}
	return store.Open(ctx, cfg.ConnectionURL(),
		store.WithLogger(log),
		store.WithGroupingTimezone(loc),
		store.WithFootprintEPSG(cfg.DefaultEPSG),
	)
}
