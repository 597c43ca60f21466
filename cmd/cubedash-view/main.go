// Command cubedash-view is a terminal viewer for a running explorer: a
// live table of products with their dataset counts and refresh status.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	explorerclient "github.com/cubedash/explorer/client"
)

var (
	urlFlag = &cli.StringFlag{
		Name:    "url",
		Aliases: []string{"u"},
		Usage:   "explorer base URL",
		Value:   "http://localhost:8080",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:    "timeout",
		Aliases: []string{"t"},
		Usage:   "HTTP client timeout",
		Value:   30 * time.Second,
	}
	tokenFlag = &cli.StringFlag{
		Name:  "token",
		Usage: "bearer token, for explorers behind an authenticating proxy",
	}
)

func main() {
	cmd := &cli.Command{
		Name:   "cubedash-view",
		Usage:  "Browse a running explorer's product summaries in the terminal",
		Flags:  []cli.Flag{urlFlag, timeoutFlag, tokenFlag},
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
	c, err := explorerclient.New(
		explorerclient.WithBaseURL(cmd.String(urlFlag.Name)),
		explorerclient.WithTimeout(cmd.Duration(timeoutFlag.Name)),
		explorerclient.WithBearerToken(cmd.String(tokenFlag.Name)),
	)
	if err != nil {
		return err
	}

	view := NewView(ctx, c)
	go func() {
		<-ctx.Done()
		view.Stop()
	}()
	return view.Run()
}
