// Command badclient runs a single misbehaving client against a
// server, for manually exercising ServerSession's error handling
// (spec.md §7) outside a full load test.
//
// Created by WINK Streaming (https://www.wink.co)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/streamlab/rtspmjpeg/internal/faultclient"
	"github.com/streamlab/rtspmjpeg/internal/logging"
)

func main() {
	app := &cli.App{
		Name:      "badclient",
		Usage:     "run a single misbehaving client against a server",
		ArgsUsage: "<server_addr>",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Value: 30 * time.Second, Usage: "how long to misbehave before stopping"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Action: runBadClient,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBadClient(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: badclient <server_addr>", 2)
	}
	addr := c.Args().Get(0)

	logging.Init(logging.SourceBadClient, c.Bool("debug"))
	logger := logging.L()

	fc := faultclient.New(addr, *logger)
	logger.Info().Str("kind", fc.Kind()).Str("addr", addr).Msg("starting misbehaving client")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, c.Duration("duration"))
	defer timeoutCancel()

	if err := fc.Run(ctx); err != nil && ctx.Err() == nil {
		return cli.Exit(err.Error(), 1)
	}
	logger.Info().Msg("misbehaving client finished")
	return nil
}
