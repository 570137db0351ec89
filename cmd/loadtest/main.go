// Command loadtest drives many concurrent ClientSessions against a
// running server, either ramping to a fixed reader count or shaping
// load with the real-world daily traffic simulator.
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

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/streamlab/rtspmjpeg/internal/loadtest"
	"github.com/streamlab/rtspmjpeg/internal/logging"
	"github.com/streamlab/rtspmjpeg/internal/rtpstats"
)

func main() {
	app := &cli.App{
		Name:  "loadtest",
		Usage: "drive concurrent MJPEG streaming clients against a server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Required: true, Usage: "server address host:port"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "filename every reader requests"},
			&cli.IntFlag{Name: "readers", Aliases: []string{"n"}, Value: 10, Usage: "number of concurrent readers"},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Value: 30 * time.Second, Usage: "how long each reader streams"},
			&cli.Float64Flag{Name: "rate", Aliases: []string{"r"}, Value: 5, Usage: "new connections per second"},
			&cli.DurationFlag{Name: "stats-interval", Value: 5 * time.Second, Usage: "interval between stats log lines"},
			&cli.BoolFlag{Name: "real-world", Usage: "shape load with the daily traffic simulator instead of a fixed ramp"},
			&cli.IntFlag{Name: "avg-connections", Value: 50, Usage: "average concurrent connections (real-world mode)"},
			&cli.Float64Flag{Name: "variance", Value: 0.3, Usage: "fractional variance around avg-connections (real-world mode)"},
			&cli.BoolFlag{Name: "bad-clients", Usage: "mix in misbehaving fault clients"},
			&cli.Float64Flag{Name: "bad-client-ratio", Value: 0.1, Usage: "fraction of spawned connections that misbehave"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Action: runLoadtest,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runLoadtest(c *cli.Context) error {
	logging.Init(logging.SourceLoadtest, c.Bool("debug"))
	logger := logging.L()

	cfg := loadtest.Config{
		Addr:              c.String("addr"),
		Filename:          c.String("file"),
		Readers:           c.Int("readers"),
		Duration:          c.Duration("duration"),
		Rate:              c.Float64("rate"),
		StatsInterval:     c.Duration("stats-interval"),
		RealWorld:         c.Bool("real-world"),
		AvgConnections:    c.Int("avg-connections"),
		Variance:          c.Float64("variance"),
		IncludeBadClients: c.Bool("bad-clients"),
		BadClientRatio:    c.Float64("bad-client-ratio"),
	}

	aggregator := rtpstats.NewAggregator()
	runner := loadtest.NewRunner(cfg, aggregator, *logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan struct{})
	go reportStats(ctx, runner, cfg.StatsInterval, logger)

	go func() {
		defer close(done)
		if err := runner.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("load test run failed")
		}
	}()

	<-done
	logStats(runner, logger)
	return nil
}

func reportStats(ctx context.Context, runner *loadtest.Runner, interval time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logStats(runner, logger)
		}
	}
}

func logStats(runner *loadtest.Runner, logger *zerolog.Logger) {
	s := runner.GetStats()
	logger.Info().
		Int64("active", s.ActiveConnects).
		Int64("total", s.TotalConnects).
		Int64("failures", s.TotalFailures).
		Float64("avg_connect_ms", s.AvgConnectTime).
		Float64("p95_connect_ms", s.P95ConnectTime).
		Uint64("packets", s.Packets).
		Uint64("lost", s.Lost).
		Int64("bad_clients", s.BadClients).
		Msg("load test stats")
}
