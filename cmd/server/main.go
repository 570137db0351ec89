// Command server accepts RTSP control connections and streams MJPEG
// files over RTP/UDP to each connected ClientSession.
//
// Usage, per spec.md §6: `server <port>`. Exit 0 on clean shutdown
// (unreachable by design in the base accept loop), nonzero on
// bind/listen failure.
//
// Created by WINK Streaming (https://www.wink.co)
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/streamlab/rtspmjpeg/internal/config"
	"github.com/streamlab/rtspmjpeg/internal/logging"
	"github.com/streamlab/rtspmjpeg/internal/serversession"
)

func main() {
	app := &cli.App{
		Name:      "server",
		Usage:     "stream MJPEG files over RTSP/RTP",
		ArgsUsage: "<port>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "media-dir",
				Aliases: []string{"m"},
				Value:   "./media",
				Usage:   "directory of streamable MJPEG files (ignored when --config is set)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML media library manifest",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: server <port>", 2)
	}
	port := c.Args().Get(0)

	logging.Init(logging.SourceServer, c.Bool("debug"))
	logger := logging.L()

	cfg, err := loadServerConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := cfg.EnsureMediaRoot(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", port))
	if err != nil {
		return cli.Exit(fmt.Sprintf("listen on %s: %v", port, err), 1)
	}
	defer ln.Close()

	logger.Info().Str("addr", ln.Addr().String()).Str("media_root", cfg.MediaRoot).Msg("server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return cli.Exit(fmt.Sprintf("accept: %v", err), 1)
		}
		sess := serversession.New(conn, cfg.MediaRoot, *logger)
		go sess.Serve()
	}
}

func loadServerConfig(c *cli.Context) (*config.ServerConfig, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.Default(c.String("media-dir")), nil
}
