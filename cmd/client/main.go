// Command client connects to a streaming server and drives playback
// from an interactive command line.
//
// Usage, per spec.md §6: `client <server_ip> <server_port> <rtp_port>
// <video_file>`. Connection and SETUP happen only once the operator
// issues the "connect" command — the CLI never auto-connects on
// startup.
//
// Created by WINK Streaming (https://www.wink.co)
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/streamlab/rtspmjpeg/internal/clientsession"
	"github.com/streamlab/rtspmjpeg/internal/logging"
)

func main() {
	app := &cli.App{
		Name:      "client",
		Usage:     "interactive MJPEG streaming client",
		ArgsUsage: "<server_ip> <server_port> <rtp_port> <video_file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: runClient,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runClient(c *cli.Context) error {
	if c.NArg() != 4 {
		return cli.Exit("usage: client <server_ip> <server_port> <rtp_port> <video_file>", 2)
	}
	serverIP := c.Args().Get(0)
	serverPort := c.Args().Get(1)
	rtpPort, err := strconv.Atoi(c.Args().Get(2))
	if err != nil {
		return cli.Exit(fmt.Sprintf("rtp_port: %v", err), 2)
	}
	videoFile := c.Args().Get(3)

	logging.Init(logging.SourceClient, c.Bool("debug"))
	logger := logging.L()

	shell := &clientShell{
		addr:      net.JoinHostPort(serverIP, serverPort),
		rtpPort:   rtpPort,
		videoFile: videoFile,
		logger:    *logger,
	}
	defer shell.disconnect()

	fmt.Println("disconnected. type \"help\" for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		if err := shell.dispatch(strings.Fields(scanner.Text())); err != nil {
			if err == errQuit {
				return nil
			}
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

var errQuit = fmt.Errorf("quit")

// clientShell holds the one ClientSession this operator drives.
// No state is created until "connect" runs — the UI triggers SETUP
// on user action, never on process start.
type clientShell struct {
	addr      string
	rtpPort   int
	videoFile string
	logger    zerolog.Logger
	sess      *clientsession.Session
}

func (s *clientShell) connect() error {
	if s.sess != nil {
		return fmt.Errorf("already connected")
	}
	conn, err := net.Dial("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	sess := clientsession.New(conn, s.logger)
	if err := sess.Setup(s.videoFile, s.rtpPort); err != nil {
		conn.Close()
		return err
	}
	s.sess = sess
	fmt.Println("connected, state READY")
	return nil
}

func (s *clientShell) disconnect() {
	if s.sess != nil {
		s.sess.Close()
	}
}

func (s *clientShell) printStats() error {
	buf := s.sess.Buffer()
	stats := s.sess.Stats()
	fmt.Printf("state=%s buffer=%d%% buffering=%v frames_dropped=%d packets=%d lost=%d\n",
		s.sess.State(), buf.FillPercent(), buf.IsBuffering(), buf.FramesDropped(),
		stats.PacketsReceived, stats.PacketsLost)
	return nil
}

func (s *clientShell) dispatch(fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "help":
		printHelp()
	case "connect":
		return s.connect()
	case "play":
		return s.requireSession(func() error { return s.sess.Play() })
	case "pause":
		return s.requireSession(func() error { return s.sess.Pause() })
	case "seek":
		if len(fields) != 2 {
			return fmt.Errorf("usage: seek <frame>")
		}
		frame, err := strconv.Atoi(fields[1])
		if err != nil {
			return err
		}
		return s.requireSession(func() error { return s.sess.Seek(frame) })
	case "stop":
		return s.requireSession(func() error { return s.sess.Teardown() })
	case "stats":
		return s.requireSession(s.printStats)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type \"help\"", fields[0])
	}
	return nil
}

func (s *clientShell) requireSession(fn func() error) error {
	if s.sess == nil {
		return fmt.Errorf("not connected, run \"connect\" first")
	}
	return fn()
}

func printHelp() {
	fmt.Println(`commands:
  connect          open the control connection and SETUP the file
  play             start or resume playback
  pause            pause playback
  seek <frame>     seek to a frame index
  stop             TEARDOWN and close the session
  stats            print buffer level and packet stats
  quit             exit the client`)
}
