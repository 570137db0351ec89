// Created by WINK Streaming (https://www.wink.co)
package loadtest

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/streamlab/rtspmjpeg/internal/rtpstats"
	"github.com/streamlab/rtspmjpeg/internal/serversession"
)

func startTestServer(t *testing.T, mediaDir string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			sess := serversession.New(conn, mediaDir, zerolog.Nop())
			go sess.Serve()
		}
	}()
	return ln.Addr().String()
}

func jpegFrame(payload byte, n int) []byte {
	buf := make([]byte, 0, n+4)
	buf = append(buf, 0xFF, 0xD8)
	for i := 0; i < n; i++ {
		buf = append(buf, payload)
	}
	buf = append(buf, 0xFF, 0xD9)
	return buf
}

func TestRunnerDrivesConnectionsAgainstRealServer(t *testing.T) {
	mediaDir := t.TempDir()
	data := append(append(jpegFrame('a', 10), jpegFrame('b', 10)...), jpegFrame('c', 10)...)
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "clip.mjpg"), data, 0o644))

	addr := startTestServer(t, mediaDir)

	cfg := Config{
		Addr:     addr,
		Filename: "clip.mjpg",
		Readers:  3,
		Duration: 300 * time.Millisecond,
		Rate:     50,
	}
	runner := NewRunner(cfg, rtpstats.NewAggregator(), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, runner.Run(ctx))

	stats := runner.GetStats()
	require.Equal(t, int64(3), stats.TotalConnects)
	require.Equal(t, int64(0), stats.TotalFailures)
}

func TestGeneratePatternVariants(t *testing.T) {
	require.Greater(t, GeneratePattern(PatternPeak, 100, 0.5), 100)
	require.Less(t, GeneratePattern(PatternValley, 100, 0.5), 100)
	require.Equal(t, 100, GeneratePattern(PatternSteady, 100, 0.5))
}

func TestBadClientRollGating(t *testing.T) {
	require.False(t, badClientRoll(0, 0))
	require.True(t, badClientRoll(0, 1))
	require.True(t, badClientRoll(0, 0.5))
	require.False(t, badClientRoll(1, 0.5))
}
