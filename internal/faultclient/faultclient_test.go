// Created by WINK Streaming (https://www.wink.co)
package faultclient

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func echoListener(t *testing.T) string {
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
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(io.Discard, c)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestKindStringCoversAllValues(t *testing.T) {
	for k := SlowConnector; k < kindCount; k++ {
		require.NotEqual(t, "Unknown", k.String())
	}
	require.Equal(t, "Unknown", Kind(999).String())
}

func TestGarbageSenderStopsOnCancel(t *testing.T) {
	addr := echoListener(t)
	c := &Client{addr: addr, kind: GarbageSender, logger: zerolog.Nop()}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)
	require.Error(t, err)
}

func TestMalformedRequestsStopsOnCancel(t *testing.T) {
	addr := echoListener(t)
	c := &Client{addr: addr, kind: MalformedRequests, logger: zerolog.Nop()}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)
	require.Error(t, err)
}

func TestIncompleteHandshakeHoldsUntilCancel(t *testing.T) {
	addr := echoListener(t)
	c := &Client{addr: addr, kind: IncompleteHandshake, logger: zerolog.Nop()}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)
	require.NoError(t, err)
}

func TestRandomDisconnectReturnsError(t *testing.T) {
	addr := echoListener(t)
	c := &Client{addr: addr, kind: RandomDisconnect, logger: zerolog.Nop()}
	// RandomDisconnect sleeps 1-30s before disconnecting; cancel first
	// to exercise the ctx.Err() branch deterministically in tests.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)
	require.Error(t, err)
}

func TestNewPicksAKind(t *testing.T) {
	c := New("127.0.0.1:0", zerolog.Nop())
	require.NotEqual(t, "Unknown", c.Kind())
}
