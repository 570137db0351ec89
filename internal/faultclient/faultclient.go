// Package faultclient generates misbehaving RTSP clients — slow
// connectors, garbage senders, malformed requests — to exercise
// ServerSession's error handling (spec.md §7's Protocol and Resource
// categories) under adversarial input instead of a well-formed
// ClientSession.
//
// Grounded in _examples/winkmichael-wink-rtsp-bench's
// internal/rtsp/badclient.go, rewritten against this repository's wire
// format (SETUP/PLAY/PAUSE/TEARDOWN/SEEK, CSeq, Session, X-Frame)
// instead of generic RTSP/AVP with SDP.
//
// Created by WINK Streaming (https://www.wink.co)
package faultclient

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Kind names a misbehavior pattern.
type Kind int

const (
	SlowConnector Kind = iota
	SlowSender
	GarbageSender
	IncompleteHandshake
	InvalidProtocol
	ResourceHog
	RandomDisconnect
	MalformedRequests
	kindCount
)

func (k Kind) String() string {
	names := [...]string{
		"SlowConnector", "SlowSender", "GarbageSender", "IncompleteHandshake",
		"InvalidProtocol", "ResourceHog", "RandomDisconnect", "MalformedRequests",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Client is a single misbehaving connection against addr.
type Client struct {
	addr   string
	kind   Kind
	conn   net.Conn
	logger zerolog.Logger
}

// New picks a random misbehavior kind and returns a Client targeting
// addr (host:port, matching net.Dial's "tcp" form).
func New(addr string, logger zerolog.Logger) *Client {
	return &Client{addr: addr, kind: Kind(randIntn(int(kindCount))), logger: logger}
}

// Kind reports the misbehavior this client performs.
func (c *Client) Kind() string { return c.kind.String() }

// Run executes the selected misbehavior until ctx is cancelled or the
// behavior concludes on its own (e.g. RandomDisconnect).
func (c *Client) Run(ctx context.Context) error {
	switch c.kind {
	case SlowConnector:
		return c.runSlowConnector(ctx)
	case SlowSender:
		return c.runSlowSender(ctx)
	case GarbageSender:
		return c.runGarbageSender(ctx)
	case IncompleteHandshake:
		return c.runIncompleteHandshake(ctx)
	case InvalidProtocol:
		return c.runInvalidProtocol(ctx)
	case ResourceHog:
		return c.runResourceHog(ctx)
	case RandomDisconnect:
		return c.runRandomDisconnect(ctx)
	case MalformedRequests:
		return c.runMalformedRequests(ctx)
	default:
		return c.runGarbageSender(ctx)
	}
}

func (c *Client) connect() error {
	conn, err := net.DialTimeout("tcp", c.addr, 5*time.Second)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// runSlowConnector trickles a SETUP request one byte at a time.
func (c *Client) runSlowConnector(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", c.addr, 30*time.Second)
	if err != nil {
		return err
	}
	c.conn = conn
	defer conn.Close()

	message := "SETUP clip.mjpg RTSP/1.0\r\nCSeq: 1\r\n\r\n"
	for i, ch := range []byte(message) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(100+randIntn(900)) * time.Millisecond):
			if _, err := conn.Write([]byte{ch}); err != nil {
				return err
			}
			if i%10 == 0 {
				time.Sleep(time.Duration(1+randIntn(3)) * time.Second)
			}
		}
	}
	<-ctx.Done()
	return nil
}

// runSlowSender sends well-formed SETUP requests one character at a
// time with long pauses, starving the server's line reader.
func (c *Client) runSlowSender(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return err
	}
	defer c.conn.Close()

	cseq := 1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message := fmt.Sprintf("SETUP clip.mjpg RTSP/1.0\r\nCSeq: %d\r\n\r\n", cseq)
			for _, ch := range []byte(message) {
				time.Sleep(time.Duration(50+randIntn(450)) * time.Millisecond)
				if _, err := c.conn.Write([]byte{ch}); err != nil {
					return err
				}
			}
			cseq++
			time.Sleep(time.Duration(5+randIntn(10)) * time.Second)
		}
	}
}

// runGarbageSender sends bytes that are not this protocol at all.
func (c *Client) runGarbageSender(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return err
	}
	defer c.conn.Close()

	garbage := []string{
		"GET / HTTP/1.1\r\n\r\n",
		"HELLO SERVER\n",
		"\x00\x01\x02\x03\x04\x05\x06\x07",
		"SETUP clip.mjpg RTSP/2.0\r\n\r\n",
		"<?xml version=\"1.0\"?><root></root>",
		"Lorem ipsum dolor sit amet, consectetur adipiscing elit...",
		string(make([]byte, 1000)),
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			data := garbage[randIntn(len(garbage))]
			if randIntn(10) < 3 {
				buf := make([]byte, 100+randIntn(900))
				_, _ = rand.Read(buf)
				data = string(buf)
			}
			if _, err := c.conn.Write([]byte(data)); err != nil {
				return err
			}
			time.Sleep(time.Duration(100+randIntn(2000)) * time.Millisecond)
		}
	}
}

// runIncompleteHandshake sends a SETUP line missing its terminating
// blank line, then holds the connection open.
func (c *Client) runIncompleteHandshake(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return err
	}
	defer c.conn.Close()

	if _, err := c.conn.Write([]byte("SETUP clip.mjpg RTSP/1.0\r\nCSeq: 1\r\n")); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// runInvalidProtocol sends syntactically broken request lines.
func (c *Client) runInvalidProtocol(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return err
	}
	defer c.conn.Close()

	invalid := []string{
		"SETUP\r\n\r\n",
		"RTSP/1.0 SETUP clip.mjpg\r\n\r\n",
		"SETUP clip.mjpg RTSP/1.0\r\nCSeq\r\n\r\n",
		"SETUP clip.mjpg RTSP/1.0\r\nCSeq: -1\r\n\r\n",
		"PLAY RTSP/1.0\r\n\r\n",
		"SETUP clip.mjpg RTSP/1.0\nCSeq: 1\n\n",
		"HACK clip.mjpg RTSP/1.0\r\nCSeq: 1\r\n\r\n",
	}

	cseq := 1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			cmd := invalid[randIntn(len(invalid))]
			if strings.Contains(cmd, "CSeq: 1") {
				cmd = strings.Replace(cmd, "CSeq: 1", fmt.Sprintf("CSeq: %d", cseq), 1)
			}
			if _, err := c.conn.Write([]byte(cmd)); err != nil {
				return err
			}
			cseq++
			time.Sleep(time.Duration(500+randIntn(1500)) * time.Millisecond)
		}
	}
}

// runResourceHog opens a connection and holds it with occasional
// single bytes, never completing a request.
func (c *Client) runResourceHog(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return err
	}
	defer c.conn.Close()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = c.conn.Write([]byte("S"))
		}
	}
}

// runRandomDisconnect sends a valid SETUP then abruptly closes.
func (c *Client) runRandomDisconnect(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return err
	}
	defer c.conn.Close()

	duration := time.Duration(1+randIntn(30)) * time.Second
	if _, err := c.conn.Write([]byte("SETUP clip.mjpg RTSP/1.0\r\nCSeq: 1\r\n\r\n")); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(duration):
		c.conn.Close()
		return fmt.Errorf("intentional random disconnect")
	}
}

// runMalformedRequests sends a rotating set of deliberately broken
// requests, reading and discarding whatever the server replies.
func (c *Client) runMalformedRequests(ctx context.Context) error {
	if err := c.connect(); err != nil {
		return err
	}
	defer c.conn.Close()

	cseq := 1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			var request string
			switch randIntn(5) {
			case 0:
				request = fmt.Sprintf("SETUP clip.mjpg RTSP/1.0\r\nCSeq: %d\r\nUser-Agent: %s\r\n\r\n", cseq, strings.Repeat("A", 10000))
			case 1:
				var b strings.Builder
				fmt.Fprintf(&b, "SETUP clip.mjpg RTSP/1.0\r\nCSeq: %d\r\n", cseq)
				for i := 0; i < 1000; i++ {
					fmt.Fprintf(&b, "X-Header-%d: value\r\n", i)
				}
				b.WriteString("\r\n")
				request = b.String()
			case 2:
				request = fmt.Sprintf("SETUP clip.mjpg RTSP/1.0\r\nCSeq: %d\r\nX-Test: 你好世界\r\n\r\n", cseq)
			case 3:
				request = fmt.Sprintf("SEEK clip.mjpg RTSP/1.0\r\nCSeq: %d\r\nX-Frame: not-a-number\r\n\r\n", cseq)
			case 4:
				methods := []string{"SeTuP", "setup", "SETUP"}
				request = fmt.Sprintf("%s clip.mjpg RTSP/1.0\r\nCSeq: %d\r\n\r\n", methods[randIntn(len(methods))], cseq)
			}

			if _, err := c.conn.Write([]byte(request)); err != nil {
				return err
			}
			buf := make([]byte, 4096)
			_ = c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			_, _ = c.conn.Read(buf)

			cseq++
			time.Sleep(time.Duration(200+randIntn(800)) * time.Millisecond)
		}
	}
}

// randIntn returns a uniform random int in [0, n) using crypto/rand,
// avoiding a shared math/rand source across concurrently spawned
// fault clients.
func randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
