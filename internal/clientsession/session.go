// Package clientsession implements ClientSession (spec.md §4.6): the
// client-side mirror of the server's RTSP state machine, a background
// reply listener that matches replies to pending requests by position,
// and a UDP receive listener that feeds the Reassembler/JitterBuffer
// pipeline.
//
// Grounded in Client in _examples/winkmichael-wink-rtsp-bench's
// internal/rtsp/client.go (connect/handshake/runUDP shape), rewritten
// against this protocol's UDP-only transport and request/reply
// matching instead of RTSP/AVP + SDP negotiation.
//
// Created by WINK Streaming (https://www.wink.co)
package clientsession

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/streamlab/rtspmjpeg/internal/jitter"
	"github.com/streamlab/rtspmjpeg/internal/protocol"
	"github.com/streamlab/rtspmjpeg/internal/reassembly"
	"github.com/streamlab/rtspmjpeg/internal/rtpstats"
)

// udpReadTimeout bounds each recvfrom call so the receive listener can
// observe the shutdown signal, matching spec.md §5's "1 s timeout"
// suspension point.
const udpReadTimeout = time.Second

type pendingCmd struct {
	method protocol.Method
	replyC chan protocol.Reply
}

// Session is one client's view of a streaming connection: the control
// TCP socket, its own CSeq counter and mirrored SessionState, and the
// UDP side (Reassembler feeding a JitterBuffer).
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	logger zerolog.Logger

	mu        sync.Mutex
	state     protocol.SessionState
	sessionID int
	cseq      int

	pendingMu sync.Mutex
	pending   []pendingCmd

	udpConn     *net.UDPConn
	stats       *rtpstats.RtpStats
	buffer      *jitter.Buffer
	reassembler *reassembly.Reassembler

	stopUDP chan struct{}
	udpDone chan struct{}
}

// New wraps an already-dialed TCP control connection and starts the
// reply listener. The caller must call Close when done.
func New(conn net.Conn, logger zerolog.Logger) *Session {
	s := &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		logger: logger.With().Str("correlation_id", uuid.NewString()).Logger(),
		state:  protocol.StateInit,
		cseq:   1,
		stats:  rtpstats.New(),
		buffer: jitter.New(),
	}
	s.reassembler = reassembly.New(s.stats, s.buffer)
	go s.replyListener()
	return s
}

// Buffer exposes the JitterBuffer a consumer dequeues decoded frames
// from.
func (s *Session) Buffer() *jitter.Buffer { return s.buffer }

// Stats returns the live RTP counters accumulated by the Reassembler.
func (s *Session) Stats() rtpstats.Snapshot { return s.stats.Snapshot() }

// State reports the session's current mirrored state.
func (s *Session) State() protocol.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Setup opens a local UDP socket, starts the receive listener, and
// issues SETUP for filename. On success the mirrored state advances
// to READY. An optional localRTPPort pins the client's receive socket
// to a specific port (spec.md §6's client CLI takes an explicit
// rtp_port); when omitted or zero the OS assigns an ephemeral port.
func (s *Session) Setup(filename string, localRTPPort ...int) error {
	port := 0
	if len(localRTPPort) > 0 {
		port = localRTPPort[0]
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return fmt.Errorf("setup: open rtp socket: %w", err)
	}
	s.udpConn = udpConn
	s.stopUDP = make(chan struct{})
	s.udpDone = make(chan struct{})
	go s.udpListener()

	port = udpConn.LocalAddr().(*net.UDPAddr).Port
	rep, err := s.roundTrip(protocol.Request{
		Method:        protocol.MethodSetup,
		Filename:      filename,
		ClientRTPPort: port,
	})
	if err != nil {
		return err
	}
	if rep.Status != protocol.StatusOK {
		return fmt.Errorf("setup: server replied %d %s", rep.Status, rep.Status.Reason())
	}

	s.mu.Lock()
	s.sessionID = rep.SessionID
	s.state = protocol.StateReady
	s.mu.Unlock()
	return nil
}

// Play issues PLAY. On success the mirrored state advances to PLAYING.
func (s *Session) Play() error {
	rep, err := s.command(protocol.MethodPlay, protocol.Request{})
	if err != nil {
		return err
	}
	if rep.Status != protocol.StatusOK {
		return fmt.Errorf("play: server replied %d %s", rep.Status, rep.Status.Reason())
	}
	s.mu.Lock()
	s.state = protocol.StatePlaying
	s.mu.Unlock()
	return nil
}

// Pause issues PAUSE. On success the mirrored state returns to READY.
// Per spec.md §5, datagrams already in flight may still arrive after
// the reply; the caller is not required to drain them.
func (s *Session) Pause() error {
	rep, err := s.command(protocol.MethodPause, protocol.Request{})
	if err != nil {
		return err
	}
	if rep.Status != protocol.StatusOK {
		return fmt.Errorf("pause: server replied %d %s", rep.Status, rep.Status.Reason())
	}
	s.mu.Lock()
	s.state = protocol.StateReady
	s.mu.Unlock()
	return nil
}

// Seek issues SEEK and clears the JitterBuffer so stale pre-seek
// frames are not displayed (spec.md §5).
func (s *Session) Seek(frame int) error {
	rep, err := s.command(protocol.MethodSeek, protocol.Request{SeekFrame: frame})
	if err != nil {
		return err
	}
	if rep.Status != protocol.StatusOK {
		return fmt.Errorf("seek: server replied %d %s", rep.Status, rep.Status.Reason())
	}
	s.buffer.Clear()
	return nil
}

// Teardown issues TEARDOWN, stops the UDP listener, and resets the
// mirrored state to INIT.
func (s *Session) Teardown() error {
	rep, err := s.command(protocol.MethodTeardown, protocol.Request{})
	if err != nil {
		return err
	}

	if s.stopUDP != nil {
		close(s.stopUDP)
		<-s.udpDone
		s.udpConn.Close()
		s.stopUDP = nil
	}

	s.mu.Lock()
	s.state = protocol.StateInit
	s.sessionID = 0
	s.mu.Unlock()

	if rep.Status != protocol.StatusOK {
		return fmt.Errorf("teardown: server replied %d %s", rep.Status, rep.Status.Reason())
	}
	return nil
}

// Close releases the TCP connection and, if still running, the UDP
// listener. It does not send TEARDOWN; call Teardown first for a
// graceful shutdown.
func (s *Session) Close() error {
	if s.stopUDP != nil {
		select {
		case <-s.stopUDP:
		default:
			close(s.stopUDP)
			<-s.udpDone
		}
		s.udpConn.Close()
	}
	return s.conn.Close()
}

// command fills in the session id and CSeq for req and round-trips it.
func (s *Session) command(method protocol.Method, req protocol.Request) (protocol.Reply, error) {
	s.mu.Lock()
	req.SessionID = s.sessionID
	s.mu.Unlock()
	req.Method = method
	return s.roundTrip(req)
}

// roundTrip assigns the next CSeq, registers a pending slot, writes
// the request, and blocks for the matching reply. Binding is by
// position: the reply listener delivers replies to pending commands
// in FIFO order, per spec.md §4.6 ("CSeq matching is advisory, used
// only for logging").
func (s *Session) roundTrip(req protocol.Request) (protocol.Reply, error) {
	s.mu.Lock()
	req.CSeq = s.cseq
	s.cseq++
	s.mu.Unlock()

	cmd := pendingCmd{method: req.Method, replyC: make(chan protocol.Reply, 1)}
	s.pendingMu.Lock()
	s.pending = append(s.pending, cmd)
	s.pendingMu.Unlock()

	s.logger.Debug().Stringer("req", req).Msg("sending request")
	if _, err := s.conn.Write([]byte(protocol.EncodeRequest(req))); err != nil {
		return protocol.Reply{}, fmt.Errorf("%s: write: %w", req.Method, err)
	}

	rep, ok := <-cmd.replyC
	if !ok {
		return protocol.Reply{}, fmt.Errorf("%s: connection closed before reply", req.Method)
	}
	return rep, nil
}

// replyListener reads replies off the TCP socket and dispatches each
// to the oldest still-pending command, per spec.md §4.6.
func (s *Session) replyListener() {
	for {
		rep, err := protocol.ReadReply(s.reader)
		if err != nil {
			s.logger.Debug().Err(err).Msg("reply listener exiting")
			s.drainPending()
			return
		}

		s.pendingMu.Lock()
		if len(s.pending) == 0 {
			s.pendingMu.Unlock()
			s.logger.Warn().Stringer("rep", rep).Msg("unsolicited reply, dropping")
			continue
		}
		cmd := s.pending[0]
		s.pending = s.pending[1:]
		s.pendingMu.Unlock()

		s.logger.Debug().Stringer("rep", rep).Str("for", string(cmd.method)).Msg("received reply")
		cmd.replyC <- rep
	}
}

func (s *Session) drainPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for _, cmd := range s.pending {
		close(cmd.replyC)
	}
	s.pending = nil
}

// udpListener blocks in recvfrom with a short timeout so it can
// observe stopUDP, handing every decoded datagram to the Reassembler.
func (s *Session) udpListener() {
	defer close(s.udpDone)

	buf := make([]byte, 65536)
	for {
		select {
		case <-s.stopUDP:
			return
		default:
		}

		s.udpConn.SetReadDeadline(time.Now().Add(udpReadTimeout))
		n, _, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.stopUDP:
				return
			default:
				s.logger.Debug().Err(err).Msg("udp read error")
				continue
			}
		}

		header, payload, err := protocol.DecodeRTPPacket(buf[:n])
		if err != nil {
			s.logger.Warn().Err(err).Msg("malformed rtp packet, dropping")
			continue
		}
		if err := s.reassembler.HandlePacket(header, payload); err != nil {
			s.logger.Warn().Err(err).Msg("reassembly error")
		}
	}
}
