// Package serversession implements ServerSession (spec.md §4.5): the
// per-client RTSP state machine, its UDP send loop, and packetization
// of container frames into RTP/FragmentHeader datagrams.
//
// Grounded in session_t and server_worker_thread in
// _examples/original_source/server/server_worker.c/.h, adapted from
// the original's event-mutex + condition-variable + stop-flag send
// loop into the cancellation-channel redesign spec.md §9 Design Notes
// recommends, and from the teacher's goroutine-per-connection pattern
// in _examples/winkmichael-wink-rtsp-bench.
//
// Created by WINK Streaming (https://www.wink.co)
package serversession

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/streamlab/rtspmjpeg/internal/container"
	"github.com/streamlab/rtspmjpeg/internal/protocol"
	"github.com/streamlab/rtspmjpeg/internal/streamerr"
)

// sendInterval is the pacing period between emitted frames, equal to
// the 20fps nominal rate (spec.md §4.1, §5).
const sendInterval = time.Second / protocol.NominalFPS

// Session is one client's RTSP connection plus everything it owns:
// the container being streamed, the lazily-created UDP socket, and
// the send-loop lifecycle.
type Session struct {
	conn      net.Conn
	mediaRoot string
	logger    zerolog.Logger

	mu        sync.Mutex // guards state, sessionID, filename, clientIP, clientRTP
	state     protocol.SessionState
	sessionID int
	filename  string
	clientIP  net.IP
	clientRTP int

	ioMu      sync.Mutex // serializes container access between SEEK and the send loop
	stream    *container.Container
	udpConn   *net.UDPConn
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New wraps an accepted RTSP connection. mediaRoot bounds which files
// SETUP may open.
func New(conn net.Conn, mediaRoot string, logger zerolog.Logger) *Session {
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	return &Session{
		conn:      conn,
		mediaRoot: mediaRoot,
		logger:    logger.With().Str("peer", conn.RemoteAddr().String()).Logger(),
		state:     protocol.StateInit,
		clientIP:  net.ParseIP(host),
	}
}

// Serve reads requests off the connection until disconnect, routing
// each to its handler. It owns final session cleanup: on return the
// send loop has been stopped and every resource released.
func (s *Session) Serve() {
	defer s.cleanup()

	reader := bufio.NewReader(s.conn)
	for {
		req, err := protocol.ReadRequest(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug().Msg("client disconnected")
				return
			}
			s.logger.Warn().Err(err).Msg("malformed request, dropping connection")
			return
		}
		s.logger.Debug().Stringer("req", req).Msg("received request")
		s.route(req)
	}
}

func (s *Session) route(req protocol.Request) {
	s.mu.Lock()
	assigned := s.sessionID
	s.mu.Unlock()

	if req.Method != protocol.MethodSetup && req.SessionID != assigned {
		// spec.md §4.5: silently dropped, no reply. Preserved even
		// though it can leave a client blocked forever.
		s.logger.Debug().Int("want", assigned).Int("got", req.SessionID).Msg("session id mismatch, dropping")
		return
	}

	switch req.Method {
	case protocol.MethodSetup:
		s.handleSetup(req)
	case protocol.MethodPlay:
		s.handlePlay(req)
	case protocol.MethodPause:
		s.handlePause(req)
	case protocol.MethodSeek:
		s.handleSeek(req)
	case protocol.MethodTeardown:
		s.handleTeardown(req)
	}
}

func (s *Session) reply(status protocol.Status, cseq int) {
	s.mu.Lock()
	sid := s.sessionID
	s.mu.Unlock()
	rep := protocol.Reply{Status: status, CSeq: cseq, SessionID: sid}
	if _, err := io.WriteString(s.conn, protocol.EncodeReply(rep)); err != nil {
		s.logger.Warn().Err(err).Msg("error sending reply")
	}
}

func (s *Session) handleSetup(req protocol.Request) {
	s.mu.Lock()
	if s.state != protocol.StateInit {
		s.mu.Unlock()
		s.logger.Debug().Msg("received setup in non-init state, ignoring")
		return
	}
	s.mu.Unlock()

	path := filepath.Join(s.mediaRoot, filepath.Base(req.Filename))
	stream, err := container.Open(path)
	if err != nil {
		s.logger.Info().Str("file", req.Filename).Err(err).Msg("setup: file not found")
		s.reply(protocol.StatusNotFound, req.CSeq)
		return
	}

	s.mu.Lock()
	s.stream = stream
	s.filename = req.Filename
	s.clientRTP = req.ClientRTPPort
	if s.sessionID == 0 {
		s.sessionID = 100000 + rand.Intn(900000)
	}
	s.state = protocol.StateReady
	s.mu.Unlock()

	s.logger.Info().Str("file", req.Filename).Msg("setup ok")
	s.reply(protocol.StatusOK, req.CSeq)
}

func (s *Session) handlePlay(req protocol.Request) {
	s.mu.Lock()
	if s.state != protocol.StateReady {
		s.mu.Unlock()
		s.logger.Info().Stringer("state", s.state).Msg("play rejected: not ready")
		s.reply(protocol.StatusServerError, req.CSeq)
		return
	}
	s.state = protocol.StatePlaying
	clientIP := s.clientIP
	clientPort := s.clientRTP
	s.mu.Unlock()

	if s.udpConn == nil {
		conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: clientIP, Port: clientPort})
		if err != nil {
			s.logger.Error().Err(err).Msg("play: failed to open rtp socket")
			s.mu.Lock()
			s.state = protocol.StateReady
			s.mu.Unlock()
			s.reply(protocol.StatusServerError, req.CSeq)
			return
		}
		s.udpConn = conn
	}

	s.reply(protocol.StatusOK, req.CSeq)
	s.startSendLoop()
}

func (s *Session) handlePause(req protocol.Request) {
	s.mu.Lock()
	if s.state != protocol.StatePlaying {
		s.mu.Unlock()
		s.reply(protocol.StatusServerError, req.CSeq)
		return
	}
	s.mu.Unlock()

	s.stopSendLoop()

	s.mu.Lock()
	s.state = protocol.StateReady
	s.mu.Unlock()
	s.reply(protocol.StatusOK, req.CSeq)
}

func (s *Session) handleSeek(req protocol.Request) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != protocol.StateReady && state != protocol.StatePlaying {
		s.reply(protocol.StatusServerError, req.CSeq)
		return
	}

	s.ioMu.Lock()
	_, err := s.stream.SeekFrame(req.SeekFrame)
	s.ioMu.Unlock()
	if err != nil {
		s.logger.Warn().Err(err).Msg("seek failed")
		s.reply(protocol.StatusServerError, req.CSeq)
		return
	}
	s.reply(protocol.StatusOK, req.CSeq)
}

func (s *Session) handleTeardown(req protocol.Request) {
	s.stopSendLoop()

	s.mu.Lock()
	s.state = protocol.StateInit
	s.sessionID = 0
	s.mu.Unlock()

	s.reply(protocol.StatusOK, req.CSeq)

	s.ioMu.Lock()
	if s.udpConn != nil {
		s.udpConn.Close()
		s.udpConn = nil
	}
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
	s.ioMu.Unlock()
}

// startSendLoop spawns the per-session send loop if one is not
// already running.
func (s *Session) startSendLoop() {
	if s.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	go s.sendLoop(ctx)
}

// stopSendLoop signals the send loop to exit and waits for it to join
// (spec.md §5: "PAUSE is not considered effective until the send loop
// has joined").
func (s *Session) stopSendLoop() {
	if s.loopCancel == nil {
		return
	}
	s.loopCancel()
	<-s.loopDone
	s.loopCancel = nil
	s.loopDone = nil
}

// sendLoop reads one frame at a time from the container, packetizes
// it, and sends it over UDP at the nominal frame rate, until ctx is
// cancelled or the container reaches EOF.
func (s *Session) sendLoop(ctx context.Context) {
	defer close(s.loopDone)

	limiter := rate.NewLimiter(rate.Every(sendInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return // cancelled
		}

		s.ioMu.Lock()
		stream := s.stream
		if stream == nil {
			s.ioMu.Unlock()
			return
		}
		frame, err := stream.NextFrame()
		frameIdx := stream.FrameIndex() - 1
		s.ioMu.Unlock()

		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug().Msg("container exhausted, ending send loop")
				return
			}
			s.logger.Warn().Err(err).Msg("frame read error, skipping")
			continue
		}

		if err := s.sendFrame(frame, uint16(frameIdx%(1<<16))); err != nil {
			s.logger.Warn().Err(err).Msg("frame send error")
		}
	}
}

// sendFrame packetizes frame under seqNum and emits one UDP datagram
// per fragment (spec.md §4.5). A frame that fits one datagram and
// begins with SOI (0xFF 0xD8) is sent without a FragmentHeader; any
// other frame carries one. This matches the Reassembler's SOI fast path
// and §6's external wire description (the two disagree with §4.5's
// prose claim that single-fragment frames still carry a header; the
// wire-level and receiver-side text is treated as authoritative here).
func (s *Session) sendFrame(frame []byte, seqNum uint16) error {
	n := protocol.FragmentsNeeded(len(frame))
	if n == 0 {
		return fmt.Errorf("empty frame at seq %d: %w", seqNum, streamerr.Corruption)
	}

	header := protocol.RTPHeader{
		Version:     2,
		PayloadType: protocol.PayloadTypeJPEG,
		SeqNum:      seqNum,
		Timestamp:   uint32(time.Now().Unix()),
	}

	if n == 1 && frame[0] == 0xFF && len(frame) >= 2 && frame[1] == 0xD8 {
		header.Marker = true
		packet := protocol.EncodeRTPPacket(header, frame)
		_, err := s.udpConn.Write(packet)
		return err
	}

	for i := 0; i < n; i++ {
		start := i * protocol.MaxFragmentPayload
		end := start + protocol.MaxFragmentPayload
		if end > len(frame) {
			end = len(frame)
		}
		fragHeader := protocol.EncodeFragmentHeader(i, n, uint32(len(frame)))
		payload := append(fragHeader, frame[start:end]...)
		header.Marker = i == n-1
		packet := protocol.EncodeRTPPacket(header, payload)
		if _, err := s.udpConn.Write(packet); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) cleanup() {
	s.stopSendLoop()

	s.ioMu.Lock()
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	if s.stream != nil {
		s.stream.Close()
	}
	s.ioMu.Unlock()

	s.conn.Close()
	s.logger.Debug().Msg("session closed")
}
