// Package streamerr defines the error taxonomy from spec.md §7 as
// sentinel values usable with errors.Is/errors.As, wrapped with
// fmt.Errorf("%w") at the point of detection the way the rest of the
// module reports failures.
//
// Created by WINK Streaming (https://www.wink.co)
package streamerr

import "errors"

var (
	// NetworkTransient is a single recv/send failure: log and continue.
	NetworkTransient = errors.New("network transient error")
	// PeerGone is a TCP EOF/RST: terminate the session cleanly.
	PeerGone = errors.New("peer gone")
	// Protocol covers malformed RTSP, bad CSeq, or session mismatch.
	Protocol = errors.New("protocol error")
	// NotFound is a SETUP target that does not exist.
	NotFound = errors.New("not found")
	// Resource is a socket/open/alloc failure.
	Resource = errors.New("resource error")
	// Corruption is an invalid FrameContainer header: log, skip frame,
	// keep reading.
	Corruption = errors.New("corruption error")
	// Overflow is a frame larger than the receive buffer: count as
	// dropped, keep the stream alive.
	Overflow = errors.New("overflow error")
)
