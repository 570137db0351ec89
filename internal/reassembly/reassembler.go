// Package reassembly implements Reassembler (spec.md §4.7): turns
// incoming RTP datagrams back into whole JPEG frames, handling both
// the single-datagram fast path and the FragmentHeader-driven
// multi-datagram path, then hands completed frames to a JitterBuffer.
//
// Grounded in fragment_buffer_t in
// _examples/original_source/client/rtp_client.h (received_size/
// total_size/frags_received/total_frags/frags_bitmap/in_progress),
// translated into a Go struct since the reference rtp_client.c capture
// predates this struct's reassembly logic (it only buffers a single
// whole frame) — the operation sequence below follows spec.md §4.7.
//
// Created by WINK Streaming (https://www.wink.co)
package reassembly

import (
	"github.com/streamlab/rtspmjpeg/internal/jitter"
	"github.com/streamlab/rtspmjpeg/internal/protocol"
	"github.com/streamlab/rtspmjpeg/internal/rtpstats"
)

// partialFrame is the single in-progress reassembly slot (one
// session, one stream at a time).
type partialFrame struct {
	inProgress    bool
	seqNum        uint16
	data          []byte
	totalSize     uint32
	totalFrags    uint8
	fragsReceived uint8
	bitmap        uint32
}

// Reassembler owns the one PartialFrame slot for a session and feeds
// completed frames into dst.
type Reassembler struct {
	partial partialFrame
	stats   *rtpstats.RtpStats
	dst     *jitter.Buffer
}

// New returns a Reassembler that records loss/frame counters on stats
// and enqueues completed frames into dst.
func New(stats *rtpstats.RtpStats, dst *jitter.Buffer) *Reassembler {
	return &Reassembler{stats: stats, dst: dst}
}

// HandlePacket processes one decoded RTP datagram: header plus raw
// payload (which may be a whole JPEG frame or a FragmentHeader
// followed by a fragment).
func (r *Reassembler) HandlePacket(header protocol.RTPHeader, payload []byte) error {
	r.stats.ObservePacket(header.SeqNum)

	if len(payload) >= 2 && payload[0] == 0xFF && payload[1] == 0xD8 {
		frame := make([]byte, len(payload))
		copy(frame, payload)
		r.stats.ObserveFrameComplete()
		r.dst.Enqueue(frame)
		return nil
	}

	frag, err := protocol.DecodeFragmentHeader(payload)
	if err != nil {
		return err
	}
	body := payload[protocol.FragmentHeaderSize:]

	if frag.First {
		if !r.partial.inProgress || r.partial.seqNum != header.SeqNum {
			if r.partial.inProgress {
				r.stats.ObserveFrameDropped()
			}
			r.startFrame(header.SeqNum, frag)
		}
		// FIRST repeated for the already in-progress seqnum: fall
		// through and let the bitmap check treat it as a duplicate.
	} else if !r.partial.inProgress || r.partial.seqNum != header.SeqNum {
		// Non-first fragment that doesn't match the in-progress key: discard.
		return nil
	}

	r.applyFragment(frag, body)

	if r.partial.inProgress && r.partial.fragsReceived == r.partial.totalFrags {
		frame := r.partial.data
		r.partial = partialFrame{}
		r.stats.ObserveFrameComplete()
		r.dst.Enqueue(frame)
	}
	return nil
}

func (r *Reassembler) startFrame(seqNum uint16, frag protocol.FragmentHeader) {
	r.partial = partialFrame{
		inProgress: true,
		seqNum:     seqNum,
		data:       make([]byte, frag.TotalFrameSize),
		totalSize:  frag.TotalFrameSize,
		totalFrags: frag.TotalFragments,
	}
}

func (r *Reassembler) applyFragment(frag protocol.FragmentHeader, body []byte) {
	bit := uint32(1) << frag.FragmentIndex
	if r.partial.bitmap&bit != 0 {
		// Duplicate fragment: already counted, drop silently.
		return
	}

	offset := int(frag.FragmentIndex) * protocol.MaxFragmentPayload
	if offset+len(body) > len(r.partial.data) {
		return
	}
	copy(r.partial.data[offset:], body)
	r.partial.bitmap |= bit
	r.partial.fragsReceived++
}

// InProgress reports whether a partial frame is currently being
// assembled.
func (r *Reassembler) InProgress() bool { return r.partial.inProgress }
