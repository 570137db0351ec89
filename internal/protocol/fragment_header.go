// Created by WINK Streaming (https://www.wink.co)
package protocol

import (
	"encoding/binary"
	"fmt"
)

// FragmentHeaderSize is the fixed 8-byte application fragment header
// (spec.md §3), modeled directly on
// _examples/original_source/common/rtp_fragment.h.
const FragmentHeaderSize = 8

// MaxFragmentPayload is the maximum payload bytes per UDP fragment,
// leaving room for the RTP header and this fragment header under a
// conventional 1500-byte MTU.
const MaxFragmentPayload = 1400

const (
	fragFlagFirst = 0x80
	fragFlagLast  = 0x40
)

// FragmentHeader carries the reassembly metadata for one piece of a
// frame. The codec never touches payload bytes.
type FragmentHeader struct {
	First          bool
	Last           bool
	FragmentIndex  uint8
	TotalFragments uint8
	TotalFrameSize uint32
}

// FragmentsNeeded returns ceil(frameSize / MaxFragmentPayload).
func FragmentsNeeded(frameSize int) int {
	if frameSize <= 0 {
		return 0
	}
	return (frameSize + MaxFragmentPayload - 1) / MaxFragmentPayload
}

// EncodeFragmentHeader writes the 8-byte header for fragment `index`
// of `total`, setting FIRST on index 0 and LAST on index total-1.
func EncodeFragmentHeader(index, total int, frameSize uint32) []byte {
	buf := make([]byte, FragmentHeaderSize)

	var flags uint8
	if index == 0 {
		flags |= fragFlagFirst
	}
	if index == total-1 {
		flags |= fragFlagLast
	}

	buf[0] = flags
	buf[1] = uint8(index)
	buf[2] = uint8(total)
	buf[3] = 0 // reserved
	binary.BigEndian.PutUint32(buf[4:8], frameSize)
	return buf
}

// DecodeFragmentHeader is the inverse of EncodeFragmentHeader.
func DecodeFragmentHeader(buf []byte) (FragmentHeader, error) {
	if len(buf) < FragmentHeaderSize {
		return FragmentHeader{}, fmt.Errorf("fragment: header too short (%d bytes): %w", len(buf), ErrMalformed)
	}
	flags := buf[0]
	return FragmentHeader{
		First:          flags&fragFlagFirst != 0,
		Last:           flags&fragFlagLast != 0,
		FragmentIndex:  buf[1],
		TotalFragments: buf[2],
		TotalFrameSize: binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}
