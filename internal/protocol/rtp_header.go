// Created by WINK Streaming (https://www.wink.co)
package protocol

import (
	"encoding/binary"
	"fmt"
)

// RTPHeaderSize is the fixed 12-byte RTP-style header size (spec.md §3).
const RTPHeaderSize = 12

// PayloadTypeJPEG is the only payload type this server ever emits.
const PayloadTypeJPEG = 26

// RTPHeader is the 12-byte header described in spec.md §3 and built
// the same way angkira-rpi-webrtc-streamer's RTPPacketizer builds its
// RTP+JPEG header, minus the RFC 2435 JPEG-specific header (this
// protocol's payload framing is the FragmentHeader instead).
type RTPHeader struct {
	Version     uint8
	Padding     bool
	Extension   bool
	CSRCCount   uint8
	Marker      bool
	PayloadType uint8
	SeqNum      uint16
	Timestamp   uint32
	SSRC        uint32
}

// EncodeRTPPacket writes header and payload into a single packet
// buffer in network byte order and returns that buffer, whose length
// is RTPHeaderSize+len(payload).
func EncodeRTPPacket(h RTPHeader, payload []byte) []byte {
	buf := make([]byte, RTPHeaderSize+len(payload))

	buf[0] = (h.Version << 6) & 0xC0
	if h.Padding {
		buf[0] |= 0x20
	}
	if h.Extension {
		buf[0] |= 0x10
	}
	buf[0] |= h.CSRCCount & 0x0F

	buf[1] = h.PayloadType & 0x7F
	if h.Marker {
		buf[1] |= 0x80
	}

	binary.BigEndian.PutUint16(buf[2:4], h.SeqNum)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)

	copy(buf[RTPHeaderSize:], payload)
	return buf
}

// DecodeRTPPacket is the inverse of EncodeRTPPacket. It rejects input
// shorter than RTPHeaderSize; the returned payload aliases packet
// (no copy), matching the teacher's zero-copy decode style.
func DecodeRTPPacket(packet []byte) (RTPHeader, []byte, error) {
	if len(packet) < RTPHeaderSize {
		return RTPHeader{}, nil, fmt.Errorf("rtp: packet too short (%d bytes): %w", len(packet), ErrMalformed)
	}

	h := RTPHeader{
		Version:     packet[0] >> 6,
		Padding:     packet[0]&0x20 != 0,
		Extension:   packet[0]&0x10 != 0,
		CSRCCount:   packet[0] & 0x0F,
		Marker:      packet[1]&0x80 != 0,
		PayloadType: packet[1] & 0x7F,
		SeqNum:      binary.BigEndian.Uint16(packet[2:4]),
		Timestamp:   binary.BigEndian.Uint32(packet[4:8]),
		SSRC:        binary.BigEndian.Uint32(packet[8:12]),
	}
	return h, packet[RTPHeaderSize:], nil
}
