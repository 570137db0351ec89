// Created by WINK Streaming (https://www.wink.co)
package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTPPacketRoundTrip(t *testing.T) {
	h := RTPHeader{
		Version:     2,
		Marker:      true,
		PayloadType: PayloadTypeJPEG,
		SeqNum:      4242,
		Timestamp:   1690000000,
		SSRC:        0xdeadbeef,
	}
	payload := make([]byte, 1416)
	for i := range payload {
		payload[i] = byte(i)
	}

	packet := EncodeRTPPacket(h, payload)
	gotHeader, gotPayload, err := DecodeRTPPacket(packet)
	require.NoError(t, err)
	assert.Equal(t, h, gotHeader)
	assert.Equal(t, payload, gotPayload)
}

func TestDecodeRTPPacketTooShort(t *testing.T) {
	_, _, err := DecodeRTPPacket(make([]byte, 11))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFragmentHeaderRoundTrip(t *testing.T) {
	for total := 1; total <= 255; total += 37 {
		for index := 0; index < total; index++ {
			buf := EncodeFragmentHeader(index, total, 1_000_000)
			got, err := DecodeFragmentHeader(buf)
			require.NoError(t, err)
			assert.Equal(t, uint8(index), got.FragmentIndex)
			assert.Equal(t, uint8(total), got.TotalFragments)
			assert.Equal(t, uint32(1_000_000), got.TotalFrameSize)
			assert.Equal(t, index == 0, got.First)
			assert.Equal(t, index == total-1, got.Last)
		}
	}
}

func TestFragmentsNeeded(t *testing.T) {
	assert.Equal(t, 0, FragmentsNeeded(0))
	assert.Equal(t, 1, FragmentsNeeded(1))
	assert.Equal(t, 1, FragmentsNeeded(MaxFragmentPayload))
	assert.Equal(t, 2, FragmentsNeeded(MaxFragmentPayload+1))
	assert.Equal(t, 3, FragmentsNeeded(2*MaxFragmentPayload+1))
}
