// Created by WINK Streaming (https://www.wink.co)
package reassembly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamlab/rtspmjpeg/internal/jitter"
	"github.com/streamlab/rtspmjpeg/internal/protocol"
	"github.com/streamlab/rtspmjpeg/internal/rtpstats"
)

func fillBuffer(b *jitter.Buffer) {
	// Force buffering false so Dequeue returns assembled frames
	// immediately in tests instead of requiring 3 enqueues first.
	for b.IsBuffering() {
		b.Enqueue(make([]byte, 1))
	}
	for b.Count() > 0 {
		b.Dequeue()
	}
}

func header(seq uint16) protocol.RTPHeader {
	return protocol.RTPHeader{Version: 2, PayloadType: protocol.PayloadTypeJPEG, SeqNum: seq}
}

func fragmentPayload(index, total int, frameSize uint32, body []byte) []byte {
	hdr := protocol.EncodeFragmentHeader(index, total, frameSize)
	return append(hdr, body...)
}

func TestUnfragmentedFrameEnqueuedDirectly(t *testing.T) {
	stats := rtpstats.New()
	buf := jitter.New()
	fillBuffer(buf)
	r := New(stats, buf)

	payload := append([]byte{0xFF, 0xD8}, []byte("jpegdata")...)
	require.NoError(t, r.HandlePacket(header(1), payload))

	got, ok := buf.Dequeue()
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.Equal(t, uint64(1), stats.Snapshot().FramesReceived)
}

func TestFragmentedFrameReassembledInOrder(t *testing.T) {
	stats := rtpstats.New()
	buf := jitter.New()
	fillBuffer(buf)
	r := New(stats, buf)

	full := make([]byte, protocol.MaxFragmentPayload+100)
	for i := range full {
		full[i] = byte(i)
	}
	n := protocol.FragmentsNeeded(len(full))
	require.Equal(t, 2, n)

	for i := 0; i < n; i++ {
		start := i * protocol.MaxFragmentPayload
		end := start + protocol.MaxFragmentPayload
		if end > len(full) {
			end = len(full)
		}
		payload := fragmentPayload(i, n, uint32(len(full)), full[start:end])
		require.NoError(t, r.HandlePacket(header(42), payload))
	}

	got, ok := buf.Dequeue()
	require.True(t, ok)
	assert.Equal(t, full, got)
}

// TestDuplicateFragmentInjection is literal scenario 5 from spec.md
// §8: injecting two copies of the same (seqnum, frag_index) does not
// corrupt the partial frame, and the completed frame is bit-identical
// to a non-duplicated run.
func TestDuplicateFragmentInjection(t *testing.T) {
	full := make([]byte, protocol.MaxFragmentPayload*2+50)
	for i := range full {
		full[i] = byte(i % 251)
	}
	n := protocol.FragmentsNeeded(len(full))
	require.Equal(t, 3, n)

	fragmentOf := func(i int) []byte {
		start := i * protocol.MaxFragmentPayload
		end := start + protocol.MaxFragmentPayload
		if end > len(full) {
			end = len(full)
		}
		return fragmentPayload(i, n, uint32(len(full)), full[start:end])
	}

	baseline := func() []byte {
		stats := rtpstats.New()
		buf := jitter.New()
		fillBuffer(buf)
		r := New(stats, buf)
		for i := 0; i < n; i++ {
			require.NoError(t, r.HandlePacket(header(7), fragmentOf(i)))
		}
		got, ok := buf.Dequeue()
		require.True(t, ok)
		return got
	}()

	stats := rtpstats.New()
	buf := jitter.New()
	fillBuffer(buf)
	r := New(stats, buf)

	require.NoError(t, r.HandlePacket(header(7), fragmentOf(0)))
	require.NoError(t, r.HandlePacket(header(7), fragmentOf(0))) // duplicate
	require.NoError(t, r.HandlePacket(header(7), fragmentOf(1)))
	require.NoError(t, r.HandlePacket(header(7), fragmentOf(2)))

	got, ok := buf.Dequeue()
	require.True(t, ok)
	assert.Equal(t, baseline, got)
}

func TestNewFirstFragmentDiscardsStalePartial(t *testing.T) {
	stats := rtpstats.New()
	buf := jitter.New()
	fillBuffer(buf)
	r := New(stats, buf)

	// Start a frame under seqnum 1 but never complete it.
	stale := fragmentPayload(0, 2, uint32(protocol.MaxFragmentPayload+10), make([]byte, protocol.MaxFragmentPayload))
	require.NoError(t, r.HandlePacket(header(1), stale))
	assert.True(t, r.InProgress())

	// A FIRST fragment under a new seqnum discards the stale partial.
	full := []byte("small-frame")
	fresh := fragmentPayload(0, 1, uint32(len(full)), full)
	require.NoError(t, r.HandlePacket(header(2), fresh))

	got, ok := buf.Dequeue()
	require.True(t, ok)
	assert.Equal(t, full, got)
	assert.Equal(t, uint64(1), stats.Snapshot().FramesDropped)
}

func TestNonFirstFragmentWithMismatchedKeyDiscarded(t *testing.T) {
	stats := rtpstats.New()
	buf := jitter.New()
	fillBuffer(buf)
	r := New(stats, buf)

	// No in-progress frame at all: a non-first fragment is dropped silently.
	mid := fragmentPayload(1, 2, 2000, make([]byte, protocol.MaxFragmentPayload))
	require.NoError(t, r.HandlePacket(header(5), mid))
	assert.False(t, r.InProgress())
}
