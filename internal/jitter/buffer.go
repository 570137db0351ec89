// Package jitter implements JitterBuffer (spec.md §4.8): a fixed
// 20-slot circular buffer that absorbs network jitter between the UDP
// receive listener and the playback consumer, plus the consumer's
// adaptive pacing and end-of-stream detection.
//
// Grounded in frame_cache_t in
// _examples/original_source/client/rtp_client.h (CACHE_SIZE, write_idx/
// read_idx/count, buffering flag), translated from a mutex-guarded C
// ring buffer into a Go slice guarded by one mutex.
//
// Created by WINK Streaming (https://www.wink.co)
package jitter

import (
	"sync"
	"time"

	"github.com/streamlab/rtspmjpeg/internal/protocol"
)

// Capacity is the fixed slot count (spec.md §4.8).
const Capacity = protocol.JitterCapacity

// PrebufferThreshold is the frame count that flips buffering false.
const PrebufferThreshold = protocol.PrebufferThreshold

// emptyEOFThreshold is the number of consecutive empty dequeues at 0%
// fill that signal end-of-stream.
const emptyEOFThreshold = 30

// Buffer is a fixed-capacity ring of frames with buffering/prebuffer
// semantics matching the original C frame_cache_t.
type Buffer struct {
	mu sync.Mutex

	slots     [][]byte
	writeIdx  int
	readIdx   int
	count     int
	buffering bool

	framesDropped uint64
	emptyStreak   int
	ended         bool
}

// New returns an empty Buffer in the initial buffering state.
func New() *Buffer {
	return &Buffer{
		slots:     make([][]byte, Capacity),
		buffering: true,
	}
}

// Enqueue adds frame to the ring. If full, the oldest frame is
// dropped (read index advances, count decrements, framesDropped
// increments) to make room, so the buffer always holds the most
// recent Capacity frames. If buffering and count reaches
// PrebufferThreshold, buffering flips false.
func (b *Buffer) Enqueue(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == Capacity {
		b.readIdx = (b.readIdx + 1) % Capacity
		b.count--
		b.framesDropped++
	}

	b.slots[b.writeIdx] = frame
	b.writeIdx = (b.writeIdx + 1) % Capacity
	b.count++

	if b.buffering && b.count >= PrebufferThreshold {
		b.buffering = false
	}
}

// Dequeue removes and returns the oldest frame. While buffering is
// true it always returns (nil, false) regardless of count. When not
// buffering and count is zero it also returns (nil, false), leaving
// the previous frame on screen. Otherwise it pops the head frame.
//
// Each call that observes 0% fill is counted toward EOF detection,
// whether or not the buffer is still in its prebuffering phase — a
// container with fewer than PrebufferThreshold frames total otherwise
// never flips buffering false and would poll forever undetected.
// Any call that observes nonzero count resets that streak.
func (b *Buffer) Dequeue() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		b.emptyStreak++
		if b.emptyStreak >= emptyEOFThreshold {
			b.ended = true
		}
		return nil, false
	}
	b.emptyStreak = 0

	if b.buffering {
		return nil, false
	}

	frame := b.slots[b.readIdx]
	b.slots[b.readIdx] = nil
	b.readIdx = (b.readIdx + 1) % Capacity
	b.count--
	return frame, true
}

// Clear empties the queue and re-enters the buffering state. Called
// on SEEK so playback resumes cleanly at the new position instead of
// showing stale pre-seek frames.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.slots {
		b.slots[i] = nil
	}
	b.writeIdx = 0
	b.readIdx = 0
	b.count = 0
	b.buffering = true
	b.emptyStreak = 0
	b.ended = false
}

// Count returns the number of frames currently buffered.
func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// FillPercent returns count*100/Capacity.
func (b *Buffer) FillPercent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count * 100 / Capacity
}

// IsBuffering reports whether the buffer is still in its initial or
// post-seek prebuffering phase.
func (b *Buffer) IsBuffering() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffering
}

// Ended reports whether EOF detection has fired.
func (b *Buffer) Ended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ended
}

// FramesDropped returns the cumulative count of frames evicted by
// overflow.
func (b *Buffer) FramesDropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.framesDropped
}

// ConsumeInterval returns the wall-clock pacing interval the consumer
// should wait before its next dequeue, based on current fill
// percentage (spec.md §4.8 adaptive consume pacing).
func (b *Buffer) ConsumeInterval() time.Duration {
	switch fill := b.FillPercent(); {
	case fill > 80:
		return 32 * time.Millisecond
	case fill < 70:
		return 34 * time.Millisecond
	default:
		return 33 * time.Millisecond
	}
}
