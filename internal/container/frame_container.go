// Package container implements FrameContainer (spec.md §4.1): reading
// an MJPEG file as a sequence of JPEG frames, with random-access seek.
//
// Grounded in _examples/original_source/server/video_stream.c, the
// original C reader this spec was distilled from, translated into
// Go's bufio-reader idiom in place of fgetc/ungetc.
//
// Created by WINK Streaming (https://www.wink.co)
package container

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/streamlab/rtspmjpeg/internal/protocol"
)

const (
	soiByte1 = 0xFF
	soiByte2 = 0xD8
	eoiByte1 = 0xFF
	eoiByte2 = 0xD9

	// maxLengthDigits bounds the ASCII-decimal length prefix, matching
	// MAX_FRAME_LEN_DIGITS in the original.
	maxLengthDigits = 10
)

// Format is the auto-detected container layout, discriminated once at
// Open and cached in the handle so later reads dispatch on a field
// instead of re-peeking the stream (spec.md §9 Design Notes).
type Format int

const (
	FormatUnknown Format = iota
	FormatRawMJPEG
	FormatLengthPrefixed
)

var (
	// ErrNotFound is returned by Open when the file does not exist.
	ErrNotFound = errors.New("container: file not found")
	// ErrUnknownFormat is returned when the first byte is neither 0xFF
	// nor an ASCII digit.
	ErrUnknownFormat = errors.New("container: unrecognized frame format")
	// ErrFrameTooLarge flags a length-prefixed frame that exceeds
	// protocol.FrameBufferSize; the stream position is left valid for
	// the next frame.
	ErrFrameTooLarge = errors.New("container: frame exceeds buffer size")
)

// Container is an opened MJPEG file plus cursor state.
type Container struct {
	file   *os.File
	reader *bufio.Reader
	format Format

	frameIndex  int
	totalFrames int // -1 until computed
	avgFrameSz  float64

	// pos is the logical stream offset of everything consumed from
	// reader so far. bufio.Reader reads ahead of this in 64KB chunks,
	// so the underlying *os.File's offset is not a usable proxy for
	// "where NextFrame/SeekFrame logically are" — pos is.
	pos int64

	// pushback holds bytes ungetched after a raw-MJPEG EOI/SOI probe so
	// they become the first bytes the next NextFrame call sees.
	pushback []byte
}

// Open opens path and detects its format by peeking the first byte.
func Open(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("container: open %s: %w", path, err)
	}

	c := &Container{
		file:        f,
		reader:      bufio.NewReaderSize(f, 64*1024),
		totalFrames: -1,
	}

	first, err := c.reader.Peek(1)
	if err != nil {
		if err == io.EOF {
			c.format = FormatRawMJPEG
			return c, nil
		}
		f.Close()
		return nil, fmt.Errorf("container: peek %s: %w", path, err)
	}

	switch {
	case first[0] == soiByte1:
		c.format = FormatRawMJPEG
	case first[0] >= '0' && first[0] <= '9':
		c.format = FormatLengthPrefixed
	default:
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
	return c, nil
}

// Format reports the auto-detected container layout.
func (c *Container) Format() Format { return c.format }

// FrameIndex returns the zero-based index of the frame that will be
// returned by the next NextFrame call.
func (c *Container) FrameIndex() int { return c.frameIndex }

func (c *Container) readByte() (byte, error) {
	if n := len(c.pushback); n > 0 {
		b := c.pushback[0]
		c.pushback = c.pushback[1:]
		return b, nil
	}
	b, err := c.reader.ReadByte()
	if err == nil {
		c.pos++
	}
	return b, err
}

func (c *Container) unreadBytes(bs ...byte) {
	c.pushback = append(bs, c.pushback...)
}

// readFull reads len(buf) bytes via the buffered reader, advancing pos.
func (c *Container) readFull(buf []byte) error {
	n, err := io.ReadFull(c.reader, buf)
	c.pos += int64(n)
	return err
}

// discard consumes and drops n bytes via the buffered reader, advancing pos.
func (c *Container) discard(n int64) error {
	copied, err := io.CopyN(io.Discard, c.reader, n)
	c.pos += copied
	return err
}

// rewind repositions both the file and the buffered reader at logical
// offset off, resetting pos to match.
func (c *Container) rewind(off int64) error {
	if _, err := c.file.Seek(off, io.SeekStart); err != nil {
		return err
	}
	c.reader.Reset(c.file)
	c.pos = off
	return nil
}

// NextFrame reads the next JPEG frame, returning io.EOF once the
// stream is exhausted. A length-prefixed frame whose declared length
// exceeds protocol.FrameBufferSize is skipped (seeking past its body)
// and reported as ErrFrameTooLarge; the stream stays positioned for
// the following frame.
func (c *Container) NextFrame() ([]byte, error) {
	switch c.format {
	case FormatRawMJPEG:
		return c.nextRawFrame()
	case FormatLengthPrefixed:
		return c.nextLengthPrefixedFrame()
	default:
		return nil, ErrUnknownFormat
	}
}

func (c *Container) nextRawFrame() ([]byte, error) {
	first, err := c.readByte()
	if err != nil {
		return nil, io.EOF
	}

	buf := make([]byte, 0, 4096)
	buf = append(buf, first)

	for {
		if len(buf) >= protocol.FrameBufferSize {
			c.frameIndex++
			return buf, fmt.Errorf("container: raw frame exceeds buffer size: %w", ErrFrameTooLarge)
		}

		ch, err := c.readByte()
		if err != nil {
			// EOF inside a frame: the bytes so far are the final frame.
			c.frameIndex++
			return buf, nil
		}
		buf = append(buf, ch)

		if len(buf) >= 2 && buf[len(buf)-2] == eoiByte1 && buf[len(buf)-1] == eoiByte2 {
			next1, err := c.readByte()
			if err != nil {
				c.frameIndex++
				return buf, nil
			}
			if next1 != soiByte1 {
				buf = append(buf, next1)
				continue
			}
			next2, err := c.readByte()
			if err != nil {
				// Lone trailing 0xFF with no following byte: keep it
				// as part of this frame and stop.
				buf = append(buf, next1)
				c.frameIndex++
				return buf, nil
			}
			if next2 == soiByte2 {
				c.unreadBytes(next1, next2)
				c.frameIndex++
				return buf, nil
			}
			buf = append(buf, next1, next2)
		}
	}
}

func (c *Container) nextLengthPrefixedFrame() ([]byte, error) {
	length, err := c.readLengthPrefix()
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, fmt.Errorf("container: invalid frame length: %w", ErrUnknownFormat)
	}

	if length > protocol.FrameBufferSize {
		if err := c.discard(int64(length)); err != nil {
			return nil, fmt.Errorf("container: skip oversized frame: %w", err)
		}
		c.frameIndex++
		return nil, fmt.Errorf("container: frame of %d bytes: %w", length, ErrFrameTooLarge)
	}

	buf := make([]byte, length)
	if err := c.readFull(buf); err != nil {
		return nil, fmt.Errorf("container: short frame read: %w", err)
	}
	c.frameIndex++
	return buf, nil
}

// readLengthPrefix reads up to maxLengthDigits ASCII digits and
// returns the decimal value. Returns io.EOF if no digits are read
// before end of file.
func (c *Container) readLengthPrefix() (int, error) {
	var digits [maxLengthDigits]byte
	n := 0
	for n < maxLengthDigits {
		ch, err := c.readByte()
		if err != nil {
			break
		}
		if ch < '0' || ch > '9' {
			c.unreadBytes(ch)
			break
		}
		digits[n] = ch
		n++
	}
	if n == 0 {
		return 0, io.EOF
	}
	value := 0
	for _, d := range digits[:n] {
		value = value*10 + int(d-'0')
	}
	return value, nil
}

// SeekFrame rewinds to the start of the file and advances past n
// frame boundaries, leaving the stream positioned at the start of
// frame n. A negative index clamps to zero. If EOF is reached first,
// the actual frame count reached is returned (a partial seek).
func (c *Container) SeekFrame(n int) (int, error) {
	if n < 0 {
		n = 0
	}
	if err := c.rewind(0); err != nil {
		return 0, fmt.Errorf("container: seek to start: %w", err)
	}
	c.pushback = nil
	c.frameIndex = 0

	switch c.format {
	case FormatRawMJPEG:
		return c.seekRaw(n)
	case FormatLengthPrefixed:
		return c.seekLengthPrefixed(n)
	default:
		return 0, ErrUnknownFormat
	}
}

func (c *Container) seekRaw(target int) (int, error) {
	if target == 0 {
		c.frameIndex = 0
		return 0, nil
	}

	scanned := 0
	var prev byte
	havePrev := false
	for {
		ch, err := c.readByte()
		if err != nil {
			c.frameIndex = scanned
			return scanned, nil
		}
		if havePrev && prev == soiByte1 && ch == soiByte2 {
			if scanned == target {
				c.unreadBytes(soiByte1, soiByte2)
				c.frameIndex = scanned
				return scanned, nil
			}
			scanned++
		}
		prev = ch
		havePrev = true
	}
}

func (c *Container) seekLengthPrefixed(target int) (int, error) {
	for i := 0; i < target; i++ {
		length, err := c.readLengthPrefix()
		if err != nil {
			c.frameIndex = i
			return i, nil
		}
		if length <= 0 {
			return i, fmt.Errorf("container: invalid frame length while seeking: %w", ErrUnknownFormat)
		}
		if err := c.discard(int64(length)); err != nil {
			return i, fmt.Errorf("container: seek past frame %d: %w", i, err)
		}
	}
	c.frameIndex = target
	return target, nil
}

// TotalFrames scans the whole file once and caches the result. Raw
// MJPEG is scanned backward from the end counting EOI markers, the
// same optimization as video_stream_get_total_frames in the original.
func (c *Container) TotalFrames() (int, error) {
	if c.totalFrames >= 0 {
		return c.totalFrames, nil
	}

	savedIndex := c.frameIndex
	savedPushback := c.pushback
	savedOffset := c.pos

	var total int
	var err error
	switch c.format {
	case FormatRawMJPEG:
		total, err = c.countRawFramesBackward()
	case FormatLengthPrefixed:
		total, err = c.countLengthPrefixedFrames()
	default:
		err = ErrUnknownFormat
	}
	if err != nil {
		return 0, err
	}

	c.totalFrames = total
	if serr := c.rewind(savedOffset); serr != nil {
		return 0, fmt.Errorf("container: restore position: %w", serr)
	}
	c.frameIndex = savedIndex
	c.pushback = savedPushback
	return total, nil
}

func (c *Container) countRawFramesBackward() (int, error) {
	size, err := c.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("container: seek to end: %w", err)
	}

	total := 0
	buf := make([]byte, 1)
	prev := -1
	for pos := size - 1; pos >= 0; pos-- {
		if _, err := c.file.ReadAt(buf, pos); err != nil {
			return 0, fmt.Errorf("container: backward scan: %w", err)
		}
		ch := int(buf[0])
		if prev == eoiByte2 && ch == eoiByte1 {
			total++
		}
		prev = ch
	}
	if total > 0 {
		c.avgFrameSz = float64(size) / float64(total)
	}
	return total, nil
}

func (c *Container) countLengthPrefixedFrames() (int, error) {
	if err := c.rewind(0); err != nil {
		return 0, fmt.Errorf("container: seek to start: %w", err)
	}
	c.pushback = nil

	total := 0
	for {
		length, err := c.readLengthPrefix()
		if err != nil {
			break
		}
		if length <= 0 {
			break
		}
		if err := c.discard(int64(length)); err != nil {
			return total, fmt.Errorf("container: skip frame %d while counting: %w", total, err)
		}
		total++
	}
	return total, nil
}

// AverageFrameSize returns the diagnostic computed as a side effect of
// a raw-MJPEG backward TotalFrames scan; zero until that scan has run.
func (c *Container) AverageFrameSize() float64 { return c.avgFrameSz }

// Close releases the underlying file handle.
func (c *Container) Close() error {
	return c.file.Close()
}
