// Created by WINK Streaming (https://www.wink.co)
package container

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamlab/rtspmjpeg/internal/protocol"
)

func jpegFrame(payload byte, n int) []byte {
	buf := make([]byte, 0, n+4)
	buf = append(buf, soiByte1, soiByte2)
	for i := 0; i < n; i++ {
		buf = append(buf, payload)
	}
	buf = append(buf, eoiByte1, eoiByte2)
	return buf
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpenRawMJPEGDetectsFormat(t *testing.T) {
	data := append(jpegFrame('a', 10), jpegFrame('b', 20)...)
	path := writeTempFile(t, "clip.mjpg", data)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, FormatRawMJPEG, c.Format())
}

func TestOpenLengthPrefixedDetectsFormat(t *testing.T) {
	frame := jpegFrame('x', 5)
	data := append([]byte("9"), frame...)
	path := writeTempFile(t, "clip.raw", data)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, FormatLengthPrefixed, c.Format())
}

func TestOpenNotFound(t *testing.T) {
	_, err := Open("/nonexistent/path/clip.mjpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNextFrameRawMJPEGSequence(t *testing.T) {
	f1 := jpegFrame('a', 10)
	f2 := jpegFrame('b', 20)
	f3 := jpegFrame('c', 5)
	data := append(append(append([]byte{}, f1...), f2...), f3...)
	path := writeTempFile(t, "clip.mjpg", data)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	got1, err := c.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, f1, got1)
	assert.Equal(t, 1, c.FrameIndex())

	got2, err := c.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, f2, got2)

	got3, err := c.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, f3, got3)

	_, err = c.NextFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNextFrameLengthPrefixedSequence(t *testing.T) {
	f1 := []byte("hello")
	f2 := []byte("world!")
	data := append(append([]byte("5"), f1...), append([]byte("6"), f2...)...)
	path := writeTempFile(t, "clip.raw", data)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	got1, err := c.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, f1, got1)

	got2, err := c.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, f2, got2)

	_, err = c.NextFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNextFrameLengthPrefixedOversizedSkipped(t *testing.T) {
	bigLen := protocol.FrameBufferSize + 1
	bigFrame := make([]byte, bigLen)
	for i := range bigFrame {
		bigFrame[i] = 'z'
	}
	nextFrame := []byte("ok")

	data := append([]byte{}, []byte(strconv.Itoa(bigLen))...)
	data = append(data, bigFrame...)
	data = append(data, []byte("2")...)
	data = append(data, nextFrame...)

	path := writeTempFile(t, "clip.raw", data)
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.NextFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	got, err := c.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, nextFrame, got)
}

func TestSeekFrameRawMJPEG(t *testing.T) {
	f0 := jpegFrame('a', 10)
	f1 := jpegFrame('b', 20)
	f2 := jpegFrame('c', 5)
	data := append(append(append([]byte{}, f0...), f1...), f2...)
	path := writeTempFile(t, "clip.mjpg", data)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	actual, err := c.SeekFrame(2)
	require.NoError(t, err)
	assert.Equal(t, 2, actual)

	got, err := c.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, f2, got)
}

func TestSeekFrameNegativeClampsToZero(t *testing.T) {
	data := append(jpegFrame('a', 10), jpegFrame('b', 20)...)
	path := writeTempFile(t, "clip.mjpg", data)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	actual, err := c.SeekFrame(-5)
	require.NoError(t, err)
	assert.Equal(t, 0, actual)
}

func TestSeekFramePastEndReturnsPartial(t *testing.T) {
	data := append(jpegFrame('a', 10), jpegFrame('b', 20)...)
	path := writeTempFile(t, "clip.mjpg", data)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	actual, err := c.SeekFrame(10)
	require.NoError(t, err)
	assert.Equal(t, 2, actual)
}

func TestTotalFramesRawMJPEGBackwardScan(t *testing.T) {
	data := append(append(jpegFrame('a', 10), jpegFrame('b', 20)...), jpegFrame('c', 5)...)
	path := writeTempFile(t, "clip.mjpg", data)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	total, err := c.TotalFrames()
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Greater(t, c.AverageFrameSize(), 0.0)
}

func TestTotalFramesLengthPrefixed(t *testing.T) {
	data := append(append([]byte("5"), []byte("hello")...), append([]byte("6"), []byte("world!")...)...)
	path := writeTempFile(t, "clip.raw", data)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	total, err := c.TotalFrames()
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestTotalFramesDoesNotDisturbCursor(t *testing.T) {
	f0 := jpegFrame('a', 10)
	f1 := jpegFrame('b', 20)
	data := append(append([]byte{}, f0...), f1...)
	path := writeTempFile(t, "clip.mjpg", data)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	got0, err := c.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, f0, got0)

	_, err = c.TotalFrames()
	require.NoError(t, err)

	got1, err := c.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, f1, got1)
}
