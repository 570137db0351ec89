// Created by WINK Streaming (https://www.wink.co)
package protocol

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeParseRequestRoundTrip(t *testing.T) {
	cases := []Request{
		{Method: MethodSetup, Filename: "movie.mjpg", CSeq: 1, ClientRTPPort: 5004},
		{Method: MethodPlay, Filename: "movie.mjpg", CSeq: 2, SessionID: 123456},
		{Method: MethodPause, Filename: "movie.mjpg", CSeq: 3, SessionID: 123456},
		{Method: MethodSeek, Filename: "movie.mjpg", CSeq: 4, SessionID: 123456, SeekFrame: 100},
		{Method: MethodTeardown, Filename: "movie.mjpg", CSeq: 5, SessionID: 123456},
	}
	for _, want := range cases {
		raw := EncodeRequest(want)
		got, err := ParseRequest(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestEncodeParseReplyRoundTrip(t *testing.T) {
	want := Reply{Status: StatusOK, CSeq: 2, SessionID: 123456}
	raw := EncodeReply(want)
	got, err := ParseReply(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseRequestURLTrailingSegment(t *testing.T) {
	req, err := ParseRequest("SETUP rtsp://host/library/clip.mjpg RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "clip.mjpg", req.Filename)
}

func TestParseRequestLFOnlyTerminators(t *testing.T) {
	raw := "SETUP clip.mjpg RTSP/1.0\nCSeq: 1\nTransport: RTP/UDP;client_port=5004\n\n"
	req, err := ParseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, MethodSetup, req.Method)
	assert.Equal(t, 5004, req.ClientRTPPort)
}

func TestParseRequestCaseInsensitiveHeaders(t *testing.T) {
	raw := "PLAY clip.mjpg RTSP/1.0\r\ncseq: 7\r\nSESSION: 42\r\n\r\n"
	req, err := ParseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, 7, req.CSeq)
	assert.Equal(t, 42, req.SessionID)
}

func TestParseRequestUnknownMethod(t *testing.T) {
	_, err := ParseRequest("HACK clip.mjpg RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadRequestFromStream(t *testing.T) {
	raw := "SETUP clip.mjpg RTSP/1.0\r\nCSeq: 1\r\nTransport: RTP/UDP;client_port=5004\r\n\r\n" +
		"PLAY clip.mjpg RTSP/1.0\r\nCSeq: 2\r\nSession: 1\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))

	first, err := ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, MethodSetup, first.Method)

	second, err := ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, MethodPlay, second.Method)
}

func TestScenarioSetupNotFoundReply(t *testing.T) {
	rep := Reply{Status: StatusNotFound, CSeq: 1, SessionID: 0}
	raw := EncodeReply(rep)
	assert.True(t, strings.HasPrefix(raw, "RTSP/1.0 404"))
}
