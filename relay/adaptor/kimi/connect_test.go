package kimi

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"op":"append","block":{"text":{"content":"hi"}}}`)
	framed := encodeFrame(frameFlagData, payload)
	require.Equal(t, byte(0x00), framed[0])
	require.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(framed[1:5]))

	flag, decoded, err := readFrame(bytes.NewReader(framed))
	require.NoError(t, err)
	require.Equal(t, frameFlagData, flag)
	require.Equal(t, payload, decoded)
}

func TestReadFrameCleanEOF(t *testing.T) {
	t.Parallel()

	_, _, err := readFrame(bytes.NewReader(nil))
	require.Equal(t, io.EOF, err)
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	t.Parallel()

	framed := encodeFrame(frameFlagData, []byte("hello"))
	_, _, err := readFrame(bytes.NewReader(framed[:7]))
	require.Error(t, err)
	require.NotEqual(t, io.EOF, err)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	t.Parallel()

	header := []byte{0x00, 0xff, 0xff, 0xff, 0xff}
	_, _, err := readFrame(bytes.NewReader(header))
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds limit")
}
