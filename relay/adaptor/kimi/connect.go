package kimi

import (
	"encoding/binary"
	"io"

	"github.com/Laisky/errors/v2"
)

// Connect-RPC envelope flags. Data frames carry 0x00; the end-of-stream
// trailer carries 0x02 with an optional error object.
const (
	frameFlagData    byte = 0x00
	frameFlagTrailer byte = 0x02
)

// maxFrameSize bounds a single frame so a corrupt length prefix cannot make
// the reader allocate unbounded memory.
const maxFrameSize = 16 << 20

// encodeFrame wraps a JSON payload in the 1-byte flag + 4-byte big-endian
// length envelope.
func encodeFrame(flag byte, payload []byte) []byte {
	framed := make([]byte, 5+len(payload))
	framed[0] = flag
	binary.BigEndian.PutUint32(framed[1:5], uint32(len(payload)))
	copy(framed[5:], payload)
	return framed
}

// readFrame reads one envelope off the stream. io.EOF is returned unchanged
// so callers can detect a clean end.
func readFrame(r io.Reader) (flag byte, payload []byte, err error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, errors.Wrap(err, "read frame header")
	}

	length := binary.BigEndian.Uint32(header[1:5])
	if length > maxFrameSize {
		return 0, nil, errors.Errorf("frame length %d exceeds limit", length)
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, errors.Wrap(err, "read frame payload")
	}
	return header[0], payload, nil
}
