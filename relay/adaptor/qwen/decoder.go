package qwen

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding is sent explicitly so the transport hands us the raw body
// and the demux below picks the decoder.
const acceptEncoding = "gzip, deflate, br, zstd"

// decodeBody wraps the response body in the decoder matching its
// Content-Encoding. gzip, deflate and brotli decode streaming; zstd is fully
// buffered before decompression.
func decodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		reader, err := gzip.NewReader(body)
		if err != nil {
			return nil, errors.Wrap(err, "init gzip reader")
		}
		return &wrappedBody{Reader: reader, closer: body}, nil
	case "deflate":
		return deflateReader(body), nil
	case "br":
		return &wrappedBody{Reader: brotli.NewReader(body), closer: body}, nil
	case "zstd":
		return zstdReader(body)
	default:
		return nil, errors.Errorf("unsupported content encoding %q", contentEncoding)
	}
}

// wrappedBody reads from the decoder but closes the underlying HTTP body.
type wrappedBody struct {
	io.Reader
	closer io.Closer
}

func (w *wrappedBody) Close() error {
	if rc, ok := w.Reader.(io.Closer); ok {
		rc.Close()
	}
	return w.closer.Close()
}

// deflateReader handles both the zlib-wrapped and raw-deflate forms that
// servers ship under the same token. The zlib header is sniffed from the
// first two bytes.
func deflateReader(body io.ReadCloser) io.ReadCloser {
	buffered := &peekReader{source: body}
	head, err := buffered.peek(2)
	if err == nil && len(head) == 2 && head[0] == 0x78 {
		if reader, err := zlib.NewReader(buffered); err == nil {
			return &wrappedBody{Reader: reader, closer: body}
		}
	}
	return &wrappedBody{Reader: flate.NewReader(buffered), closer: body}
}

// zstdReader buffers the full body and decompresses in one shot.
func zstdReader(body io.ReadCloser) (io.ReadCloser, error) {
	compressed, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "buffer zstd body")
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "init zstd decoder")
	}
	defer decoder.Close()

	decoded, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decompress zstd body")
	}
	return &wrappedBody{Reader: bytes.NewReader(decoded), closer: body}, nil
}

// peekReader allows a two-byte sniff without losing the bytes.
type peekReader struct {
	source io.Reader
	head   []byte
}

func (p *peekReader) peek(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(p.source, buf)
	p.head = buf[:read]
	return p.head, err
}

func (p *peekReader) Read(buf []byte) (int, error) {
	if len(p.head) > 0 {
		n := copy(buf, p.head)
		p.head = p.head[n:]
		return n, nil
	}
	return p.source.Read(buf)
}
