package qwen

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

const samplePayload = "event: message\ndata: {\"contents\":[{\"content\":\"hello\"}]}\n\n"

func decodeAll(t *testing.T, encoding string, compressed []byte) string {
	t.Helper()
	reader, err := decodeBody(io.NopCloser(bytes.NewReader(compressed)), encoding)
	require.NoError(t, err)
	defer reader.Close()
	decoded, err := io.ReadAll(reader)
	require.NoError(t, err)
	return string(decoded)
}

func TestDecodeIdentity(t *testing.T) {
	t.Parallel()
	require.Equal(t, samplePayload, decodeAll(t, "", []byte(samplePayload)))
}

func TestDecodeGzip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	_, err := writer.Write([]byte(samplePayload))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	require.Equal(t, samplePayload, decodeAll(t, "gzip", buf.Bytes()))
}

func TestDecodeDeflateZlibWrapped(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writer := zlib.NewWriter(&buf)
	_, err := writer.Write([]byte(samplePayload))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	require.Equal(t, samplePayload, decodeAll(t, "deflate", buf.Bytes()))
}

func TestDecodeDeflateRaw(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writer, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = writer.Write([]byte(samplePayload))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	require.Equal(t, samplePayload, decodeAll(t, "deflate", buf.Bytes()))
}

func TestDecodeBrotli(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writer := brotli.NewWriter(&buf)
	_, err := writer.Write([]byte(samplePayload))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	require.Equal(t, samplePayload, decodeAll(t, "br", buf.Bytes()))
}

func TestDecodeZstdBuffered(t *testing.T) {
	t.Parallel()

	encoder, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := encoder.EncodeAll([]byte(samplePayload), nil)
	require.NoError(t, encoder.Close())

	require.Equal(t, samplePayload, decodeAll(t, "zstd", compressed))
}

func TestDecodeUnknownEncoding(t *testing.T) {
	t.Parallel()

	_, err := decodeBody(io.NopCloser(bytes.NewReader(nil)), "lzma")
	require.Error(t, err)
	require.Contains(t, err.Error(), "lzma")
}
