package glm

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignedTimestampChecksum(t *testing.T) {
	t.Parallel()

	out := signedTimestamp(1700000000123)
	require.Len(t, out, 13)
	require.Equal(t, "17000000001", out[:11])

	sum := 0
	for _, ch := range out[:11] {
		sum += int(ch - '0')
	}
	want := sum % 100
	got, err := strconv.Atoi(out[11:])
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSignHeaders(t *testing.T) {
	t.Parallel()

	timestamp, nonce, sign := signHeaders()
	require.Len(t, nonce, 32)
	require.NotContains(t, nonce, "-")

	digest := md5.Sum([]byte(timestamp + "-" + nonce + "-" + signSecret))
	require.Equal(t, hex.EncodeToString(digest[:]), sign)
}

func TestResolveAssistantId(t *testing.T) {
	t.Parallel()

	require.Equal(t, defaultAssistantId, resolveAssistantId("glm-4.7"))
	require.Equal(t, "65940acff94777010aa6b7ff", resolveAssistantId("65940acff94777010aa6b7ff"))
	// Punctuation disqualifies the override even at sufficient length.
	require.Equal(t, defaultAssistantId, resolveAssistantId("glm-4.7-with-a-very-long-name"))
}

func TestDecodeMediaDataURI(t *testing.T) {
	t.Parallel()

	payload, name, err := decodeMedia("data:image/png;base64,iVBORw0KGgo=", "")
	require.NoError(t, err)
	require.NotEmpty(t, payload)
	require.Contains(t, name, "upload-")

	_, _, err = decodeMedia("data:image/png;base64", "")
	require.Error(t, err)
}
