package minimax

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignRequestHeaders(t *testing.T) {
	t.Parallel()

	req, err := http.NewRequest(http.MethodPost, "https://agent.minimaxi.com/matrix/api/v1/chat/send_msg?a=1", nil)
	require.NoError(t, err)

	signRequest(req, "jwt-token", `{"text":"hi"}`)

	timestamp := req.Header.Get("x-timestamp")
	require.NotEmpty(t, timestamp)
	require.Equal(t, md5Hex(timestamp+"jwt-token"+`{"text":"hi"}`), req.Header.Get("x-signature"))
	require.Len(t, req.Header.Get("yy"), 32)
}

func TestFingerprintQuery(t *testing.T) {
	t.Parallel()

	query := fingerprintQuery("D42", "U7")
	require.Equal(t, "web", query.Get("device_platform"))
	require.Equal(t, "D42", query.Get("device_id"))
	require.Equal(t, "U7", query.Get("user_id"))
	require.NotEmpty(t, query.Get("uuid"))
	require.NotEmpty(t, query.Get("unix"))

	// Must survive URL encoding untouched.
	parsed, err := url.ParseQuery(query.Encode())
	require.NoError(t, err)
	require.Equal(t, "D42", parsed.Get("device_id"))
}

func TestResolveRealUserIDPrecedence(t *testing.T) {
	t.Parallel()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256"}`))
	payload, err := json.Marshal(map[string]any{"user": map[string]any{"id": "from-jwt"}})
	require.NoError(t, err)
	jwtToken := header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".s"

	// Explicit credential wins.
	require.Equal(t, "explicit", resolveRealUserID(
		map[string]string{"token": jwtToken, "real_user_id": "explicit"},
		&device{RealUserID: "from-device"}))

	// Device registration next.
	require.Equal(t, "from-device", resolveRealUserID(
		map[string]string{"token": jwtToken},
		&device{RealUserID: "from-device"}))

	// JWT payload last.
	require.Equal(t, "from-jwt", resolveRealUserID(
		map[string]string{"token": jwtToken}, &device{}))
}
