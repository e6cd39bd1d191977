package glm

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/xiaoY233/chat2api/common/helper"
)

// signSecret was lifted from the web client bundle. The vendor rotates it
// rarely; a mismatch shows up as a 401 on every request.
const signSecret = "8a1b2c90d7f3e6a4"

// signedTimestamp rewrites the last two digits of the millisecond epoch with a
// checksum over the leading digits. The web client does this before signing,
// and the server validates it.
func signedTimestamp(ms int64) string {
	raw := strconv.FormatInt(ms, 10)
	if len(raw) < 3 {
		return raw
	}
	head := raw[:len(raw)-2]
	sum := 0
	for _, ch := range head {
		sum += int(ch - '0')
	}
	return head + fmt.Sprintf("%02d", sum%100)
}

// signHeaders produces the X-Timestamp / X-Nonce / X-Sign triplet.
func signHeaders() (timestamp, nonce, sign string) {
	timestamp = signedTimestamp(helper.GetTimestampMilli())
	nonce = strings.ReplaceAll(uuid.NewString(), "-", "")
	digest := md5.Sum([]byte(timestamp + "-" + nonce + "-" + signSecret))
	return timestamp, nonce, hex.EncodeToString(digest[:])
}

func applySignHeaders(req *http.Request) {
	timestamp, nonce, sign := signHeaders()
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Sign", sign)
}
