package zai

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
)

// signSecret is the fixed literal baked into the web client bundle.
const signSecret = "junjie"

// signWindow is the 5-minute epoch the derived key is bound to. A signature
// is only valid within the window it was computed in.
const signWindow = 300_000

func hmacHex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// signature computes the two-layer HMAC the vendor validates: the secret is
// first bound to the current 5-minute window, then the derived key signs the
// canonical request string.
func signature(requestId string, ms int64, userID, messageText string) string {
	window := strconv.FormatInt(ms/signWindow, 10)
	derivedKey := hmacHex([]byte(signSecret), window)

	msStr := strconv.FormatInt(ms, 10)
	canonical := "requestId," + requestId + ",timestamp," + msStr + ",user_id," + userID +
		"|" + base64.StdEncoding.EncodeToString([]byte(messageText)) +
		"|" + msStr
	return hmacHex([]byte(derivedKey), canonical)
}
