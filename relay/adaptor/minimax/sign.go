package minimax

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

func md5Hex(s string) string {
	digest := md5.Sum([]byte(s))
	return hex.EncodeToString(digest[:])
}

// signRequest attaches the three signature headers the vendor validates on
// every call: x-timestamp in seconds, x-signature over timestamp+jwt+body,
// and the yy digest over the escaped path, body and a salted millisecond
// stamp.
func signRequest(req *http.Request, jwtToken, bodyJSON string) {
	now := time.Now()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	millis := strconv.FormatInt(now.UnixMilli(), 10)

	pathWithQuery := req.URL.Path
	if req.URL.RawQuery != "" {
		pathWithQuery += "?" + req.URL.RawQuery
	}

	req.Header.Set("x-timestamp", timestamp)
	req.Header.Set("x-signature", md5Hex(timestamp+jwtToken+bodyJSON))
	req.Header.Set("yy", md5Hex(url.QueryEscape(pathWithQuery)+"_"+bodyJSON+md5Hex(millis)+"ooui"))
}

// fingerprintQuery forges the browser fingerprint query string the web client
// sends. The vendor rejects requests without it.
func fingerprintQuery(deviceID, userID string) url.Values {
	query := url.Values{}
	query.Set("device_platform", "web")
	query.Set("biz_id", "2")
	query.Set("app_id", "3001")
	query.Set("version_code", "22202")
	query.Set("lang", "zh")
	query.Set("uuid", uuid.NewString())
	query.Set("os_name", "Windows")
	query.Set("browser_name", "chrome")
	query.Set("browser_platform", "Win32")
	query.Set("screen_width", "1920")
	query.Set("screen_height", "1080")
	query.Set("cpu_core_num", "12")
	query.Set("device_memory", "8")
	query.Set("unix", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if deviceID != "" {
		query.Set("device_id", deviceID)
	}
	if userID != "" {
		query.Set("user_id", userID)
	}
	return query
}
