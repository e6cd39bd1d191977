package common

import (
	"bytes"
	"encoding/json"
	"io"
	"reflect"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common/ctxkey"
)

// DefaultLogBodyLimit caps request body previews in debug logs.
const DefaultLogBodyLimit = 4 * 1024

// GetRequestBody reads and caches the request body so it can be reused across
// retry attempts against the same account.
func GetRequestBody(c *gin.Context) (requestBody []byte, err error) {
	if requestBodyCache, _ := c.Get(ctxkey.KeyRequestBody); requestBodyCache != nil {
		return requestBodyCache.([]byte), nil
	}
	requestBody, err = io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read request body failed")
	}
	_ = c.Request.Body.Close()
	c.Set(ctxkey.KeyRequestBody, requestBody)

	return requestBody, nil
}

// UnmarshalBodyReusable unmarshals the request body into the provided pointer
// while keeping the body readable for later attempts.
func UnmarshalBodyReusable(c *gin.Context, v any) error {
	requestBody, err := GetRequestBody(c)
	if err != nil {
		return errors.Wrap(err, "get request body failed")
	}

	if v == nil || reflect.TypeOf(v).Kind() != reflect.Ptr {
		return errors.Errorf("UnmarshalBodyReusable only accept pointer, got %v", reflect.TypeOf(v))
	}

	if err = json.Unmarshal(requestBody, v); err != nil {
		return errors.Wrap(err, "unmarshal request body failed")
	}

	c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
	return nil
}

// LogClientRequestPayload emits a DEBUG log for the inbound payload once per request.
func LogClientRequestPayload(c *gin.Context) error {
	if logged, ok := c.Get(ctxkey.ClientRequestPayloadLogged); ok {
		if loggedFlag, ok := logged.(bool); ok && loggedFlag {
			return nil
		}
	}

	body, err := GetRequestBody(c)
	if err != nil {
		return errors.Wrap(err, "get request body failed")
	}

	preview := body
	truncated := false
	if len(preview) > DefaultLogBodyLimit {
		preview = preview[:DefaultLogBodyLimit]
		truncated = true
	}

	gmw.GetLogger(c).Debug("client request received",
		zap.String("method", c.Request.Method),
		zap.String("url", c.Request.URL.String()),
		zap.Int("body_bytes", len(body)),
		zap.Bool("body_truncated", truncated),
		zap.ByteString("body_preview", preview),
	)
	c.Set(ctxkey.ClientRequestPayloadLogged, true)
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	return nil
}

// SetEventStreamHeaders configures the standard headers required for
// server-sent event responses.
func SetEventStreamHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}
