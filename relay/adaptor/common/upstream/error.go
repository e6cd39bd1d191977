// Package upstream classifies vendor HTTP failures into the relay error
// taxonomy shared by every adapter.
package upstream

import (
	"encoding/json"
	"net/http"
	"strings"

	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

// ErrorWrapper builds the OpenAI-shaped error envelope for an adapter failure.
func ErrorWrapper(err error, errType relaymodel.ErrorType, statusCode int) *relaymodel.ErrorWithStatusCode {
	return &relaymodel.ErrorWithStatusCode{
		Error: relaymodel.Error{
			Message:  err.Error(),
			Type:     errType,
			Code:     string(errType),
			RawError: err,
		},
		StatusCode: statusCode,
	}
}

// ClassifyHTTP maps a non-2xx vendor response to the error taxonomy. 401 means
// the cached token is stale, 429 and 5xx are retryable vendor pressure, and the
// remaining 4xx are terminal rejections.
func ClassifyHTTP(statusCode int, body []byte) *relaymodel.ErrorWithStatusCode {
	message := ExtractVendorMessage(body)
	switch {
	case statusCode == http.StatusUnauthorized:
		return &relaymodel.ErrorWithStatusCode{
			Error: relaymodel.Error{
				Message: "Token invalid or expired",
				Type:    relaymodel.ErrorTypeAuthExpired,
				Code:    string(relaymodel.ErrorTypeAuthExpired),
			},
			StatusCode: http.StatusUnauthorized,
		}
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		if message == "" {
			message = "upstream is busy"
		}
		return &relaymodel.ErrorWithStatusCode{
			Error: relaymodel.Error{
				Message: message,
				Type:    relaymodel.ErrorTypeVendorBusy,
				Code:    string(relaymodel.ErrorTypeVendorBusy),
			},
			StatusCode: statusCode,
		}
	default:
		if message == "" {
			message = "upstream rejected the request"
		}
		return &relaymodel.ErrorWithStatusCode{
			Error: relaymodel.Error{
				Message: message,
				Type:    relaymodel.ErrorTypeVendorReject,
				Code:    string(relaymodel.ErrorTypeVendorReject),
			},
			StatusCode: statusCode,
		}
	}
}

// ExtractVendorMessage digs the human-readable diagnostic out of the vendor
// error body. Vendors disagree on the envelope shape, so several well-known
// paths are probed in order.
func ExtractVendorMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var envelope struct {
		Msg     string `json:"msg"`
		Message string `json:"message"`
		Data    struct {
			Msg     string `json:"msg"`
			Message string `json:"message"`
		} `json:"data"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		StatusInfo struct {
			Message string `json:"message"`
		} `json:"statusInfo"`
		BaseResp struct {
			StatusMsg string `json:"status_msg"`
		} `json:"base_resp"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		if len(trimmed) > 256 {
			trimmed = trimmed[:256]
		}
		return trimmed
	}

	for _, candidate := range []string{
		envelope.Data.Msg,
		envelope.Data.Message,
		envelope.Error.Message,
		envelope.StatusInfo.Message,
		envelope.BaseResp.StatusMsg,
		envelope.Msg,
		envelope.Message,
	} {
		if candidate != "" {
			return candidate
		}
	}
	if len(trimmed) > 256 {
		trimmed = trimmed[:256]
	}
	return trimmed
}
