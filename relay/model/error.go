package model

// ErrorType buckets upstream failures into the adapter-layer taxonomy.
type ErrorType string

const (
	// ErrorTypeAuthExpired covers vendor 401s and sentinel auth error codes.
	ErrorTypeAuthExpired ErrorType = "auth_expired"
	// ErrorTypeTransport covers DNS/TCP/TLS failures, premature close and
	// decode failures; retryable.
	ErrorTypeTransport ErrorType = "transport_error"
	// ErrorTypeVendorBusy covers 429 and 5xx; retryable.
	ErrorTypeVendorBusy ErrorType = "vendor_busy"
	// ErrorTypeVendorReject covers terminal non-429 4xx.
	ErrorTypeVendorReject ErrorType = "vendor_reject"
	// ErrorTypeProtocolDrift means the frame parser cannot make progress.
	ErrorTypeProtocolDrift ErrorType = "protocol_drift"
	// ErrorTypeInternalPolicy covers no-account, daily limit, disabled provider.
	ErrorTypeInternalPolicy ErrorType = "internal_policy"
	// ErrorTypeInvalidRequest covers malformed inbound requests.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
)

// Error is the OpenAI-shaped error envelope body.
type Error struct {
	Message  string    `json:"message"`
	Type     ErrorType `json:"type"`
	Param    string    `json:"param,omitempty"`
	Code     any       `json:"code,omitempty"`
	RawError error     `json:"-"`
}

// ErrorWithStatusCode pairs the envelope with the HTTP status to surface.
type ErrorWithStatusCode struct {
	Error
	StatusCode int `json:"-"`
}

// IsRetryable reports whether the forwarder may re-attempt the same account:
// transport failures, 429 and 5xx only.
func (e *ErrorWithStatusCode) IsRetryable() bool {
	if e == nil {
		return false
	}
	if e.Type == ErrorTypeTransport {
		return true
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}
