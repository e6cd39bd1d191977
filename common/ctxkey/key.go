package ctxkey

const (
	// RequestId is a per-request unique identifier, mirrored into logs.
	// Set in: middleware/distributor. Read in: relay controllers and adaptors.
	RequestId = "X-Chat2api-Request-Id"

	// RequestModel is the model name as the caller sent it.
	// Set in: middleware/distributor. Read in: relay/meta and /v1/models checks.
	RequestModel = "request_model"

	// ActualModel is the vendor-internal model after mapping resolution.
	ActualModel = "actual_model"

	// Provider holds the selected *model.Provider for this request.
	Provider = "provider"

	// Account holds the selected *model.Account for this request.
	Account = "account"

	// Credentials holds the decrypted credential map for the selected account.
	// It exists only for the lifetime of the request context.
	Credentials = "credentials"

	// BaseURL is the provider's base endpoint.
	BaseURL = "base_url"

	// APIKeyId is the inbound API key row that authorized this request.
	APIKeyId = "api_key_id"

	// KeyRequestBody caches the raw inbound body for reuse across retries.
	KeyRequestBody = "key_request_body"

	// ClientRequestPayloadLogged marks that the inbound payload debug log fired.
	ClientRequestPayloadLogged = "client_request_payload_logged"
)
