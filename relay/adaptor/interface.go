package adaptor

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/model"
	"github.com/xiaoY233/chat2api/relay/meta"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

// Adaptor encapsulates one vendor integration: credential acquisition, request
// signing and framing, and normalization of the vendor response stream into
// OpenAI chunks.
type Adaptor interface {
	GetProviderId() string

	// Recognizes reports whether the adapter serves the provider, matched by
	// id or by endpoint.
	Recognizes(provider *model.Provider) bool

	Init(meta *meta.Meta)

	// ConvertRequest performs the pre-chat handshakes (token acquisition,
	// session/chat create, PoW challenge, device register) and translates the
	// OpenAI messages into the vendor payload. Session identifiers produced
	// along the way are recorded on meta.
	ConvertRequest(c *gin.Context, meta *meta.Meta, request *relaymodel.GeneralOpenAIRequest) (any, error)

	// DoRequest attaches the signature envelope and issues the chat call with
	// a streaming response.
	DoRequest(c *gin.Context, meta *meta.Meta, payload any) (*http.Response, error)

	// DoResponse consumes the upstream response and writes normalized OpenAI
	// output to the client, driving the tool-call interceptor.
	DoResponse(c *gin.Context, resp *http.Response, meta *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode)

	// DeleteSession is best-effort vendor-side teardown; it never fails loudly.
	DeleteSession(ctx context.Context, meta *meta.Meta) bool
}

// SetupCommonRequestHeader applies the provider's default impersonation
// headers, then the per-adapter ones on top.
func SetupCommonRequestHeader(req *http.Request, meta *meta.Meta) {
	if meta.Provider == nil {
		return
	}
	for key, value := range meta.Provider.GetHeaders() {
		req.Header.Set(key, value)
	}
}
