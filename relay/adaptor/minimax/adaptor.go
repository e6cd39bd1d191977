// Package minimax talks to the MiniMax agent web chat. The vendor has no
// true streaming API on this surface: send_msg returns identifiers
// synchronously and the adapter simulates SSE by polling get_chat_detail.
package minimax

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/model"
	"github.com/xiaoY233/chat2api/relay/adaptor"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/prompt"
	"github.com/xiaoY233/chat2api/relay/meta"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

const (
	sendMsgPath       = "/matrix/api/v1/chat/send_msg"
	chatDetailPath    = "/matrix/api/v1/chat/get_chat_detail"
	msgTypeUser       = 1
	msgTypeAssistant  = 2
)

type Adaptor struct{}

type chatPayload struct {
	body     sendMsgRequest
	jwtToken string
	device   *device
	userID   string
}

type sendMsgRequest struct {
	MsgType  int    `json:"msg_type"`
	Text     string `json:"text"`
	ChatType int    `json:"chat_type"`
}

func (a *Adaptor) GetProviderId() string {
	return model.ProviderMiniMax
}

func (a *Adaptor) Recognizes(provider *model.Provider) bool {
	return provider.Id == model.ProviderMiniMax ||
		strings.Contains(provider.BaseURL, "minimaxi.com") ||
		strings.Contains(provider.BaseURL, "minimax.com")
}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) ConvertRequest(c *gin.Context, m *meta.Meta, request *relaymodel.GeneralOpenAIRequest) (any, error) {
	jwtToken := m.Credentials["token"]
	if jwtToken == "" {
		return nil, errors.New("minimax token is empty")
	}

	registered, err := getDevice(c.Request.Context(), m.BaseURL, jwtToken)
	if err != nil {
		return nil, errors.Wrap(err, "register minimax device")
	}
	userID := resolveRealUserID(m.Credentials, registered)
	if userID == "" {
		return nil, errors.New("cannot resolve minimax realUserID")
	}

	return &chatPayload{
		body: sendMsgRequest{
			MsgType:  msgTypeUser,
			Text:     prompt.Flatten(request.Messages),
			ChatType: 1,
		},
		jwtToken: jwtToken,
		device:   registered,
		userID:   userID,
	}, nil
}

func (a *Adaptor) DoRequest(c *gin.Context, m *meta.Meta, payload any) (*http.Response, error) {
	p, ok := payload.(*chatPayload)
	if !ok {
		return nil, errors.New("unexpected payload type")
	}
	body, err := json.Marshal(p.body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal send_msg body")
	}

	endpoint := m.BaseURL + sendMsgPath + "?" + fingerprintQuery(p.device.DeviceID, p.userID).Encode()
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	adaptor.SetupCommonRequestHeader(req, m)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", p.jwtToken)
	signRequest(req, p.jwtToken, string(body))

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "post minimax send_msg")
	}
	return resp, nil
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	return handleResponse(c, resp, m)
}

// DeleteSession is a no-op: chat history cleanup is not exposed on this
// surface.
func (a *Adaptor) DeleteSession(ctx context.Context, m *meta.Meta) bool {
	return false
}
