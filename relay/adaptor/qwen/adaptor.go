// Package qwen talks to the domestic Tongyi Qianwen web chat
// (chat2.qianwen.com). Auth is a single SSO ticket cookie; the response body
// arrives under whichever Content-Encoding the vendor picked.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/common/helper"
	"github.com/xiaoY233/chat2api/model"
	"github.com/xiaoY233/chat2api/relay/adaptor"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/prompt"
	"github.com/xiaoY233/chat2api/relay/meta"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

const chatPath = "/api/v2/chat"

type Adaptor struct{}

type chatPayload struct {
	body   chatRequest
	ticket string
}

type chatRequest struct {
	Action      string        `json:"action"`
	Mode        string        `json:"mode"`
	RequestId   string        `json:"requestId"`
	SessionId   string        `json:"sessionId"`
	SessionType string        `json:"sessionType"`
	ParentMsgId string        `json:"parentMsgId"`
	Contents    []chatContent `json:"contents"`
}

type chatContent struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	Role        string `json:"role"`
}

func (a *Adaptor) GetProviderId() string {
	return model.ProviderQwen
}

func (a *Adaptor) Recognizes(provider *model.Provider) bool {
	return provider.Id == model.ProviderQwen ||
		strings.Contains(provider.BaseURL, "qianwen.com")
}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) ConvertRequest(c *gin.Context, m *meta.Meta, request *relaymodel.GeneralOpenAIRequest) (any, error) {
	ticket := m.Credentials["tongyi_sso_ticket"]
	if ticket == "" {
		return nil, errors.New("qwen sso ticket is empty")
	}

	return &chatPayload{
		body: chatRequest{
			Action:      "next",
			Mode:        "chat",
			RequestId:   uuid.NewString(),
			SessionId:   "",
			SessionType: "text_chat",
			ParentMsgId: "",
			Contents: []chatContent{{
				Content:     renderText(request.Messages),
				ContentType: "text",
				Role:        "user",
			}},
		},
		ticket: ticket,
	}, nil
}

func (a *Adaptor) DoRequest(c *gin.Context, m *meta.Meta, payload any) (*http.Response, error) {
	p, ok := payload.(*chatPayload)
	if !ok {
		return nil, errors.New("unexpected payload type")
	}
	body, err := json.Marshal(p.body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal chat request")
	}

	endpoint := m.BaseURL + chatPath + "?" + chatQuery().Encode()
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	adaptor.SetupCommonRequestHeader(req, m)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Accept-Encoding", acceptEncoding)
	req.AddCookie(&http.Cookie{Name: "tongyi_sso_ticket", Value: p.ticket})

	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "post qwen chat")
	}
	return resp, nil
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	return handleResponse(c, resp, m)
}

// DeleteSession removes the implicit session the chat call created. The
// session id is captured from the response stream.
func (a *Adaptor) DeleteSession(ctx context.Context, m *meta.Meta) bool {
	if m.SessionId == "" {
		return false
	}
	body, _ := json.Marshal(map[string]string{"sessionId": m.SessionId})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/api/v2/session/delete", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "tongyi_sso_ticket", Value: m.Credentials["tongyi_sso_ticket"]})

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// chatQuery forges the nonce, timestamp and browser fingerprint query the web
// client sends on every chat call.
func chatQuery() url.Values {
	query := url.Values{}
	query.Set("nonce", helper.GenNonce())
	query.Set("ms", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query.Set("platform", "pc")
	query.Set("os", "Windows")
	query.Set("browser", "chrome")
	query.Set("resolution", "1920x1080")
	query.Set("lang", "zh-CN")
	query.Set("tz", "Asia/Shanghai")
	return query
}

// renderText folds the history into the single text the vendor accepts: the
// system prompt is prepended to a lone user turn, longer histories are
// flattened with role prefixes.
func renderText(messages []relaymodel.Message) string {
	system, rest := prompt.LiftSystem(messages)
	if len(rest) == 1 && rest[0].Role == "user" {
		return prompt.PrependSystem(system, rest[0].StringContent())
	}
	return prompt.Flatten(messages)
}
