// Package qwenai talks to the international Qwen web chat (chat.qwen.ai).
// The WAF in front of it demands a synthetic bx header triplet captured from
// the web client; requests without it are challenged.
package qwenai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/model"
	"github.com/xiaoY233/chat2api/relay/adaptor"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/prompt"
	"github.com/xiaoY233/chat2api/relay/meta"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

// Constant WAF tokens captured from the web client. They are validated for
// shape, not freshness.
const (
	bxUA        = "231!tRbYdlUbXhjvu+mWmWWZ9pEjZqjB3xLOMDAHQRP5kZ1pTLBpc0zRlx8hqlYZyIGWoJjHBTTsgOVE1nXd38u8Ni0UlXc6YbhYhvveyQblgbRb4GzV0tFDwsqXyJnpnTHAxGpS4sqA5EQNNpoRBIcOE3dXw9ziCo+++4eTeW9qYTAlQ+HGfjCCGd0Isn+ZkEf67noRkCsLD78cdrlTCOrVvDkWoUCkyGqVkJDgcLiQ1Uii+3nt5Nj1JVmsAeoZFrLgP4tpjzwMrHlEOz4PHTFfOppeWRbnrVnBKCoAnTXSfnF6MsBWsScFtnVEFYLbJNjgO65pZ1gHvJsw2YEnWlNXAJaLq7vbYlJwil8cnS1zv66b7tonUzQ2iz3HmHN1M4z1h6tqBqmDIwHgXQqaehnvmIGPjOUGwzSDvO5Zry3oEr8q6vGJRHcU0mwEUV5H9iRBZcx63EtYhaC4WBDywKVM7zs4bbRhmMZSnC4QhWNfRd7QIUHjFn6dCdmjBoBoeeWM"
	bxV         = "2.5.31"
	bxUmidtoken = "T2gANtcYZT9YXDyhcfnHbg8SBkXEVHpD2jM8NNEW-1f8rGOjEr9a1J8v9v0Xx5mqBCo="
)

type Adaptor struct{}

type chatPayload struct {
	body    chatRequest
	token   string
	cookies string
	chatId  string
}

type chatRequest struct {
	ChatId            string        `json:"chat_id"`
	Stream            bool          `json:"stream"`
	IncrementalOutput bool          `json:"incremental_output"`
	ChatMode          string        `json:"chat_mode"`
	Model             string        `json:"model"`
	Messages          []chatMessage `json:"messages"`
	Timestamp         int64         `json:"timestamp"`
}

type chatMessage struct {
	Fid           string         `json:"fid"`
	ParentId      *string        `json:"parentId"`
	ChildrenIds   []string       `json:"childrenIds"`
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	UserAction    string         `json:"user_action"`
	Timestamp     int64          `json:"timestamp"`
	Models        []string       `json:"models"`
	ChatType      string         `json:"chat_type"`
	FeatureConfig featureConfig  `json:"feature_config"`
	Extra         map[string]any `json:"extra"`
}

type featureConfig struct {
	ThinkingEnabled bool   `json:"thinking_enabled"`
	OutputSchema    string `json:"output_schema"`
	AutoThinking    bool   `json:"auto_thinking"`
	ThinkingFormat  string `json:"thinking_format"`
	AutoSearch      bool   `json:"auto_search"`
}

func (a *Adaptor) GetProviderId() string {
	return model.ProviderQwenAI
}

func (a *Adaptor) Recognizes(provider *model.Provider) bool {
	return provider.Id == model.ProviderQwenAI ||
		strings.Contains(provider.BaseURL, "chat.qwen.ai")
}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) ConvertRequest(c *gin.Context, m *meta.Meta, request *relaymodel.GeneralOpenAIRequest) (any, error) {
	token := m.Credentials["token"]
	if token == "" {
		return nil, errors.New("qwen token is empty")
	}
	cookies := m.Credentials["cookies"]

	chatId, err := getChat(c.Request.Context(), m.BaseURL, token, cookies, m.Account.Id)
	if err != nil {
		return nil, errors.Wrap(err, "create qwen chat")
	}
	m.ChatId = chatId

	hint := strings.ToLower(m.ActualModelName)
	thinking := request.WantsThinking(strings.Contains(hint, "thinking"))
	now := time.Now().UnixMilli()

	system, rest := prompt.LiftSystem(request.Messages)
	var content string
	if len(rest) == 1 && rest[0].Role == "user" {
		content = prompt.PrependSystem(system, rest[0].StringContent())
	} else {
		content = prompt.Flatten(request.Messages)
	}

	return &chatPayload{
		body: chatRequest{
			ChatId:            chatId,
			Stream:            true,
			IncrementalOutput: true,
			ChatMode:          "normal",
			Model:             m.ActualModelName,
			Timestamp:         now,
			Messages: []chatMessage{{
				Fid:         uuid.NewString(),
				ParentId:    nil,
				ChildrenIds: []string{uuid.NewString()},
				Role:        "user",
				Content:     content,
				UserAction:  "chat",
				Timestamp:   now,
				Models:      []string{m.ActualModelName},
				ChatType:    "t2t",
				FeatureConfig: featureConfig{
					ThinkingEnabled: thinking,
					OutputSchema:    "phase",
					AutoThinking:    false,
					ThinkingFormat:  "summary",
					AutoSearch:      request.WantsWebSearch(strings.Contains(hint, "search")),
				},
				Extra: map[string]any{"meta": map[string]any{"subChatType": "t2t"}},
			}},
		},
		token:   token,
		cookies: cookies,
		chatId:  chatId,
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

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, m.BaseURL+"/api/v2/chat/completions?chat_id="+p.chatId, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	adaptor.SetupCommonRequestHeader(req, m)
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	applyWAFHeaders(req, p.cookies)

	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "post qwen chat")
	}
	return resp, nil
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	return handleResponse(c, resp, m)
}

// DeleteSession drops the cached chat id so the next request starts a fresh
// conversation. The vendor exposes no hard delete on this surface.
func (a *Adaptor) DeleteSession(ctx context.Context, m *meta.Meta) bool {
	if m.ChatId == "" {
		return false
	}
	dropChat(m.Account.Id)
	return true
}

// applyWAFHeaders attaches the constant bx triplet and any paired cookies.
func applyWAFHeaders(req *http.Request, cookies string) {
	req.Header.Set("bx-ua", bxUA)
	req.Header.Set("bx-v", bxV)
	req.Header.Set("bx-umidtoken", bxUmidtoken)
	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}
}
