// Package kimi talks to the Moonshot Kimi web chat over its Connect-RPC
// endpoint. The user token is used directly as Bearer; no refresh RPC exists
// in the current vendor contract.
package kimi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/model"
	"github.com/xiaoY233/chat2api/relay/adaptor"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/jwtutil"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/prompt"
	"github.com/xiaoY233/chat2api/relay/meta"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

const (
	chatPath      = "/apiv2/kimi.chat.v1.ChatService/Chat"
	chatScenario  = "SCENARIO_K2D5"
	searchTool    = "TOOL_TYPE_SEARCH"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

type Adaptor struct{}

type chatPayload struct {
	body  chatRequest
	token string
}

type chatRequest struct {
	Scenario string      `json:"scenario"`
	Tools    []toolSpec  `json:"tools,omitempty"`
	Message  chatMessage `json:"message"`
	Options  chatOptions `json:"options"`
}

type toolSpec struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role     string      `json:"role"`
	Blocks   []textBlock `json:"blocks"`
	Scenario string      `json:"scenario"`
}

type textBlock struct {
	Text blockText `json:"text"`
}

type blockText struct {
	Content string `json:"content"`
}

type chatOptions struct {
	Thinking bool `json:"thinking"`
}

func (a *Adaptor) GetProviderId() string {
	return model.ProviderKimi
}

func (a *Adaptor) Recognizes(provider *model.Provider) bool {
	return provider.Id == model.ProviderKimi ||
		strings.Contains(provider.BaseURL, "kimi.com")
}

func (a *Adaptor) Init(meta *meta.Meta) {}

// isAccessJWT reports whether the credential is Kimi's own access JWT rather
// than a refresh token. Both work as Bearer; the distinction only matters for
// the token prober.
func isAccessJWT(token string) bool {
	if !jwtutil.LooksLikeJWT(token) {
		return false
	}
	claims, err := jwtutil.UnverifiedClaims(token)
	if err != nil {
		return false
	}
	return jwtutil.StringClaim(claims, "app_id") == "kimi" &&
		jwtutil.StringClaim(claims, "typ") == "access"
}

func (a *Adaptor) ConvertRequest(c *gin.Context, m *meta.Meta, request *relaymodel.GeneralOpenAIRequest) (any, error) {
	token := m.Credentials["token"]
	if token == "" {
		return nil, errors.New("kimi token is empty")
	}

	hint := strings.ToLower(m.ActualModelName)
	var tools []toolSpec
	if request.WantsWebSearch(strings.Contains(hint, "search")) {
		tools = append(tools, toolSpec{Type: searchTool})
	}

	return &chatPayload{
		body: chatRequest{
			Scenario: chatScenario,
			Tools:    tools,
			Message: chatMessage{
				Role:     "user",
				Blocks:   []textBlock{{Text: blockText{Content: renderContent(request.Messages)}}},
				Scenario: chatScenario,
			},
			Options: chatOptions{
				Thinking: request.WantsThinking(strings.Contains(hint, "thinking")),
			},
		},
		token: token,
	}, nil
}

func (a *Adaptor) DoRequest(c *gin.Context, m *meta.Meta, payload any) (*http.Response, error) {
	p, ok := payload.(*chatPayload)
	if !ok {
		return nil, errors.New("unexpected payload type")
	}
	encoded, err := json.Marshal(p.body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal chat request")
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, m.BaseURL+chatPath, bytes.NewReader(encodeFrame(frameFlagData, encoded)))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	adaptor.SetupCommonRequestHeader(req, m)
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/connect+json")
	req.Header.Set("Connect-Protocol-Version", "1")

	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "post kimi chat")
	}
	return resp, nil
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	return handleResponse(c, resp, m)
}

// DeleteSession is a no-op: the chat RPC does not create server-side state
// the gateway could tear down.
func (a *Adaptor) DeleteSession(ctx context.Context, m *meta.Meta) bool {
	return false
}

// renderContent flattens the history into the single text block the vendor
// accepts. The system turn is prepended, a synthetic focus note precedes the
// final turn, and URLs in user turns are wrapped in url tags.
func renderContent(messages []relaymodel.Message) string {
	system, rest := prompt.LiftSystem(messages)

	var b strings.Builder
	if system != "" {
		b.WriteString("system:")
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	for i, message := range rest {
		if i == len(rest)-1 {
			note := "Focus on the latest user message."
			if message.HasMediaContent() {
				note = "Focus on the latest user message and its attachments."
			}
			b.WriteString("system:")
			b.WriteString(note)
			b.WriteString("\n\n")
		}
		switch message.Role {
		case "assistant":
			b.WriteString("Assistant: ")
			if len(message.ToolCalls) > 0 {
				b.WriteString(prompt.RenderToolCalls(message.ToolCalls))
				if text := message.StringContent(); text != "" {
					b.WriteString("\n")
					b.WriteString(text)
				}
			} else {
				b.WriteString(message.StringContent())
			}
		case "tool":
			b.WriteString("[TOOL_RESULT for " + message.ToolCallId + "] " + message.StringContent())
		default:
			b.WriteString("User: ")
			b.WriteString(wrapURLs(message.StringContent()))
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSuffix(b.String(), "\n\n")
}

// wrapURLs tags bare links so the vendor treats them as browsable references.
func wrapURLs(text string) string {
	return urlPattern.ReplaceAllStringFunc(text, func(match string) string {
		return `<url url="` + match + `">` + match + `</url>`
	})
}
