// Package deepseek talks to the DeepSeek web chat. Every completion needs a
// short-lived access token, a chat session and a solved proof-of-work
// challenge before the actual chat call goes out.
package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/model"
	"github.com/xiaoY233/chat2api/relay/adaptor"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/prompt"
	"github.com/xiaoY233/chat2api/relay/meta"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

const chatCompletionPath = "/api/v0/chat/completion"

type Adaptor struct{}

// chatPayload is the vendor request plus the per-request header material the
// pre-chat RPCs produced.
type chatPayload struct {
	body        chatRequest
	accessToken string
	powResponse string
	userToken   string
}

type chatRequest struct {
	ChatSessionId   string  `json:"chat_session_id"`
	ParentMessageId *string `json:"parent_message_id"`
	Prompt          string  `json:"prompt"`
	RefFileIds      []any   `json:"ref_file_ids"`
	ThinkingEnabled bool    `json:"thinking_enabled"`
	SearchEnabled   bool    `json:"search_enabled"`
}

func (a *Adaptor) GetProviderId() string {
	return model.ProviderDeepSeek
}

func (a *Adaptor) Recognizes(provider *model.Provider) bool {
	return provider.Id == model.ProviderDeepSeek ||
		strings.Contains(provider.BaseURL, "deepseek.com")
}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) ConvertRequest(c *gin.Context, m *meta.Meta, request *relaymodel.GeneralOpenAIRequest) (any, error) {
	userToken := m.Credentials["token"]
	ctx := c.Request.Context()

	accessToken, err := getAccessToken(ctx, m.BaseURL, userToken)
	if err != nil {
		return nil, errors.Wrap(err, "get deepseek access token")
	}

	sessionId, err := getSession(ctx, m.BaseURL, accessToken, m.Account.Id)
	if err != nil {
		return nil, errors.Wrap(err, "get deepseek session")
	}
	m.SessionId = sessionId

	powHeader, err := buildPowHeader(ctx, m.BaseURL, accessToken)
	if err != nil {
		return nil, errors.Wrap(err, "solve deepseek pow")
	}

	hint := strings.ToLower(m.ActualModelName)
	return &chatPayload{
		body: chatRequest{
			ChatSessionId:   sessionId,
			ParentMessageId: nil,
			Prompt:          renderPrompt(request.Messages),
			RefFileIds:      []any{},
			ThinkingEnabled: request.WantsThinking(strings.Contains(hint, "r1") || strings.Contains(hint, "think")),
			SearchEnabled:   request.WantsWebSearch(strings.Contains(hint, "search")),
		},
		accessToken: accessToken,
		powResponse: powHeader,
		userToken:   userToken,
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
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, m.BaseURL+chatCompletionPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	adaptor.SetupCommonRequestHeader(req, m)
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("X-Ds-Pow-Response", p.powResponse)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "post deepseek chat")
	}
	return resp, nil
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	return handleResponse(c, resp, m)
}

// DeleteSession tears down the vendor-side chat session. Best effort.
func (a *Adaptor) DeleteSession(ctx context.Context, m *meta.Meta) bool {
	if m.SessionId == "" {
		return false
	}
	accessToken, err := getAccessToken(ctx, m.BaseURL, m.Credentials["token"])
	if err != nil {
		return false
	}

	body, _ := json.Marshal(map[string]string{"chat_session_id": m.SessionId})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/api/v0/chat_session/delete", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	dropSession(m.Account.Id)
	return resp.StatusCode == http.StatusOK
}

// renderPrompt flattens the history into DeepSeek's single-prompt shape.
// Consecutive same-role turns are merged, assistant turns are wrapped in the
// vendor's sentence markers, and each later user turn gets the user marker.
func renderPrompt(messages []relaymodel.Message) string {
	merged := mergeRendered(messages)

	var b strings.Builder
	for i, turn := range merged {
		if turn.role == "assistant" {
			b.WriteString("<｜Assistant｜>")
			b.WriteString(turn.text)
			b.WriteString("<｜end▁of▁sentence｜>")
			continue
		}
		if i > 0 {
			b.WriteString("<｜User｜>")
		}
		b.WriteString(turn.text)
	}
	return b.String()
}

type renderedTurn struct {
	role string
	text string
}

func mergeRendered(messages []relaymodel.Message) []renderedTurn {
	var merged []renderedTurn
	for _, message := range messages {
		role := message.Role
		if role != "assistant" {
			// System and tool turns ride along as user text.
			role = "user"
		}
		text := renderTurnText(message)
		if n := len(merged); n > 0 && merged[n-1].role == role {
			merged[n-1].text += "\n" + text
			continue
		}
		merged = append(merged, renderedTurn{role: role, text: text})
	}
	return merged
}

func renderTurnText(message relaymodel.Message) string {
	if message.Role == "assistant" && len(message.ToolCalls) > 0 {
		rendered := prompt.RenderToolCalls(message.ToolCalls)
		if text := message.StringContent(); text != "" {
			rendered += "\n" + text
		}
		return rendered
	}
	if message.Role == "tool" {
		return "[TOOL_RESULT for " + message.ToolCallId + "] " + message.StringContent()
	}
	return message.StringContent()
}

// logStreamWarning is shared by the frame handlers for malformed vendor lines.
func logStreamWarning(c *gin.Context, msg string, err error) {
	gmw.GetLogger(c).Warn(msg, zap.Error(err))
}
