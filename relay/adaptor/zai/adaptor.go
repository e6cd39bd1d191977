// Package zai talks to the Z.ai web chat. Every chat call carries a
// two-layer HMAC signature over the request identifiers and the latest
// message text, valid only within the current 5-minute window.
package zai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/model"
	"github.com/xiaoY233/chat2api/relay/adaptor"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/jwtutil"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/prompt"
	"github.com/xiaoY233/chat2api/relay/meta"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

const chatCompletionsPath = "/api/chat/completions"

type Adaptor struct{}

type chatPayload struct {
	body        chatRequest
	token       string
	userID      string
	messageText string
}

type chatRequest struct {
	Stream   bool          `json:"stream"`
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Features features      `json:"features"`
	ChatId   string        `json:"chat_id"`
	Id       string        `json:"id"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type features struct {
	ImageGeneration bool `json:"image_generation"`
	WebSearch       bool `json:"web_search"`
	AutoWebSearch   bool `json:"auto_web_search"`
	PreviewMode     bool `json:"preview_mode"`
	EnableThinking  bool `json:"enable_thinking"`
}

func (a *Adaptor) GetProviderId() string {
	return model.ProviderZAI
}

func (a *Adaptor) Recognizes(provider *model.Provider) bool {
	return provider.Id == model.ProviderZAI ||
		strings.Contains(provider.BaseURL, "chat.z.ai")
}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) ConvertRequest(c *gin.Context, m *meta.Meta, request *relaymodel.GeneralOpenAIRequest) (any, error) {
	token := m.Credentials["token"]
	if token == "" {
		return nil, errors.New("z.ai token is empty")
	}

	userID := extractUserID(token)
	if userID == "" {
		return nil, errors.New("cannot extract user_id from z.ai token")
	}

	chatId, err := createChat(c.Request.Context(), m.BaseURL, token)
	if err != nil {
		return nil, errors.Wrap(err, "create z.ai chat")
	}
	m.ChatId = chatId

	messages := liftedMessages(request.Messages)
	messageText := ""
	if len(messages) > 0 {
		messageText = messages[len(messages)-1].Content
	}

	hint := strings.ToLower(m.ActualModelName)
	return &chatPayload{
		body: chatRequest{
			Stream:   true,
			Model:    m.ActualModelName,
			Messages: messages,
			Features: features{
				ImageGeneration: false,
				WebSearch:       request.WantsWebSearch(strings.Contains(hint, "search")),
				AutoWebSearch:   false,
				PreviewMode:     true,
				EnableThinking:  request.WantsThinking(strings.Contains(hint, "thinking")),
			},
			ChatId: chatId,
			Id:     uuid.NewString(),
		},
		token:       token,
		userID:      userID,
		messageText: messageText,
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

	ms := time.Now().UnixMilli()
	requestId := uuid.NewString()
	query := fingerprintQuery()
	query.Set("timestamp", strconv.FormatInt(ms, 10))
	query.Set("requestId", requestId)
	query.Set("user_id", p.userID)

	endpoint := m.BaseURL + chatCompletionsPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	adaptor.SetupCommonRequestHeader(req, m)
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Signature", signature(requestId, ms, p.userID, p.messageText))

	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "post z.ai chat")
	}
	return resp, nil
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	return handleResponse(c, resp, m)
}

// DeleteSession removes the conversation created for this request.
func (a *Adaptor) DeleteSession(ctx context.Context, m *meta.Meta) bool {
	if m.ChatId == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, m.BaseURL+"/api/v1/chats/"+m.ChatId, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+m.Credentials["token"])

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// extractUserID pulls the account id out of the JWT payload.
func extractUserID(token string) string {
	claims, err := jwtutil.UnverifiedClaims(token)
	if err != nil {
		return ""
	}
	for _, path := range []string{"id", "user_id", "sub"} {
		if value := jwtutil.StringClaim(claims, path); value != "" {
			return value
		}
	}
	return ""
}

// liftedMessages concatenates system turns and prepends them to the first
// user message, leaving the rest of the history in place.
func liftedMessages(messages []relaymodel.Message) []wireMessage {
	system, rest := prompt.LiftSystem(messages)

	wire := make([]wireMessage, 0, len(rest))
	for i, message := range rest {
		content := message.StringContent()
		if message.Role == "assistant" && len(message.ToolCalls) > 0 {
			rendered := prompt.RenderToolCalls(message.ToolCalls)
			if content != "" {
				rendered += "\n" + content
			}
			content = rendered
		}
		if message.Role == "tool" {
			wire = append(wire, wireMessage{
				Role:    "user",
				Content: "[TOOL_RESULT for " + message.ToolCallId + "] " + content,
			})
			continue
		}
		if i == 0 && message.Role == "user" && system != "" {
			content = system + "\n\nUser: " + content
		}
		wire = append(wire, wireMessage{Role: message.Role, Content: content})
	}
	return wire
}

func createChat(ctx context.Context, baseURL, token string) (string, error) {
	payload := strings.NewReader(`{"chat":{"title":"New Chat","models":[],"messages":[]}}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/chats/new", payload)
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "create z.ai chat")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "read chat create response")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", errors.Errorf("z.ai chat create returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Id   string `json:"id"`
		Data struct {
			Id string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrap(err, "unmarshal chat create response")
	}
	if parsed.Id != "" {
		return parsed.Id, nil
	}
	if parsed.Data.Id != "" {
		return parsed.Data.Id, nil
	}
	return "", errors.New("z.ai chat create response missing id")
}

// fingerprintQuery forges the browser fingerprint fields the web client
// appends to every chat call.
func fingerprintQuery() url.Values {
	query := url.Values{}
	query.Set("device_platform", "web")
	query.Set("platform", "Win32")
	query.Set("language", "zh-CN")
	query.Set("languages", "zh-CN,en")
	query.Set("timezone", "Asia/Shanghai")
	query.Set("timezone_offset", "-480")
	query.Set("cookie_enabled", "true")
	query.Set("screen_width", "1920")
	query.Set("screen_height", "1080")
	query.Set("screen_color_depth", "24")
	query.Set("screen_pixel_ratio", "1")
	query.Set("viewport_width", "1920")
	query.Set("viewport_height", "937")
	query.Set("hardware_concurrency", "12")
	query.Set("device_memory", "8")
	query.Set("browser_name", "Chrome")
	query.Set("browser_version", "131.0.0.0")
	query.Set("os_name", "Windows")
	query.Set("os_version", "10")
	query.Set("touch_support", "false")
	query.Set("webgl_vendor", "Google Inc. (NVIDIA)")
	query.Set("canvas_fingerprint", "a1b2c3d4")
	return query
}
