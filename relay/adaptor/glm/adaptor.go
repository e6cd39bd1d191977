// Package glm talks to the Zhipu GLM web assistant. Requests carry a signed
// header triplet and an access token refreshed from the user's rotating
// refresh token.
package glm

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

// defaultAssistantId is the public GLM-4 assistant on chatglm.cn.
const defaultAssistantId = "65940acff94777010aa6b796"

const chatModeZero = "zero"
const chatModeDeepResearch = "deep_research"

type Adaptor struct{}

type chatPayload struct {
	body        chatRequest
	accessToken string
}

type chatRequest struct {
	AssistantId    string         `json:"assistant_id"`
	ConversationId string         `json:"conversation_id"`
	MetaData       map[string]any `json:"meta_data"`
	Messages       []chatMessage  `json:"messages"`
}

type chatMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type  string      `json:"type"`
	Text  string      `json:"text,omitempty"`
	File  []fileRef   `json:"file,omitempty"`
	Image []imageRef  `json:"image,omitempty"`
}

type fileRef struct {
	SourceId string `json:"source_id"`
	FileName string `json:"file_name,omitempty"`
}

type imageRef struct {
	SourceId string `json:"source_id"`
}

func (a *Adaptor) GetProviderId() string {
	return model.ProviderGLM
}

func (a *Adaptor) Recognizes(provider *model.Provider) bool {
	return provider.Id == model.ProviderGLM ||
		strings.Contains(provider.BaseURL, "chatglm.cn")
}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) ConvertRequest(c *gin.Context, m *meta.Meta, request *relaymodel.GeneralOpenAIRequest) (any, error) {
	ctx := c.Request.Context()
	refreshToken := m.Credentials["refresh_token"]

	accessToken, err := getAccessToken(ctx, m.BaseURL, refreshToken, m.Account.Id)
	if err != nil {
		return nil, errors.Wrap(err, "get glm access token")
	}

	blocks, err := buildMediaBlocks(ctx, m.BaseURL, accessToken, request.Messages)
	if err != nil {
		return nil, errors.Wrap(err, "upload glm media")
	}
	blocks = append(blocks, contentBlock{Type: "text", Text: prompt.Flatten(request.Messages)})

	hint := strings.ToLower(m.ActualModelName)
	metaData := map[string]any{
		"is_test":             false,
		"input_question_type": "xxxx",
		"channel":             "",
		"draft_id":            "",
	}
	switch {
	case request.DeepResearch != nil && *request.DeepResearch,
		strings.Contains(hint, "deep-research"), strings.Contains(hint, "deep_research"):
		metaData["chat_mode"] = chatModeDeepResearch
	case request.WantsThinking(strings.Contains(hint, "thinking")):
		metaData["chat_mode"] = chatModeZero
	}
	if request.WantsWebSearch(strings.Contains(hint, "search")) {
		metaData["is_networking"] = true
	}

	return &chatPayload{
		body: chatRequest{
			AssistantId:    resolveAssistantId(m.ActualModelName),
			ConversationId: "",
			MetaData:       metaData,
			Messages: []chatMessage{{
				Role:    "user",
				Content: blocks,
			}},
		},
		accessToken: accessToken,
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

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, m.BaseURL+"/chatglm/backend-api/assistant/stream", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	adaptor.SetupCommonRequestHeader(req, m)
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	applySignHeaders(req)

	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "post glm chat")
	}
	return resp, nil
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	return handleResponse(c, resp, m)
}

// DeleteSession is a no-op: the assistant stream endpoint does not create a
// persistent conversation unless one is asked for.
func (a *Adaptor) DeleteSession(ctx context.Context, m *meta.Meta) bool {
	return false
}

// resolveAssistantId treats a 24+ character alphanumeric model name as an
// assistant id override.
func resolveAssistantId(modelName string) string {
	if len(modelName) >= 24 && isAlnum(modelName) {
		return modelName
	}
	return defaultAssistantId
}

func isAlnum(s string) bool {
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		default:
			return false
		}
	}
	return true
}

// buildMediaBlocks uploads every image or file part and returns the reference
// blocks that prefix the text block.
func buildMediaBlocks(ctx context.Context, baseURL, accessToken string, messages []relaymodel.Message) ([]contentBlock, error) {
	var blocks []contentBlock
	for _, message := range messages {
		for _, part := range message.ParseContent() {
			switch part.Type {
			case "image_url":
				if part.ImageURL == nil || part.ImageURL.URL == "" {
					continue
				}
				sourceId, err := uploadMedia(ctx, baseURL, accessToken, part.ImageURL.URL, "")
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, contentBlock{Type: "image", Image: []imageRef{{SourceId: sourceId}}})
			case "file":
				if part.File == nil || part.File.FileData == "" {
					continue
				}
				sourceId, err := uploadMedia(ctx, baseURL, accessToken, part.File.FileData, part.File.Filename)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, contentBlock{Type: "file", File: []fileRef{{SourceId: sourceId, FileName: part.File.Filename}}})
			}
		}
	}
	return blocks, nil
}
