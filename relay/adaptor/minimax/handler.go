package minimax

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/upstream"
	"github.com/xiaoY233/chat2api/relay/meta"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
	"github.com/xiaoY233/chat2api/relay/streaming"
)

const (
	streamPollInterval    = 500 * time.Millisecond
	nonStreamPollInterval = time.Second
	maxPolls              = 60
	pollDeadline          = 60 * time.Second
	// minPollsBeforeStall guards against declaring a stall while the agent is
	// still warming up.
	minPollsBeforeStall = 5
)

// chatDetail is the assistant message extracted from one poll.
type chatDetail struct {
	content string
	isEnd   *int
}

func handleResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, upstream.ErrorWrapper(errors.Wrap(err, "read send_msg response"), relaymodel.ErrorTypeTransport, http.StatusBadGateway)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstream.ClassifyHTTP(resp.StatusCode, raw)
	}

	chatID, err := parseSendMsg(raw)
	if err != nil {
		return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeProtocolDrift, http.StatusBadGateway)
	}
	m.ChatId = chatID

	if m.IsStream {
		return streamByPolling(c, m, chatID)
	}
	return collectByPolling(c, m, chatID)
}

// parseSendMsg digs chat_id out of the synchronous send_msg response, whose
// key casing has drifted across vendor versions.
func parseSendMsg(raw []byte) (string, error) {
	var envelope struct {
		Data struct {
			ChatID     string `json:"chatID"`
			ChatIdSnake string `json:"chat_id"`
		} `json:"data"`
		BaseResp struct {
			StatusCode int    `json:"status_code"`
			StatusMsg  string `json:"status_msg"`
		} `json:"base_resp"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", errors.Wrap(err, "unmarshal send_msg response")
	}
	if envelope.BaseResp.StatusCode != 0 {
		return "", errors.Errorf("minimax rejected send_msg: %s", envelope.BaseResp.StatusMsg)
	}
	if envelope.Data.ChatID != "" {
		return envelope.Data.ChatID, nil
	}
	if envelope.Data.ChatIdSnake != "" {
		return envelope.Data.ChatIdSnake, nil
	}
	return "", errors.New("minimax send_msg response missing chat id")
}

func streamByPolling(c *gin.Context, m *meta.Meta, chatID string) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	st := streaming.New(c, m.OriginModelName)
	var completion strings.Builder

	err := pollLoop(c, m, chatID, streamPollInterval, func(delta string) error {
		completion.WriteString(delta)
		return st.Content(delta)
	})
	if err != nil {
		st.Error("polling interrupted: " + err.Error())
		return nil, nil
	}

	usage := relaymodel.EstimateUsage("", completion.String())
	if err := st.Finish(usage); err != nil {
		gmw.GetLogger(c).Warn("finish minimax stream", zap.Error(err))
	}
	return usage, nil
}

func collectByPolling(c *gin.Context, m *meta.Meta, chatID string) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	var content strings.Builder
	err := pollLoop(c, m, chatID, nonStreamPollInterval, func(delta string) error {
		content.WriteString(delta)
		return nil
	})
	if err != nil {
		return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeTransport, http.StatusBadGateway)
	}

	usage := relaymodel.EstimateUsage("", content.String())
	streaming.WriteNonStreamResponse(c, m.OriginModelName, content.String(), "", usage)
	return usage, nil
}

// pollLoop drives get_chat_detail until the vendor signals completion, the
// content stalls after a warm-up, or the deadline passes. Each poll emits the
// unseen suffix of the assistant message.
func pollLoop(c *gin.Context, m *meta.Meta, chatID string, interval time.Duration, emit func(string) error) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pollDeadline)
	defer cancel()

	jwtToken := m.Credentials["token"]
	registered, err := getDevice(ctx, m.BaseURL, jwtToken)
	if err != nil {
		return errors.Wrap(err, "resolve minimax device")
	}
	userID := resolveRealUserID(m.Credentials, registered)

	sent := 0
	for poll := 1; poll <= maxPolls; poll++ {
		detail, err := fetchChatDetail(ctx, m, jwtToken, registered, userID, chatID)
		if err != nil {
			return err
		}

		grew := false
		if len(detail.content) > sent {
			grew = true
			delta := detail.content[sent:]
			sent = len(detail.content)
			if err := emit(delta); err != nil {
				return err
			}
		}

		// The vendor's explicit end flag wins over the stall heuristic.
		if detail.isEnd != nil {
			if *detail.isEnd == 0 {
				return nil
			}
		} else if !grew && sent > 0 && poll > minPollsBeforeStall {
			// One poll with no growth after warm-up means the agent is done.
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
	return nil
}

func fetchChatDetail(ctx context.Context, m *meta.Meta, jwtToken string, registered *device, userID, chatID string) (*chatDetail, error) {
	body, err := json.Marshal(map[string]string{"chat_id": chatID})
	if err != nil {
		return nil, errors.Wrap(err, "marshal get_chat_detail body")
	}

	endpoint := m.BaseURL + chatDetailPath + "?" + fingerprintQuery(registered.DeviceID, userID).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", jwtToken)
	signRequest(req, jwtToken, string(body))

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "poll minimax chat detail")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read chat detail")
	}
	if resp.StatusCode == http.StatusUnauthorized {
		evictDevice(jwtToken)
		return nil, errors.New("minimax token invalid or expired")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("minimax chat detail returned %d", resp.StatusCode)
	}
	return parseChatDetail(raw)
}

// parseChatDetail tolerates both snake_case and camelCase field names; the
// vendor has shipped both.
func parseChatDetail(raw []byte) (*chatDetail, error) {
	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, errors.Wrap(err, "unmarshal chat detail")
	}
	data, _ := envelope["data"].(map[string]any)
	if data == nil {
		return &chatDetail{}, nil
	}

	var list []any
	for _, key := range []string{"message_list", "messages", "msgList"} {
		if typed, ok := data[key].([]any); ok {
			list = typed
			break
		}
	}

	detail := &chatDetail{}
	for _, item := range list {
		message, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if intField(message, "msg_type", "msgType") != msgTypeAssistant {
			continue
		}
		detail.content = stringField(message, "msg_content", "msgContent", "content")
		if value, ok := lookupInt(message, "is_end", "isEnd"); ok {
			detail.isEnd = &value
		}
	}
	return detail, nil
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := m[key].(string); ok {
			return value
		}
	}
	return ""
}

func intField(m map[string]any, keys ...string) int {
	value, _ := lookupInt(m, keys...)
	return value
}

func lookupInt(m map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		if value, ok := m[key].(float64); ok {
			return int(value), true
		}
	}
	return 0, false
}
