package qwenai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/xiaoY233/chat2api/common/client"
)

const chatTTL = 5 * time.Minute

var (
	chatCache = gocache.New(chatTTL, time.Minute)
	chatGroup singleflight.Group
)

// getChat returns a cached chat id for the account, creating one when cold.
func getChat(ctx context.Context, baseURL, token, cookies string, accountId int) (string, error) {
	key := "qwenai-chat-" + strconv.Itoa(accountId)
	if cached, ok := chatCache.Get(key); ok {
		return cached.(string), nil
	}

	value, err, _ := chatGroup.Do(key, func() (any, error) {
		if cached, ok := chatCache.Get(key); ok {
			return cached.(string), nil
		}
		chatId, err := createChat(ctx, baseURL, token, cookies)
		if err != nil {
			return nil, err
		}
		chatCache.Set(key, chatId, chatTTL)
		return chatId, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func dropChat(accountId int) {
	chatCache.Delete("qwenai-chat-" + strconv.Itoa(accountId))
}

func createChat(ctx context.Context, baseURL, token, cookies string) (string, error) {
	payload := strings.NewReader(`{"title":"New Chat","models":[],"chat_mode":"normal","chat_type":"t2t","timestamp":` + strconv.FormatInt(time.Now().UnixMilli(), 10) + `}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v2/chats/new", payload)
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	applyWAFHeaders(req, cookies)

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "create qwen chat")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "read chat create response")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", errors.Errorf("qwen chat create returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Data struct {
			Chat struct {
				Id string `json:"id"`
			} `json:"chat"`
			Id string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrap(err, "unmarshal chat create response")
	}
	if parsed.Data.Chat.Id != "" {
		return parsed.Data.Chat.Id, nil
	}
	if parsed.Data.Id != "" {
		return parsed.Data.Id, nil
	}
	return "", errors.New("qwen chat create response missing chat id")
}
