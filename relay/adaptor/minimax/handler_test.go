package minimax

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/relay/meta"
)

func TestParseSendMsg(t *testing.T) {
	t.Parallel()

	chatID, err := parseSendMsg([]byte(`{"data":{"chatID":"C1"},"base_resp":{"status_code":0}}`))
	require.NoError(t, err)
	require.Equal(t, "C1", chatID)

	chatID, err = parseSendMsg([]byte(`{"data":{"chat_id":"C2"},"base_resp":{"status_code":0}}`))
	require.NoError(t, err)
	require.Equal(t, "C2", chatID)

	_, err = parseSendMsg([]byte(`{"data":{},"base_resp":{"status_code":1004,"status_msg":"login required"}}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "login required")

	_, err = parseSendMsg([]byte(`{"data":{},"base_resp":{"status_code":0}}`))
	require.Error(t, err)
}

func TestParseChatDetailCasings(t *testing.T) {
	t.Parallel()

	detail, err := parseChatDetail([]byte(`{"data":{"message_list":[
		{"msg_type":1,"msg_content":"question"},
		{"msg_type":2,"msg_content":"answer","is_end":0}]}}`))
	require.NoError(t, err)
	require.Equal(t, "answer", detail.content)
	require.NotNil(t, detail.isEnd)
	require.Equal(t, 0, *detail.isEnd)

	detail, err = parseChatDetail([]byte(`{"data":{"messages":[
		{"msgType":2,"msgContent":"camel"}]}}`))
	require.NoError(t, err)
	require.Equal(t, "camel", detail.content)
	require.Nil(t, detail.isEnd)
}

func TestPollLoopEmitsSuffixDeltas(t *testing.T) {
	client.Init()

	contents := []string{"he", "hell", "hello", "hello", "hello", "hello", "hello"}
	var polls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/api/user/device/register"):
			fmt.Fprint(w, `{"data":{"deviceIDStr":"D1","realUserID":"U1"}}`)
		case strings.HasPrefix(r.URL.Path, chatDetailPath):
			n := atomic.AddInt32(&polls, 1)
			idx := int(n) - 1
			if idx >= len(contents) {
				idx = len(contents) - 1
			}
			payload := map[string]any{"data": map[string]any{"message_list": []any{
				map[string]any{"msg_type": 2, "msg_content": contents[idx]},
			}}}
			require.NoError(t, json.NewEncoder(w).Encode(payload))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	m := &meta.Meta{
		BaseURL:     srv.URL,
		Credentials: map[string]string{"token": "poll-test-token", "real_user_id": "U1"},
	}

	var deltas []string
	err := pollLoop(c, m, "C", time.Millisecond, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"he", "ll", "o"}, deltas)
}

func TestPollLoopStopsOnExplicitEnd(t *testing.T) {
	client.Init()

	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/api/user/device/register"):
			fmt.Fprint(w, `{"data":{"deviceIDStr":"D1","realUserID":"U1"}}`)
		case strings.HasPrefix(r.URL.Path, chatDetailPath):
			atomic.AddInt32(&polls, 1)
			fmt.Fprint(w, `{"data":{"message_list":[{"msg_type":2,"msg_content":"done","is_end":0}]}}`)
		}
	}))
	defer srv.Close()

	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	m := &meta.Meta{
		BaseURL:     srv.URL,
		Credentials: map[string]string{"token": "end-test-token", "real_user_id": "U1"},
	}

	var got strings.Builder
	err := pollLoop(c, m, "C", time.Millisecond, func(delta string) error {
		got.WriteString(delta)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "done", got.String())
	require.Equal(t, int32(1), atomic.LoadInt32(&polls))
}
