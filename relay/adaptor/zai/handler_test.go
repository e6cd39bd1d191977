package zai

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

func TestZaiStatePhases(t *testing.T) {
	t.Parallel()

	var content, reasoning strings.Builder
	state := &zaiState{
		emitContent:   func(text string) error { content.WriteString(text); return nil },
		emitReasoning: func(text string) error { reasoning.WriteString(text); return nil },
	}

	var thinking event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"chat:completion","data":{"phase":"thinking","delta_content":"mulling"}}`), &thinking))
	require.NoError(t, state.apply(thinking))

	var answer event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"chat:completion","data":{"phase":"answer","delta_content":"sure"}}`), &answer))
	require.NoError(t, state.apply(answer))

	var done event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"chat:completion","data":{"phase":"done","usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}}`), &done))
	require.NoError(t, state.apply(done))

	require.True(t, state.done)
	require.Equal(t, "mulling", reasoning.String())
	require.Equal(t, "sure", content.String())
	require.NotNil(t, state.usage)
	require.Equal(t, 8, state.usage.TotalTokens)
}

func TestZaiStateErrorTerminates(t *testing.T) {
	t.Parallel()

	state := &zaiState{
		emitContent:   func(string) error { return nil },
		emitReasoning: func(string) error { return nil },
	}

	var ev event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"chat:completion","data":{"error":{"message":"quota exhausted"}}}`), &ev))
	err := state.apply(ev)
	require.Error(t, err)
	require.Contains(t, err.Error(), "quota exhausted")
}

func TestExtractUserID(t *testing.T) {
	t.Parallel()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"id":"user-77"}`))
	require.Equal(t, "user-77", extractUserID(header+"."+payload+".sig"))

	payload = base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"subject-1"}`))
	require.Equal(t, "subject-1", extractUserID(header+"."+payload+".sig"))

	require.Empty(t, extractUserID("not-a-jwt"))
}

func TestLiftedMessagesSystemPrepend(t *testing.T) {
	t.Parallel()

	wire := liftedMessages([]relaymodel.Message{
		{Role: "system", Content: "answer in french"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "bonjour"},
		{Role: "user", Content: "thanks"},
	})

	require.Len(t, wire, 3)
	require.Equal(t, "answer in french\n\nUser: hello", wire[0].Content)
	require.Equal(t, "bonjour", wire[1].Content)
	require.Equal(t, "thanks", wire[2].Content)
}

func TestLiftedMessagesToolHistory(t *testing.T) {
	t.Parallel()

	wire := liftedMessages([]relaymodel.Message{
		{Role: "user", Content: "search go releases"},
		{Role: "assistant", ToolCalls: []relaymodel.Tool{{
			Id:       "call_9",
			Type:     "function",
			Function: &relaymodel.Function{Name: "search", Arguments: `{"q":"go"}`},
		}}},
		{Role: "tool", ToolCallId: "call_9", Content: "go 1.25 released"},
	})

	require.Len(t, wire, 3)
	require.Contains(t, wire[1].Content, "[call:search]{\"q\":\"go\"}[/call]")
	require.Equal(t, "user", wire[2].Role)
	require.Contains(t, wire[2].Content, "[TOOL_RESULT for call_9] go 1.25 released")
}
