package deepseek

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xiaoY233/chat2api/model"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

func TestRecognizes(t *testing.T) {
	t.Parallel()

	a := &Adaptor{}
	require.True(t, a.Recognizes(&model.Provider{Id: "deepseek"}))
	require.True(t, a.Recognizes(&model.Provider{Id: "custom-1", BaseURL: "https://chat.deepseek.com"}))
	require.False(t, a.Recognizes(&model.Provider{Id: "glm", BaseURL: "https://chatglm.cn"}))
}

func TestRenderPromptMergesAndWraps(t *testing.T) {
	t.Parallel()

	out := renderPrompt([]relaymodel.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "first"},
		{Role: "user", Content: "second"},
	})

	require.Equal(t,
		"be terse\nhi<｜Assistant｜>hello<｜end▁of▁sentence｜><｜User｜>first\nsecond",
		out)
}

func TestRenderPromptToolTurns(t *testing.T) {
	t.Parallel()

	out := renderPrompt([]relaymodel.Message{
		{Role: "user", Content: "weather?"},
		{Role: "assistant", ToolCalls: []relaymodel.Tool{{
			Id:   "call_1",
			Type: "function",
			Function: &relaymodel.Function{
				Name:      "get_weather",
				Arguments: `{"city":"sf"}`,
			},
		}}},
		{Role: "tool", ToolCallId: "call_1", Content: "sunny"},
	})

	require.Contains(t, out, "[function_calls][call:get_weather]{\"city\":\"sf\"}[/call][/function_calls]")
	require.Contains(t, out, "<｜User｜>[TOOL_RESULT for call_1] sunny")
}

func TestConvertRequestThinkingAndSearchHints(t *testing.T) {
	t.Parallel()

	hintOn := true
	cases := []struct {
		model     string
		request   relaymodel.GeneralOpenAIRequest
		thinking  bool
		searching bool
	}{
		{model: "deepseek-chat", thinking: false, searching: false},
		{model: "deepseek-r1", thinking: true, searching: false},
		{model: "deepseek-chat-search", thinking: false, searching: true},
		{
			model:     "deepseek-chat",
			request:   relaymodel.GeneralOpenAIRequest{WebSearch: &hintOn},
			searching: true,
		},
	}
	for _, tc := range cases {
		hint := strings.ToLower(tc.model)
		thinking := tc.request.WantsThinking(strings.Contains(hint, "r1") || strings.Contains(hint, "think"))
		searching := tc.request.WantsWebSearch(strings.Contains(hint, "search"))
		require.Equal(t, tc.thinking, thinking, tc.model)
		require.Equal(t, tc.searching, searching, tc.model)
	}
}
