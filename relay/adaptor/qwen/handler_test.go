package qwen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

func TestQwenStateSuffixDiffing(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	state := &qwenState{emit: func(text string) error {
		out.WriteString(text)
		return nil
	}}

	require.NoError(t, state.apply(chatEvent{
		SessionId: "S1",
		Contents:  []eventContent{{Content: "he", ContentType: "text/plain"}},
	}))
	require.NoError(t, state.apply(chatEvent{
		Contents: []eventContent{{Content: "hello", ContentType: "text/plain"}},
	}))
	// A shorter or equal resend emits nothing.
	require.NoError(t, state.apply(chatEvent{
		Contents: []eventContent{{Content: "hello", ContentType: "text/plain"}},
	}))

	require.Equal(t, "hello", out.String())
	require.Equal(t, "S1", state.sessionId)
	require.False(t, state.done)
}

func TestQwenStateIframeTerminal(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	state := &qwenState{emit: func(text string) error {
		out.WriteString(text)
		return nil
	}}

	require.NoError(t, state.apply(chatEvent{
		Contents: []eventContent{{Content: "done text", ContentType: "multi_load/iframe", Status: "finished"}},
	}))
	require.True(t, state.done)
	require.Equal(t, "done text", out.String())
}

func TestConsumeCompleteEvent(t *testing.T) {
	t.Parallel()

	stream := "event: message\n" +
		`data: {"sessionId":"S9","contents":[{"content":"partial","contentType":"text/plain"}]}` + "\n\n" +
		"event: complete\n" +
		`data: {"contents":[{"content":"partial answer","contentType":"text/plain"}]}` + "\n\n" +
		"event: message\n" +
		`data: {"contents":[{"content":"should never emit","contentType":"text/plain"}]}` + "\n\n"

	var out strings.Builder
	state := &qwenState{emit: func(text string) error {
		out.WriteString(text)
		return nil
	}}

	require.NoError(t, consume(nil, strings.NewReader(stream), state))
	require.True(t, state.done)
	require.Equal(t, "partial answer", out.String())
	require.Equal(t, "S9", state.sessionId)
}

func TestRenderText(t *testing.T) {
	t.Parallel()

	// Single user turn gets the system prefix treatment.
	text := renderText([]relaymodel.Message{
		{Role: "system", Content: "be kind"},
		{Role: "user", Content: "hi"},
	})
	require.Equal(t, "be kind\n\nUser: hi", text)

	// Multi-turn histories flatten with role prefixes.
	text = renderText([]relaymodel.Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
	})
	require.Contains(t, text, "User: a")
	require.Contains(t, text, "Assistant: b")
	require.True(t, strings.HasSuffix(text, "Assistant: "))
}
