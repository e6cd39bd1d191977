package kimi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

func buildJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func TestIsAccessJWT(t *testing.T) {
	t.Parallel()

	require.True(t, isAccessJWT(buildJWT(t, map[string]any{"app_id": "kimi", "typ": "access"})))
	require.False(t, isAccessJWT(buildJWT(t, map[string]any{"app_id": "kimi", "typ": "refresh"})))
	require.False(t, isAccessJWT(buildJWT(t, map[string]any{"app_id": "other", "typ": "access"})))
	require.False(t, isAccessJWT("plain-refresh-token"))
}

func TestRenderContentSystemAndFocusNote(t *testing.T) {
	t.Parallel()

	out := renderContent([]relaymodel.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "second question"},
	})

	require.True(t, strings.HasPrefix(out, "system:be brief\n\n"))
	require.Contains(t, out, "User: first question")
	require.Contains(t, out, "Assistant: first answer")

	noteIdx := strings.Index(out, "system:Focus on the latest user message.")
	lastIdx := strings.Index(out, "User: second question")
	require.Greater(t, noteIdx, 0)
	require.Greater(t, lastIdx, noteIdx)
}

func TestRenderContentWrapsURLs(t *testing.T) {
	t.Parallel()

	out := renderContent([]relaymodel.Message{
		{Role: "user", Content: "summarize https://example.com/post please"},
	})
	require.Contains(t, out, `<url url="https://example.com/post">https://example.com/post</url>`)
}

func TestKimiStateSetAndAppendOps(t *testing.T) {
	t.Parallel()

	var content strings.Builder
	state := &kimiState{
		emitContent:   func(text string) error { content.WriteString(text); return nil },
		emitReasoning: func(string) error { return nil },
	}

	set := responseFrame{Op: "set"}
	set.Block.Text.Content = "hel"
	require.NoError(t, state.apply(set))

	set.Block.Text.Content = "hello"
	require.NoError(t, state.apply(set))

	app := responseFrame{Op: "append"}
	app.Block.Text.Content = " world"
	require.NoError(t, state.apply(app))

	require.Equal(t, "hello world", content.String())
}

func TestKimiStateDoneFrame(t *testing.T) {
	t.Parallel()

	state := &kimiState{
		emitContent:   func(string) error { return nil },
		emitReasoning: func(string) error { return nil },
	}
	require.NoError(t, state.apply(responseFrame{Done: json.RawMessage(`{}`)}))
	require.True(t, state.done)
}

func TestConsumeTrailerError(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	stream.Write(encodeFrame(frameFlagData, []byte(`{"op":"append","block":{"text":{"content":"hi"}}}`)))
	stream.Write(encodeFrame(frameFlagTrailer, []byte(`{"error":{"code":"internal","message":"boom"}}`)))

	state := &kimiState{
		emitContent:   func(string) error { return nil },
		emitReasoning: func(string) error { return nil },
	}
	err := consume(nil, &stream, state)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}
