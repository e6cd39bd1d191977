package toolcall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

type sink struct {
	content strings.Builder
	calls   []relaymodel.Tool
}

func newSinkedInterceptor() (*Interceptor, *sink) {
	s := &sink{}
	i := NewInterceptor(
		func(content string) error { s.content.WriteString(content); return nil },
		func(call relaymodel.Tool) error { s.calls = append(s.calls, call); return nil },
	)
	return i, s
}

func TestInterceptorPlainTextPassthrough(t *testing.T) {
	t.Parallel()

	i, s := newSinkedInterceptor()
	require.NoError(t, i.Feed("hello "))
	require.NoError(t, i.Feed("world"))
	require.NoError(t, i.Finish())

	require.Equal(t, "hello world", s.content.String())
	require.Empty(t, s.calls)
	require.Equal(t, relaymodel.FinishReasonStop, i.FinishReason())
}

func TestInterceptorSingleCall(t *testing.T) {
	t.Parallel()

	i, s := newSinkedInterceptor()
	require.NoError(t, i.Feed(`Let me check.[function_calls][call:get_weather]{"city":"Paris"}[/call][/function_calls]ignored trailer`))
	require.NoError(t, i.Finish())

	require.Equal(t, "Let me check.", s.content.String())
	require.Len(t, s.calls, 1)
	require.Equal(t, "get_weather", s.calls[0].Function.Name)
	require.Equal(t, `{"city":"Paris"}`, s.calls[0].Function.Arguments)
	require.Equal(t, 0, *s.calls[0].Index)
	require.Equal(t, relaymodel.FinishReasonToolCalls, i.FinishReason())
}

func TestInterceptorEveryCutPoint(t *testing.T) {
	t.Parallel()

	const text = `before [function_calls][call:search]{"q":"go releases"}[/call][call:fetch]{"url":"https://go.dev"}[/call][/function_calls]`

	for cut := 1; cut < len(text); cut++ {
		i, s := newSinkedInterceptor()
		require.NoError(t, i.Feed(text[:cut]))
		require.NoError(t, i.Feed(text[cut:]))
		require.NoError(t, i.Finish())

		require.Equal(t, "before ", s.content.String(), "cut at %d", cut)
		require.Len(t, s.calls, 2, "cut at %d", cut)
		require.Equal(t, "search", s.calls[0].Function.Name)
		require.Equal(t, `{"q":"go releases"}`, s.calls[0].Function.Arguments)
		require.Equal(t, "fetch", s.calls[1].Function.Name)
		require.Equal(t, `{"url":"https://go.dev"}`, s.calls[1].Function.Arguments)
	}
}

func TestInterceptorStreamingMatchesParse(t *testing.T) {
	t.Parallel()

	const text = `answer text [function_calls][call:lookup]{"id":7}[/call][/function_calls]`

	i, s := newSinkedInterceptor()
	for _, r := range text {
		require.NoError(t, i.Feed(string(r)))
	}
	require.NoError(t, i.Finish())

	cleaned, calls := Parse(text)
	require.Equal(t, cleaned, s.content.String())
	require.Len(t, s.calls, len(calls))
	for n := range calls {
		require.Equal(t, calls[n].Function.Name, s.calls[n].Function.Name)
		require.Equal(t, calls[n].Function.Arguments, s.calls[n].Function.Arguments)
	}
}

func TestInterceptorFalsePositiveCapFlush(t *testing.T) {
	t.Parallel()

	i, s := newSinkedInterceptor()
	require.NoError(t, i.Feed(openMarker))

	// No call ever forms inside the block; once the cap is crossed the whole
	// withheld run must come back out as content, marker included.
	filler := strings.Repeat("x", maxBufferBytes+1)
	require.NoError(t, i.Feed(filler))
	require.NoError(t, i.Finish())

	require.Empty(t, s.calls)
	require.Equal(t, openMarker+filler, s.content.String())

	// Buffering stays off for the rest of the stream.
	require.NoError(t, i.Feed(openMarker))
	require.Contains(t, s.content.String(), openMarker+filler+openMarker)
}

func TestInterceptorContentAfterCallIsDropped(t *testing.T) {
	t.Parallel()

	i, s := newSinkedInterceptor()
	require.NoError(t, i.Feed(`[function_calls][call:a]{}[/call][/function_calls]`))
	require.NoError(t, i.Feed("stray text after the block"))
	require.NoError(t, i.Finish())

	require.Len(t, s.calls, 1)
	require.Empty(t, s.content.String())
}

func TestInterceptorPartialMarkerAtFinish(t *testing.T) {
	t.Parallel()

	i, s := newSinkedInterceptor()
	require.NoError(t, i.Feed("tail [function_ca"))
	require.NoError(t, i.Finish())

	require.Equal(t, "tail [function_ca", s.content.String())
	require.Empty(t, s.calls)
}

func TestInterceptorUnterminatedBlockAtFinish(t *testing.T) {
	t.Parallel()

	i, s := newSinkedInterceptor()
	require.NoError(t, i.Feed(`[function_calls][call:late]{"k":1}[/call]`))
	require.NoError(t, i.Finish())

	// The close marker never arrived but the call itself is complete.
	require.Len(t, s.calls, 1)
	require.Equal(t, "late", s.calls[0].Function.Name)
	require.Equal(t, `{"k":1}`, s.calls[0].Function.Arguments)
}
