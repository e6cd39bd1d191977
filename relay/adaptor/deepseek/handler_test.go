package deepseek

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewriteCitations(t *testing.T) {
	t.Parallel()

	cited := map[int]bool{}
	emit, hold := rewriteCitations("per docs [citation:3] and [citation:12].", cited)
	require.Equal(t, "per docs [3] and [12].", emit)
	require.Empty(t, hold)
	require.True(t, cited[3])
	require.True(t, cited[12])
}

func TestRewriteCitationsHoldsPartialMarker(t *testing.T) {
	t.Parallel()

	cited := map[int]bool{}
	emit, hold := rewriteCitations("see [cita", cited)
	require.Equal(t, "see ", emit)
	require.Equal(t, "[cita", hold)

	emit, hold = rewriteCitations(hold+"tion:7] done", cited)
	require.Equal(t, "[7] done", emit)
	require.Empty(t, hold)
	require.True(t, cited[7])
}

func TestRewriteCitationsHoldsDigitsAwaitingBracket(t *testing.T) {
	t.Parallel()

	cited := map[int]bool{}
	emit, hold := rewriteCitations("x [citation:12", cited)
	require.Equal(t, "x ", emit)
	require.Equal(t, "[citation:12", hold)

	emit, hold = rewriteCitations(hold+"]", cited)
	require.Equal(t, "[12]", emit)
	require.Empty(t, hold)
}

func TestRewriteCitationsLeavesPlainBrackets(t *testing.T) {
	t.Parallel()

	cited := map[int]bool{}
	emit, hold := rewriteCitations("array[0] and [note] stay", cited)
	require.Equal(t, "array[0] and [note] stay", emit)
	require.Empty(t, hold)
	require.Empty(t, cited)
}

func TestStreamStateMergesCitationsIntoFooter(t *testing.T) {
	t.Parallel()

	var content strings.Builder
	state := newStreamState("deepseek-v3",
		func(text string) error { content.WriteString(text); return nil },
		func(string) error { return nil },
	)

	require.NoError(t, state.apply(frame{P: "response/search_results", V: []byte(`[{"url":"https://a","title":"A"},{"url":"https://b","title":"B"}]`)}))
	require.NoError(t, state.apply(frame{P: "response/content", V: []byte(`"answer [citation:2] end"`)}))
	require.NoError(t, state.finish())

	out := content.String()
	require.Contains(t, out, "answer [2] end")
	require.Contains(t, out, "[2]: [B](https://b)")
	require.NotContains(t, out, "citation")
}

func TestStreamStateStripsFinished(t *testing.T) {
	t.Parallel()

	var content strings.Builder
	state := newStreamState("deepseek-v3",
		func(text string) error { content.WriteString(text); return nil },
		func(string) error { return nil },
	)

	require.NoError(t, state.apply(frame{P: "response/content", V: []byte(`"hello"`)}))
	require.NoError(t, state.apply(frame{P: "", V: []byte(`"FINISHED"`)}))
	require.NoError(t, state.finish())
	require.Equal(t, "hello", content.String())
}

func TestStreamStateThinkingModes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		model         string
		wantContent   string
		wantReasoning string
	}{
		{"deepseek-r1", "", "pondering"},
		{"deepseek-r1-silent", "", ""},
		{"deepseek-r1-fold", "pondering", ""},
	}
	for _, tc := range cases {
		var content, reasoning strings.Builder
		state := newStreamState(tc.model,
			func(text string) error { content.WriteString(text); return nil },
			func(text string) error { reasoning.WriteString(text); return nil },
		)
		require.NoError(t, state.apply(frame{P: "response/thinking_content", V: []byte(`"pondering"`)}))
		require.NoError(t, state.finish())
		require.Equal(t, tc.wantContent, content.String(), tc.model)
		require.Equal(t, tc.wantReasoning, reasoning.String(), tc.model)
	}
}

func TestStreamStateBatchFrames(t *testing.T) {
	t.Parallel()

	var content strings.Builder
	state := newStreamState("deepseek-v3",
		func(text string) error { content.WriteString(text); return nil },
		func(string) error { return nil },
	)

	batch := `[{"p":"response/content","v":"he"},{"v":"llo"}]`
	require.NoError(t, state.apply(frame{O: "BATCH", V: []byte(batch)}))
	require.NoError(t, state.finish())
	require.Equal(t, "hello", content.String())
}
