package qwenai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeChunk(phase, status, content, summary string) chunk {
	var ck chunk
	ck.Choices = make([]struct {
		Delta struct {
			Phase   string `json:"phase"`
			Status  string `json:"status"`
			Content string `json:"content"`
			Extra   struct {
				SummaryThought struct {
					Content string `json:"content"`
				} `json:"summary_thought"`
			} `json:"extra"`
		} `json:"delta"`
	}, 1)
	ck.Choices[0].Delta.Phase = phase
	ck.Choices[0].Delta.Status = status
	ck.Choices[0].Delta.Content = content
	ck.Choices[0].Delta.Extra.SummaryThought.Content = summary
	return ck
}

func TestThinkFlushedOnFirstAnswerChunk(t *testing.T) {
	t.Parallel()

	var content, reasoning strings.Builder
	var order []string
	state := &qwenaiState{
		emitContent: func(text string) error {
			order = append(order, "content")
			content.WriteString(text)
			return nil
		},
		emitReasoning: func(text string) error {
			order = append(order, "reasoning")
			reasoning.WriteString(text)
			return nil
		},
	}

	require.NoError(t, state.apply(makeChunk("think", "", "step one. ", "")))
	require.NoError(t, state.apply(makeChunk("think", "", "step two.", "")))
	require.Empty(t, order, "think phase must not emit")

	require.NoError(t, state.apply(makeChunk("answer", "", "the answer", "")))
	require.NoError(t, state.apply(makeChunk("answer", "finished", "", "")))
	require.True(t, state.done)
	require.NoError(t, state.finish())

	require.Equal(t, []string{"reasoning", "content"}, order)
	require.Equal(t, "step one. step two.", reasoning.String())
	require.Equal(t, "the answer", content.String())
}

func TestSummaryPreferredOverRawThink(t *testing.T) {
	t.Parallel()

	var reasoning strings.Builder
	state := &qwenaiState{
		emitContent:   func(string) error { return nil },
		emitReasoning: func(text string) error { reasoning.WriteString(text); return nil },
	}

	require.NoError(t, state.apply(makeChunk("think", "", "raw deliberation", "")))
	require.NoError(t, state.apply(makeChunk("thinking_summary", "", "", "clean summary")))
	require.NoError(t, state.apply(makeChunk("answer", "", "ok", "")))

	require.Equal(t, "clean summary", reasoning.String())
}

func TestFinishFlushesReasoningWithoutAnswer(t *testing.T) {
	t.Parallel()

	var reasoning strings.Builder
	state := &qwenaiState{
		emitContent:   func(string) error { return nil },
		emitReasoning: func(text string) error { reasoning.WriteString(text); return nil },
	}

	require.NoError(t, state.apply(makeChunk("think", "", "only thoughts", "")))
	require.NoError(t, state.apply(makeChunk("", "finished", "", "")))
	require.True(t, state.done)
	require.NoError(t, state.finish())
	require.Equal(t, "only thoughts", reasoning.String())
}

func TestConsumeStopsAtFinished(t *testing.T) {
	t.Parallel()

	stream := `data: {"choices":[{"delta":{"phase":"answer","content":"hi"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"phase":"answer","status":"finished"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"phase":"answer","content":"never"}}]}` + "\n\n"

	var content strings.Builder
	state := &qwenaiState{
		emitContent:   func(text string) error { content.WriteString(text); return nil },
		emitReasoning: func(string) error { return nil },
	}
	require.NoError(t, consume(nil, strings.NewReader(stream), state))
	require.Equal(t, "hi", content.String())
}
