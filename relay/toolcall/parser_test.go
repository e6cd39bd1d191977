package toolcall

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNoBlock(t *testing.T) {
	t.Parallel()

	cleaned, calls := Parse("just a plain answer")
	require.Equal(t, "just a plain answer", cleaned)
	require.Empty(t, calls)
}

func TestParseMultipleCalls(t *testing.T) {
	t.Parallel()

	cleaned, calls := Parse(`intro [function_calls][call:a]{"x":1}[/call][call:b]{"y":2}[/call][/function_calls]trailing noise`)
	require.Equal(t, "intro ", cleaned)
	require.Len(t, calls, 2)
	require.Equal(t, "a", calls[0].Function.Name)
	require.Equal(t, `{"x":1}`, calls[0].Function.Arguments)
	require.Equal(t, "b", calls[1].Function.Name)
	require.Equal(t, 1, *calls[1].Index)
}

func TestParseArgumentsKeptVerbatim(t *testing.T) {
	t.Parallel()

	// Key order and spacing inside the JSON must survive untouched.
	raw := `{"b": 2, "a": 1, "nested": {"z": true}}`
	_, calls := Parse(`[function_calls][call:keep]` + raw + `[/call][/function_calls]`)
	require.Len(t, calls, 1)
	require.Equal(t, raw, calls[0].Function.Arguments)
}

func TestBuildMessageWithCalls(t *testing.T) {
	t.Parallel()

	message := BuildMessage(`done [function_calls][call:f]{"k":"v"}[/call][/function_calls]`)
	require.Equal(t, "assistant", message.Role)
	require.Nil(t, message.Content)
	require.Len(t, message.ToolCalls, 1)
	require.Nil(t, message.ToolCalls[0].Index)
}

func TestBuildMessagePlain(t *testing.T) {
	t.Parallel()

	message := BuildMessage("nothing special")
	require.Equal(t, "nothing special", message.Content)
	require.Empty(t, message.ToolCalls)
}

func TestBuildMessageXMLFallback(t *testing.T) {
	t.Parallel()

	message := BuildMessage(`pre <tool_use><name>search</name><arguments>{"q":"x"}</arguments></tool_use> post`)
	require.Nil(t, message.Content)
	require.Len(t, message.ToolCalls, 1)
	require.Equal(t, "search", message.ToolCalls[0].Function.Name)
}

func TestParseXMLToolUse(t *testing.T) {
	t.Parallel()

	cleaned, calls := ParseXMLToolUse(`a <tool_use><name>one</name><arguments>{"n":1}</arguments></tool_use> b <tool_use><name>two</name></tool_use> c`)
	require.Equal(t, "a  b  c", cleaned)
	require.Len(t, calls, 2)
	require.Equal(t, `{"n":1}`, calls[0].Function.Arguments)
	require.Equal(t, "{}", calls[1].Function.Arguments)
}

func TestParseXMLToolUseMissingName(t *testing.T) {
	t.Parallel()

	cleaned, calls := ParseXMLToolUse(`<tool_use><arguments>{}</arguments></tool_use>rest`)
	require.Equal(t, "rest", cleaned)
	require.Empty(t, calls)
}
