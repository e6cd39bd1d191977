package toolcall

import (
	"strings"

	"github.com/xiaoY233/chat2api/common/helper"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

// Parse runs the bracketed-grammar parser over fully-accumulated text. It
// returns the cleaned content (text preceding the first tool block; trailing
// text after the block is noise) and the parsed calls. Feeding a stream's
// concatenated deltas here yields the same result as the streaming emission.
func Parse(text string) (cleaned string, calls []relaymodel.Tool) {
	idx := strings.Index(text, openMarker)
	if idx < 0 {
		return text, nil
	}

	cleaned = text[:idx]
	block := text[idx+len(openMarker):]
	if closeIdx := strings.Index(block, closeMarker); closeIdx >= 0 {
		block = block[:closeIdx]
	}

	for {
		start := strings.Index(block, callOpen)
		if start < 0 {
			break
		}
		nameEnd := strings.Index(block[start+len(callOpen):], "]")
		if nameEnd < 0 {
			break
		}
		argsStart := start + len(callOpen) + nameEnd + 1
		end := strings.Index(block[argsStart:], callClose)
		if end < 0 {
			break
		}

		index := len(calls)
		calls = append(calls, relaymodel.Tool{
			Id:    helper.GenToolCallID(),
			Type:  "function",
			Index: &index,
			Function: &relaymodel.Function{
				Name:      block[start+len(callOpen) : argsStart-1],
				Arguments: strings.TrimSpace(block[argsStart : argsStart+end]),
			},
		})
		block = block[argsStart+end+len(callClose):]
	}

	return cleaned, calls
}

// BuildMessage mirrors OpenAI's non-stream semantics: a message either carries
// cleaned content or null content with tool_calls.
func BuildMessage(text string) relaymodel.Message {
	cleaned, calls := Parse(text)
	if len(calls) == 0 {
		cleaned, calls = ParseXMLToolUse(text)
	}
	if len(calls) > 0 {
		// Non-stream tool calls omit the streaming index field.
		for i := range calls {
			calls[i].Index = nil
		}
		return relaymodel.Message{Role: "assistant", Content: nil, ToolCalls: calls}
	}
	return relaymodel.Message{Role: "assistant", Content: cleaned}
}
