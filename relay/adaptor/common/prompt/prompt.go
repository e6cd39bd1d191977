// Package prompt flattens OpenAI message histories into the single-turn text
// shapes the web-chat vendors expect.
package prompt

import (
	"fmt"
	"strings"

	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

// LiftSystem concatenates all system turns and returns them alongside the
// remaining messages.
func LiftSystem(messages []relaymodel.Message) (string, []relaymodel.Message) {
	var system []string
	rest := make([]relaymodel.Message, 0, len(messages))
	for _, message := range messages {
		if message.Role == "system" {
			if text := message.StringContent(); text != "" {
				system = append(system, text)
			}
			continue
		}
		rest = append(rest, message)
	}
	return strings.Join(system, "\n\n"), rest
}

// MergeConsecutive collapses adjacent same-role turns into one, joining their
// text with newlines. DeepSeek rejects repeated roles.
func MergeConsecutive(messages []relaymodel.Message) []relaymodel.Message {
	var merged []relaymodel.Message
	for _, message := range messages {
		if n := len(merged); n > 0 && merged[n-1].Role == message.Role {
			merged[n-1].Content = merged[n-1].StringContent() + "\n" + message.StringContent()
			continue
		}
		merged = append(merged, relaymodel.Message{
			Role:    message.Role,
			Content: message.StringContent(),
		})
	}
	return merged
}

// RenderToolCalls renders an assistant turn's tool calls back into the textual
// wire grammar so vendors see the same block format they emitted.
func RenderToolCalls(calls []relaymodel.Tool) string {
	var b strings.Builder
	b.WriteString("[function_calls]")
	for _, call := range calls {
		if call.Function == nil {
			continue
		}
		b.WriteString("[call:")
		b.WriteString(call.Function.Name)
		b.WriteString("]")
		b.WriteString(call.Function.Arguments)
		b.WriteString("[/call]")
	}
	b.WriteString("[/function_calls]")
	return b.String()
}

// Flatten renders the history as role-prefixed text with a trailing
// "Assistant: " cue. Tool-call turns and tool results are rendered into the
// textual grammar.
func Flatten(messages []relaymodel.Message) string {
	var b strings.Builder
	for _, message := range messages {
		switch message.Role {
		case "system":
			b.WriteString("System: ")
			b.WriteString(message.StringContent())
		case "assistant":
			b.WriteString("Assistant: ")
			if len(message.ToolCalls) > 0 {
				b.WriteString(RenderToolCalls(message.ToolCalls))
				if text := message.StringContent(); text != "" {
					b.WriteString("\n")
					b.WriteString(text)
				}
			} else {
				b.WriteString(message.StringContent())
			}
		case "tool":
			fmt.Fprintf(&b, "[TOOL_RESULT for %s] %s", message.ToolCallId, message.StringContent())
		default:
			b.WriteString("User: ")
			b.WriteString(message.StringContent())
		}
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant: ")
	return b.String()
}

// PrependSystem folds a system prompt into the first user text the way the
// single-prompt vendors expect.
func PrependSystem(system, user string) string {
	if system == "" {
		return user
	}
	return system + "\n\nUser: " + user
}
