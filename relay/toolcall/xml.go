package toolcall

import (
	"strings"

	"github.com/xiaoY233/chat2api/common/helper"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

const (
	xmlBlockOpen  = "<tool_use>"
	xmlBlockClose = "</tool_use>"
)

// ParseXMLToolUse parses the XML-ish tool form emitted by Z.ai, Qwen and
// Qwen international:
//
//	<tool_use><name>NAME</name><arguments>JSON</arguments></tool_use>
//
// All blocks are removed from the cleaned text.
func ParseXMLToolUse(text string) (cleaned string, calls []relaymodel.Tool) {
	var out strings.Builder
	rest := text
	for {
		start := strings.Index(rest, xmlBlockOpen)
		if start < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], xmlBlockClose)
		if end < 0 {
			out.WriteString(rest)
			break
		}

		out.WriteString(rest[:start])
		block := rest[start+len(xmlBlockOpen) : start+end]
		rest = rest[start+end+len(xmlBlockClose):]

		name := extractTag(block, "name")
		args := extractTag(block, "arguments")
		if name == "" {
			continue
		}
		if args == "" {
			args = "{}"
		}
		index := len(calls)
		calls = append(calls, relaymodel.Tool{
			Id:    helper.GenToolCallID(),
			Type:  "function",
			Index: &index,
			Function: &relaymodel.Function{
				Name:      name,
				Arguments: args,
			},
		})
	}
	return out.String(), calls
}

func extractTag(block, tag string) string {
	open := "<" + tag + ">"
	closing := "</" + tag + ">"
	start := strings.Index(block, open)
	if start < 0 {
		return ""
	}
	end := strings.Index(block[start+len(open):], closing)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(block[start+len(open) : start+len(open)+end])
}
