package model

import "encoding/json"

// Message is one OpenAI chat turn. Content is string, nil, or a part array.
type Message struct {
	Role             string  `json:"role,omitempty"`
	Content          any     `json:"content,omitempty"`
	ReasoningContent string  `json:"reasoning_content,omitempty"`
	Name             *string `json:"name,omitempty"`
	ToolCalls        []Tool  `json:"tool_calls,omitempty"`
	ToolCallId       string  `json:"tool_call_id,omitempty"`
}

// MessageContentPart is one element of an array-form message content.
type MessageContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *MessageImage `json:"image_url,omitempty"`
	File     *MessageFile  `json:"file,omitempty"`
}

type MessageImage struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type MessageFile struct {
	FileData string `json:"file_data,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// StringContent flattens the message content to plain text. Array parts keep
// only their text items.
func (m Message) StringContent() string {
	if content, ok := m.Content.(string); ok {
		return content
	}
	contentList, ok := m.Content.([]any)
	if !ok {
		return ""
	}

	var contentStr string
	for _, contentItem := range contentList {
		contentMap, ok := contentItem.(map[string]any)
		if !ok {
			continue
		}
		if contentMap["type"] == "text" {
			if subStr, ok := contentMap["text"].(string); ok {
				contentStr += subStr
			}
		}
	}
	return contentStr
}

// ParseContent normalizes the message content into typed parts regardless of
// whether the caller sent a bare string or an array.
func (m Message) ParseContent() []MessageContentPart {
	if content, ok := m.Content.(string); ok {
		return []MessageContentPart{{Type: "text", Text: content}}
	}

	anyList, ok := m.Content.([]any)
	if !ok {
		return nil
	}

	var parts []MessageContentPart
	for _, item := range anyList {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var part MessageContentPart
		if err := json.Unmarshal(raw, &part); err != nil {
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

// HasMediaContent reports whether the message carries image or file parts.
func (m Message) HasMediaContent() bool {
	for _, part := range m.ParseContent() {
		if part.Type == "image_url" || part.Type == "file" {
			return true
		}
	}
	return false
}
