package model

// Usage mirrors OpenAI's token accounting. Web-chat vendors rarely report it;
// zeroes are emitted when they don't.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TextResponse is a non-streaming chat.completion object.
type TextResponse struct {
	Id      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []TextResponseChoice   `json:"choices"`
	Usage   `json:"usage"`
}

type TextResponseChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatCompletionsStreamResponse is one chat.completion.chunk record.
type ChatCompletionsStreamResponse struct {
	Id      string                                `json:"id"`
	Object  string                                `json:"object"`
	Created int64                                 `json:"created"`
	Model   string                                `json:"model"`
	Choices []ChatCompletionsStreamResponseChoice `json:"choices"`
	Usage   *Usage                                `json:"usage,omitempty"`
}

type ChatCompletionsStreamResponseChoice struct {
	Index        int          `json:"index"`
	Delta        StreamDelta  `json:"delta"`
	FinishReason *string      `json:"finish_reason,omitempty"`
}

type StreamDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
	ToolCalls        []Tool `json:"tool_calls,omitempty"`
}

const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
)

// ObjectChatCompletionChunk is the object field of streaming records.
const ObjectChatCompletionChunk = "chat.completion.chunk"

// ObjectChatCompletion is the object field of non-streaming responses.
const ObjectChatCompletion = "chat.completion"
