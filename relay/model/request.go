package model

// GeneralOpenAIRequest is the inbound /v1/chat/completions payload, including
// the gateway extensions web_search, reasoning_effort and deep_research.
type GeneralOpenAIRequest struct {
	Model            string         `json:"model"`
	Messages         []Message      `json:"messages"`
	Stream           bool           `json:"stream,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	N                *int           `json:"n,omitempty"`
	Stop             any            `json:"stop,omitempty"`
	MaxTokens        int            `json:"max_tokens,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]any `json:"logit_bias,omitempty"`
	User             string         `json:"user,omitempty"`
	Tools            []Tool         `json:"tools,omitempty"`
	ToolChoice       any            `json:"tool_choice,omitempty"`

	WebSearch       *bool   `json:"web_search,omitempty"`
	ReasoningEffort *string `json:"reasoning_effort,omitempty"`
	DeepResearch    *bool   `json:"deep_research,omitempty"`
}

// WantsWebSearch resolves the explicit flag first and only falls back to
// model-name hints when the flag is absent.
func (r *GeneralOpenAIRequest) WantsWebSearch(modelHint bool) bool {
	if r.WebSearch != nil {
		return *r.WebSearch
	}
	return modelHint
}

// WantsThinking resolves reasoning_effort first, model-name hints second.
func (r *GeneralOpenAIRequest) WantsThinking(modelHint bool) bool {
	if r.ReasoningEffort != nil {
		return *r.ReasoningEffort != ""
	}
	return modelHint
}
