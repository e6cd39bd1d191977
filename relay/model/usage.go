package model

import "unicode/utf8"

// EstimateUsage approximates token accounting from character counts. The
// web-chat vendors never report usage, so a rough four-chars-per-token
// heuristic keeps the field populated for clients that read it.
func EstimateUsage(prompt, completion string) *Usage {
	promptTokens := (utf8.RuneCountInString(prompt) + 3) / 4
	completionTokens := (utf8.RuneCountInString(completion) + 3) / 4
	return &Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
