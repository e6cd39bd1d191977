package streaming

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common/helper"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
	"github.com/xiaoY233/chat2api/relay/toolcall"
)

// WriteNonStreamResponse runs the tool-call parser once over the accumulated
// text and writes a single chat.completion object, mirroring OpenAI's
// non-stream semantics.
func WriteNonStreamResponse(c *gin.Context, modelName, text, reasoning string, usage *relaymodel.Usage) {
	message := toolcall.BuildMessage(text)
	if reasoning != "" {
		message.ReasoningContent = reasoning
	}

	finishReason := relaymodel.FinishReasonStop
	if len(message.ToolCalls) > 0 {
		finishReason = relaymodel.FinishReasonToolCalls
	}

	if usage == nil {
		usage = &relaymodel.Usage{}
	}

	c.JSON(http.StatusOK, relaymodel.TextResponse{
		Id:      helper.GenChatCompletionID(),
		Object:  relaymodel.ObjectChatCompletion,
		Created: helper.GetTimestamp(),
		Model:   modelName,
		Usage:   *usage,
		Choices: []relaymodel.TextResponseChoice{{
			Index:        0,
			Message:      message,
			FinishReason: finishReason,
		}},
	})
}
