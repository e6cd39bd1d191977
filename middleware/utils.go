package middleware

import (
	"github.com/gin-gonic/gin"

	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

// abortWithError terminates the request with an OpenAI-shaped error envelope.
func abortWithError(c *gin.Context, status int, errType relaymodel.ErrorType, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": relaymodel.Error{
			Message: message,
			Type:    errType,
			Code:    code,
		},
	})
}
