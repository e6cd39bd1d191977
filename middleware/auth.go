package middleware

import (
	"net/http"
	"strings"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common/ctxkey"
	"github.com/xiaoY233/chat2api/common/helper"
	"github.com/xiaoY233/chat2api/model"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

// APIKeyAuth gates the /v1 surface behind gateway API keys. The gate is only
// armed when key auth is enabled AND at least one enabled key exists, so a
// fresh install stays usable before any key is minted.
func APIKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !model.GetConfig().EnableApiKey {
			c.Next()
			return
		}
		enabled, err := model.CountEnabledAPIKeys()
		if err != nil {
			gmw.GetLogger(c).Error("count api keys failed", zap.Error(err))
			abortWithError(c, http.StatusInternalServerError,
				relaymodel.ErrorTypeInternalPolicy, "internal_error", "cannot verify api key")
			return
		}
		if enabled == 0 {
			c.Next()
			return
		}

		presented := extractAPIKey(c)
		if presented == "" {
			abortWithError(c, http.StatusUnauthorized,
				relaymodel.ErrorTypeInvalidRequest, "missing_api_key",
				"Missing API key. Pass it via Authorization: Bearer, the api_key query parameter or the X-API-Key header.")
			return
		}

		row, err := model.ValidateAPIKey(presented)
		if err != nil {
			gmw.GetLogger(c).Info("rejected api key",
				zap.String("key", helper.MaskAPIKey(presented)))
			abortWithError(c, http.StatusUnauthorized,
				relaymodel.ErrorTypeInvalidRequest, "invalid_api_key", "Invalid API key")
			return
		}

		c.Set(ctxkey.APIKeyId, row.Id)
		model.TouchAPIKey(row.Id)
		c.Next()
	}
}

// extractAPIKey probes the three places a client may put the gateway key.
func extractAPIKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if key := c.Query("api_key"); key != "" {
		return key
	}
	return c.GetHeader("X-API-Key")
}
