package controller

import (
	"net/http"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common/config"
	"github.com/xiaoY233/chat2api/common/ctxkey"
	"github.com/xiaoY233/chat2api/model"
	"github.com/xiaoY233/chat2api/monitor"
	rcontroller "github.com/xiaoY233/chat2api/relay/controller"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

// Relay serves POST /v1/chat/completions. The distributor has already bound a
// provider and account to the context; failed attempts are re-tried against
// the same account as long as the failure is retryable and nothing has been
// written to the client yet.
func Relay(c *gin.Context) {
	lg := gmw.GetLogger(c)
	start := time.Now()

	monitor.RequestBegin()
	defer monitor.RequestEnd()

	providerId := ""
	if provider, ok := c.Get(ctxkey.Provider); ok {
		providerId = provider.(*model.Provider).Id
	}
	accountId := 0
	if account, ok := c.Get(ctxkey.Account); ok {
		accountId = account.(*model.Account).Id
	}
	requestId := c.GetString(ctxkey.RequestId)
	modelName := c.GetString(ctxkey.RequestModel)

	retryTimes := model.GetConfig().RetryCount
	if retryTimes < 0 {
		retryTimes = 0
	}

	var bizErr *relaymodel.ErrorWithStatusCode
	for attempt := 0; ; attempt++ {
		var usage *relaymodel.Usage
		usage, bizErr = rcontroller.RelayTextHelper(c)
		if bizErr == nil {
			if err := model.PostDispatch(accountId); err != nil {
				lg.Warn("account post-dispatch bookkeeping failed", zap.Error(err))
			}
			monitor.RecordOutcome(providerId, modelName, accountId, true, time.Since(start).Seconds())
			data := map[string]any{"model": modelName}
			if usage != nil {
				data["total_tokens"] = usage.TotalTokens
			}
			model.RecordLog(model.LogLevelInfo, "chat completed", accountId, providerId, requestId, data)
			return
		}

		if !bizErr.IsRetryable() || attempt >= retryTimes || c.Writer.Written() {
			break
		}
		lg.Info("retrying relay attempt",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", retryTimes),
			zap.Int("status", bizErr.StatusCode),
			zap.String("error_type", string(bizErr.Type)))
		time.Sleep(config.RetryInterval)
	}

	monitor.RecordOutcome(providerId, modelName, accountId, false, time.Since(start).Seconds())
	model.RecordLog(model.LogLevelError, "chat failed: "+bizErr.Message, accountId, providerId, requestId, map[string]any{
		"model":      modelName,
		"status":     bizErr.StatusCode,
		"error_type": string(bizErr.Type),
	})

	switch bizErr.Type {
	case relaymodel.ErrorTypeAuthExpired:
		// Park the account so the selector stops handing it out until the
		// operator re-validates the credential.
		if accountId > 0 {
			if err := model.UpdateAccountStatus(accountId, model.AccountStatusExpired); err != nil {
				lg.Warn("mark account expired failed", zap.Error(err))
			}
		}
	case relaymodel.ErrorTypeVendorReject, relaymodel.ErrorTypeVendorBusy:
		if accountId > 0 {
			model.MarkAccountFailure(accountId)
		}
	}

	if c.Writer.Written() {
		// The stream already carried a terminal error chunk; nothing sane can
		// be appended to the response body now.
		lg.Debug("relay failed after bytes were written", zap.Int("status", bizErr.StatusCode))
		return
	}
	c.JSON(bizErr.StatusCode, gin.H{"error": bizErr.Error})
}

// RelayNotImplemented answers any unsupported /v1 surface with an
// OpenAI-shaped error instead of a bare 404.
func RelayNotImplemented(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{
		"error": relaymodel.Error{
			Message: "api not implemented",
			Type:    relaymodel.ErrorTypeInvalidRequest,
			Code:    "api_not_implemented",
		},
	})
}
