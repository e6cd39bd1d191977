// Package controller drives a single relay attempt: it resolves the adapter
// for the selected provider, runs the pre-chat handshakes, issues the vendor
// call and hands the response stream to the adapter for normalization.
package controller

import (
	"context"
	"net/http"
	"strings"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common"
	"github.com/xiaoY233/chat2api/common/config"
	"github.com/xiaoY233/chat2api/relay"
	"github.com/xiaoY233/chat2api/relay/adaptor"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/upstream"
	"github.com/xiaoY233/chat2api/relay/meta"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

// RelayTextHelper performs one full chat relay attempt against the account the
// distributor selected. Returns nil on success; on failure the caller decides
// whether to retry, so nothing is written to the client here.
func RelayTextHelper(c *gin.Context) (*relaymodel.Usage, *relaymodel.ErrorWithStatusCode) {
	lg := gmw.GetLogger(c)
	m := meta.GetByContext(c)

	request := &relaymodel.GeneralOpenAIRequest{}
	if err := common.UnmarshalBodyReusable(c, request); err != nil {
		return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeInvalidRequest, http.StatusBadRequest)
	}
	m.IsStream = request.Stream

	a := relay.GetAdaptor(m.Provider)
	if a == nil {
		return nil, &relaymodel.ErrorWithStatusCode{
			StatusCode: http.StatusServiceUnavailable,
			Error: relaymodel.Error{
				Message: "no adapter recognizes provider " + m.Provider.Id,
				Type:    relaymodel.ErrorTypeInternalPolicy,
			},
		}
	}
	a.Init(m)

	payload, err := a.ConvertRequest(c, m, request)
	if err != nil {
		if isAuthError(err) {
			return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeAuthExpired, http.StatusUnauthorized)
		}
		return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeTransport, http.StatusBadGateway)
	}

	resp, err := a.DoRequest(c, m, payload)
	if err != nil {
		scheduleTeardown(a, m)
		return nil, upstream.ErrorWrapper(err, relaymodel.ErrorTypeTransport, http.StatusBadGateway)
	}

	usage, respErr := a.DoResponse(c, resp, m)
	teardown(c, a, m)
	if respErr != nil {
		lg.Warn("vendor relay attempt failed",
			zap.String("provider", m.Provider.Id),
			zap.Int("account_id", m.Account.Id),
			zap.Int("status", respErr.StatusCode),
			zap.String("error_type", string(respErr.Type)),
			zap.String("message", respErr.Message))
		return nil, respErr
	}

	lg.Info("relay completed",
		zap.String("provider", m.Provider.Id),
		zap.Int("account_id", m.Account.Id),
		zap.String("model", m.OriginModelName),
		zap.Duration("elapsed", time.Since(m.StartTime)))
	return usage, nil
}

// teardown deletes the vendor-side session created for this request, exactly
// once, when the account asks for it. Best effort with its own deadline since
// the request context may already be cancelled.
func teardown(c *gin.Context, a adaptor.Adaptor, m *meta.Meta) {
	if !m.DeleteSessionAfterChat {
		return
	}
	m.DeleteSessionAfterChat = false

	lg := gmw.GetLogger(c)
	ctx, cancel := context.WithTimeout(context.Background(), config.AuxiliaryTimeout)
	defer cancel()
	if a.DeleteSession(ctx, m) {
		lg.Debug("vendor session deleted",
			zap.String("provider", m.Provider.Id),
			zap.String("session_id", m.SessionId),
			zap.String("chat_id", m.ChatId))
		return
	}
	lg.Debug("vendor session delete skipped or failed",
		zap.String("provider", m.Provider.Id))
}

// scheduleTeardown runs the session delete in the background when the chat
// call itself never produced a response to consume.
func scheduleTeardown(a adaptor.Adaptor, m *meta.Meta) {
	if !m.DeleteSessionAfterChat {
		return
	}
	m.DeleteSessionAfterChat = false
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.AuxiliaryTimeout)
		defer cancel()
		a.DeleteSession(ctx, m)
	}()
}

// isAuthError recognizes credential failures surfaced by pre-chat handshakes,
// which classify as auth_expired rather than transport errors.
func isAuthError(err error) bool {
	message := strings.ToLower(err.Error())
	for _, needle := range []string{
		"token invalid or expired",
		"returned 401",
		"unauthorized",
		"token is empty",
		"ticket is empty",
	} {
		if strings.Contains(message, needle) {
			return true
		}
	}
	return false
}
