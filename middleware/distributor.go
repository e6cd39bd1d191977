package middleware

import (
	"net/http"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/common"
	"github.com/xiaoY233/chat2api/common/ctxkey"
	"github.com/xiaoY233/chat2api/common/helper"
	"github.com/xiaoY233/chat2api/model"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

// RequestId stamps every request with a unique id, mirrored into the response
// headers so client reports can be matched to logs.
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := helper.GenRequestID()
		c.Set(ctxkey.RequestId, id)
		c.Header(ctxkey.RequestId, id)
		c.Next()
	}
}

// Distribute resolves the requested model to a provider and account and binds
// the decrypted credentials to the request context. Runs after auth, before
// the relay controller.
func Distribute() gin.HandlerFunc {
	return func(c *gin.Context) {
		lg := gmw.GetLogger(c)

		var request struct {
			Model string `json:"model"`
		}
		if err := common.UnmarshalBodyReusable(c, &request); err != nil {
			abortWithError(c, http.StatusBadRequest,
				relaymodel.ErrorTypeInvalidRequest, "invalid_request", "invalid request body: "+err.Error())
			return
		}
		if request.Model == "" {
			abortWithError(c, http.StatusBadRequest,
				relaymodel.ErrorTypeInvalidRequest, "invalid_request", "model is required")
			return
		}

		provider, pinnedAccount, actualModel, err := resolveRoute(request.Model)
		if err != nil {
			abortWithError(c, http.StatusNotFound,
				relaymodel.ErrorTypeInvalidRequest, "model_not_found",
				"The model '"+request.Model+"' does not exist or no enabled provider serves it")
			return
		}

		account := pinnedAccount
		if account == nil {
			strategy := model.GetConfig().LoadBalanceStrategy
			account, err = model.SelectAccount(provider.Id, strategy)
			if err != nil {
				lg.Warn("no account available",
					zap.String("provider", provider.Id),
					zap.String("model", request.Model),
					zap.Error(err))
				abortWithError(c, http.StatusServiceUnavailable,
					relaymodel.ErrorTypeInternalPolicy, "no_account",
					"No available account for provider "+provider.Id)
				return
			}
		}

		credentials, err := account.DecryptedCredentials()
		if err != nil {
			lg.Error("credential decrypt failed",
				zap.Int("account_id", account.Id), zap.Error(err))
			abortWithError(c, http.StatusInternalServerError,
				relaymodel.ErrorTypeInternalPolicy, "credential_error",
				"Cannot decrypt account credentials; check SESSION_SECRET")
			return
		}

		c.Set(ctxkey.RequestModel, request.Model)
		c.Set(ctxkey.ActualModel, actualModel)
		c.Set(ctxkey.Provider, provider)
		c.Set(ctxkey.Account, account)
		c.Set(ctxkey.Credentials, credentials)
		c.Set(ctxkey.BaseURL, provider.BaseURL)

		lg.Debug("request distributed",
			zap.String("model", request.Model),
			zap.String("actual_model", actualModel),
			zap.String("provider", provider.Id),
			zap.Int("account_id", account.Id))
		c.Next()
	}
}

// resolveRoute maps the public model name to its provider. Gateway-level
// routes win over provider-declared models; a route may also pin one account.
func resolveRoute(modelName string) (*model.Provider, *model.Account, string, error) {
	if route, ok := model.GetConfig().ModelMapping[modelName]; ok && route.ProviderId != "" {
		provider, err := model.GetProviderById(route.ProviderId)
		if err != nil {
			return nil, nil, "", err
		}
		if !provider.Enabled {
			return nil, nil, "", errors.Errorf("provider %s for model %s is disabled", provider.Id, modelName)
		}

		var pinned *model.Account
		if route.AccountId > 0 {
			account, err := model.GetAccountById(route.AccountId)
			if err == nil && account.ProviderId == provider.Id && account.Eligible() {
				pinned = account
			}
		}

		actual := route.ActualModel
		if actual == "" {
			actual = provider.ResolveModel(modelName)
		}
		return provider, pinned, actual, nil
	}

	providers, err := model.GetEnabledProviders()
	if err != nil {
		return nil, nil, "", err
	}
	for _, provider := range providers {
		if provider.SupportsModel(modelName) {
			return provider, nil, provider.ResolveModel(modelName), nil
		}
	}
	return nil, nil, "", errors.Errorf("no enabled provider serves model %s", modelName)
}
