package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/xiaoY233/chat2api/common/ctxkey"
	"github.com/xiaoY233/chat2api/common/logger"
	"github.com/xiaoY233/chat2api/model"
)

func setupDistributorTest(t *testing.T) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Provider{}, &model.Account{}, &model.Option{}, &model.APIKey{}, &model.Log{}))

	original := model.DB
	model.DB = db
	t.Cleanup(func() { model.DB = original })

	require.NoError(t, model.ReconcileBuiltinProviders())
	cfg := model.GetConfig()
	require.NoError(t, model.UpdateAppConfig(&cfg))
}

func distribute(t *testing.T, body string) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	var captured *gin.Context

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		gmw.SetLogger(c, logger.Logger.Named("distributor-test"))
		c.Next()
	})
	engine.POST("/v1/chat/completions", Distribute(), func(c *gin.Context) {
		captured = c
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	request := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, request)
	return recorder, captured
}

func TestDistributeBindsProviderAndAccount(t *testing.T) {
	setupDistributorTest(t)

	account := &model.Account{ProviderId: model.ProviderDeepSeek, Name: "ds-1", Status: model.AccountStatusActive}
	require.NoError(t, account.SetCredentials(map[string]string{"token": "user-token"}))
	require.NoError(t, model.InsertAccount(account))

	recorder, c := distribute(t, `{"model":"deepseek-chat","messages":[]}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NotNil(t, c)

	provider := c.MustGet(ctxkey.Provider).(*model.Provider)
	require.Equal(t, model.ProviderDeepSeek, provider.Id)

	bound := c.MustGet(ctxkey.Account).(*model.Account)
	require.Equal(t, account.Id, bound.Id)

	credentials := c.MustGet(ctxkey.Credentials).(map[string]string)
	require.Equal(t, "user-token", credentials["token"])

	// The public alias maps to the vendor-internal model name.
	require.Equal(t, "deepseek-chat", c.GetString(ctxkey.RequestModel))
	require.Equal(t, "DeepSeek-V3.2", c.GetString(ctxkey.ActualModel))
	require.Equal(t, "https://chat.deepseek.com", c.GetString(ctxkey.BaseURL))
}

func TestDistributeNoAccount(t *testing.T) {
	setupDistributorTest(t)

	recorder, _ := distribute(t, `{"model":"deepseek-chat","messages":[]}`)
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	require.Equal(t, "no_account", envelope.Error.Code)
}

func TestDistributeUnknownModel(t *testing.T) {
	setupDistributorTest(t)

	recorder, _ := distribute(t, `{"model":"gpt-4o","messages":[]}`)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestDistributeMissingModel(t *testing.T) {
	setupDistributorTest(t)

	recorder, _ := distribute(t, `{"messages":[]}`)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestDistributeGatewayRouteWins(t *testing.T) {
	setupDistributorTest(t)

	account := &model.Account{ProviderId: model.ProviderZAI, Name: "z-1", Status: model.AccountStatusActive}
	require.NoError(t, account.SetCredentials(map[string]string{"token": "t"}))
	require.NoError(t, model.InsertAccount(account))

	cfg := model.GetConfig()
	cfg.ModelMapping = map[string]model.ModelRoute{
		"my-alias": {ProviderId: model.ProviderZAI, ActualModel: "0727-360B-API"},
	}
	require.NoError(t, model.UpdateAppConfig(&cfg))

	recorder, c := distribute(t, `{"model":"my-alias","messages":[]}`)
	require.Equal(t, http.StatusOK, recorder.Code)

	provider := c.MustGet(ctxkey.Provider).(*model.Provider)
	require.Equal(t, model.ProviderZAI, provider.Id)
	require.Equal(t, "0727-360B-API", c.GetString(ctxkey.ActualModel))
}
