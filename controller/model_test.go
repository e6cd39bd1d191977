package controller

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/xiaoY233/chat2api/model"
)

func setupControllerTest(t *testing.T) {
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
}

func TestListModelsUnion(t *testing.T) {
	setupControllerTest(t)

	engine := gin.New()
	engine.GET("/v1/models", ListModels)

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var listing OpenAIModelList
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &listing))
	require.Equal(t, "list", listing.Object)

	byId := make(map[string]OpenAIModel)
	for _, m := range listing.Data {
		byId[m.Id] = m
	}
	require.Contains(t, byId, "deepseek-chat")
	require.Contains(t, byId, "kimi-k2")
	require.Contains(t, byId, "glm-4.7")
	require.Equal(t, "model", byId["kimi-k2"].Object)
	require.Equal(t, model.ProviderKimi, byId["kimi-k2"].OwnedBy)
}

func TestListModelsSkipsDisabledProvider(t *testing.T) {
	setupControllerTest(t)

	provider, err := model.GetProviderById(model.ProviderKimi)
	require.NoError(t, err)
	provider.Enabled = false
	require.NoError(t, model.UpdateProvider(provider))

	models, err := availableModels()
	require.NoError(t, err)
	for _, m := range models {
		require.NotEqual(t, "kimi-k2", m.Id)
	}
}

func TestRetrieveModel(t *testing.T) {
	setupControllerTest(t)

	engine := gin.New()
	engine.GET("/v1/models/:model", RetrieveModel)

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/models/deepseek-chat", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/models/no-such-model", nil))
	require.Equal(t, http.StatusNotFound, recorder.Code)
}
