package validator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/model"
)

func setupValidatorTest(t *testing.T) {
	t.Helper()
	client.Init()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Provider{}, &model.Account{}))

	original := model.DB
	model.DB = db
	t.Cleanup(func() { model.DB = original })
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, VerdictValid, classify(http.StatusOK, []byte(`{"id":"u1"}`)))
	require.Equal(t, VerdictValid, classify(http.StatusOK, []byte(`{"code":0,"data":{}}`)))
	require.Equal(t, VerdictValid, classify(http.StatusOK, []byte(`{"code":200}`)))
	require.Equal(t, VerdictExpired, classify(http.StatusOK, []byte(`{"code":401}`)))
	require.Equal(t, VerdictExpired, classify(http.StatusOK, []byte(`{"code":40002}`)))
	require.Equal(t, VerdictExpired, classify(http.StatusUnauthorized, nil))
	require.Equal(t, VerdictExpired, classify(http.StatusForbidden, nil))
	require.Equal(t, VerdictExpired, classify(http.StatusNotFound, nil))
	require.Equal(t, VerdictError, classify(http.StatusBadGateway, nil))
	require.Equal(t, VerdictError, classify(http.StatusOK, []byte(`{"code":1234}`)))
}

func TestCheckAccountTransitions(t *testing.T) {
	setupValidatorTest(t)

	status := http.StatusOK
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	provider := &model.Provider{
		Id:               model.ProviderKimi,
		Name:             "Kimi",
		TokenCheckURL:    server.URL,
		TokenCheckMethod: http.MethodGet,
		Enabled:          true,
	}
	require.NoError(t, model.InsertProvider(provider))

	account := &model.Account{ProviderId: provider.Id, Name: "k", Status: model.AccountStatusError}
	require.NoError(t, account.SetCredentials(map[string]string{"token": "tok-1"}))
	require.NoError(t, model.InsertAccount(account))

	verdict, err := CheckAccount(context.Background(), provider, account)
	require.NoError(t, err)
	require.Equal(t, VerdictValid, verdict)
	require.Equal(t, "Bearer tok-1", gotAuth)

	loaded, err := model.GetAccountById(account.Id)
	require.NoError(t, err)
	require.Equal(t, model.AccountStatusActive, loaded.Status)

	status = http.StatusUnauthorized
	verdict, err = CheckAccount(context.Background(), provider, loaded)
	require.NoError(t, err)
	require.Equal(t, VerdictExpired, verdict)

	loaded, err = model.GetAccountById(account.Id)
	require.NoError(t, err)
	require.Equal(t, model.AccountStatusExpired, loaded.Status)
}

func TestCheckAccountVendorEnvelope(t *testing.T) {
	setupValidatorTest(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":40001,"message":"session expired"}`))
	}))
	defer server.Close()

	provider := &model.Provider{
		Id:            model.ProviderQwen,
		Name:          "Qwen",
		TokenCheckURL: server.URL,
		Enabled:       true,
	}
	require.NoError(t, model.InsertProvider(provider))

	account := &model.Account{ProviderId: provider.Id, Name: "q", Status: model.AccountStatusActive}
	require.NoError(t, account.SetCredentials(map[string]string{"tongyi_sso_ticket": "ticket"}))
	require.NoError(t, model.InsertAccount(account))

	verdict, err := CheckAccount(context.Background(), provider, account)
	require.NoError(t, err)
	require.Equal(t, VerdictExpired, verdict)
}

func TestCheckProviderWithoutEndpoint(t *testing.T) {
	setupValidatorTest(t)

	provider := &model.Provider{Id: "custom-x", Name: "custom", Enabled: true}
	require.NoError(t, model.InsertProvider(provider))

	account := &model.Account{ProviderId: provider.Id, Name: "c", Status: model.AccountStatusActive}
	require.NoError(t, account.SetCredentials(map[string]string{"token": "t"}))
	require.NoError(t, model.InsertAccount(account))

	verdicts, err := CheckProvider(context.Background(), provider)
	require.NoError(t, err)
	require.Equal(t, VerdictError, verdicts[account.Id])
}
