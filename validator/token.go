// Package validator probes vendor credentials against each provider's
// lightweight identity endpoint and transitions account status accordingly.
// Probes run on operator demand, never on the request path.
package validator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/common/logger"
	"github.com/xiaoY233/chat2api/model"
)

// Verdict is the outcome of one credential probe.
type Verdict string

const (
	VerdictValid   Verdict = "valid"
	VerdictExpired Verdict = "expired"
	VerdictError   Verdict = "error"
)

// CheckAccount probes one account's credential and persists the resulting
// status transition. The probe result is returned alongside any probe error;
// VerdictError does not expire the account since the fault may be ours.
func CheckAccount(ctx context.Context, provider *model.Provider, account *model.Account) (Verdict, error) {
	credentials, err := account.DecryptedCredentials()
	if err != nil {
		return VerdictError, errors.Wrap(err, "decrypt credentials")
	}

	verdict, err := probe(ctx, provider, credentials)

	status := account.Status
	switch verdict {
	case VerdictValid:
		status = model.AccountStatusActive
	case VerdictExpired:
		status = model.AccountStatusExpired
	case VerdictError:
		status = model.AccountStatusError
	}
	if status != account.Status {
		if updateErr := model.UpdateAccountStatus(account.Id, status); updateErr != nil {
			logger.Logger.Warn("persist probe status failed",
				zap.Int("account_id", account.Id), zap.Error(updateErr))
		}
		account.Status = status
	}
	return verdict, err
}

// CheckProvider probes every account of one provider sequentially. Vendors
// rate-limit aggressively, so no fan-out.
func CheckProvider(ctx context.Context, provider *model.Provider) (map[int]Verdict, error) {
	accounts, err := model.GetAccountsByProvider(provider.Id)
	if err != nil {
		return nil, err
	}
	verdicts := make(map[int]Verdict, len(accounts))
	for _, account := range accounts {
		verdict, err := CheckAccount(ctx, provider, account)
		if err != nil {
			logger.Logger.Info("credential probe failed",
				zap.String("provider", provider.Id),
				zap.Int("account_id", account.Id),
				zap.Error(err))
		}
		verdicts[account.Id] = verdict
	}
	return verdicts, nil
}

func probe(ctx context.Context, provider *model.Provider, credentials map[string]string) (Verdict, error) {
	if provider.TokenCheckURL == "" {
		return VerdictError, errors.Errorf("provider %s has no token check endpoint", provider.Id)
	}
	method := provider.TokenCheckMethod
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader("{}")
	}
	req, err := http.NewRequestWithContext(ctx, method, provider.TokenCheckURL, body)
	if err != nil {
		return VerdictError, errors.Wrap(err, "new probe request")
	}
	for key, value := range provider.GetHeaders() {
		req.Header.Set(key, value)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	attachCredential(req, provider.Id, credentials)

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return VerdictError, errors.Wrap(err, "probe vendor")
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return classify(resp.StatusCode, payload), nil
}

// attachCredential places the credential where each vendor expects it.
func attachCredential(req *http.Request, providerId string, credentials map[string]string) {
	switch providerId {
	case model.ProviderGLM:
		req.Header.Set("Authorization", "Bearer "+credentials["refresh_token"])
	case model.ProviderMiniMax:
		req.Header.Set("Token", credentials["token"])
	case model.ProviderQwen:
		req.Header.Set("Cookie", "tongyi_sso_ticket="+credentials["tongyi_sso_ticket"])
	case model.ProviderQwenAI:
		req.Header.Set("Authorization", "Bearer "+credentials["token"])
		if cookies := credentials["cookies"]; cookies != "" {
			req.Header.Set("Cookie", cookies)
		}
	default:
		req.Header.Set("Authorization", "Bearer "+credentials["token"])
	}
}

// classify buckets the probe response. Some vendors answer 200 with an error
// envelope, so the body is consulted before trusting the status line.
func classify(statusCode int, body []byte) Verdict {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return VerdictExpired
	case statusCode >= 500:
		return VerdictError
	case statusCode >= 400:
		return VerdictExpired
	}

	var envelope struct {
		Code *int `json:"code"`
		Data json.RawMessage
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Code != nil {
		// Vendor envelopes use 0 or 200 for success; sentinel auth codes mean
		// the session died even though HTTP said 200.
		switch *envelope.Code {
		case 0, 200:
			return VerdictValid
		case 401, 40001, 40002:
			return VerdictExpired
		default:
			return VerdictError
		}
	}
	return VerdictValid
}
