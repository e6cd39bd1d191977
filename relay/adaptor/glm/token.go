package glm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/model"
)

const accessTokenTTL = 30 * time.Minute

var (
	// tokenCache maps refresh token to access token. A rotated refresh token
	// evicts the entry keyed by the old one.
	tokenCache   = gocache.New(accessTokenTTL, 10*time.Minute)
	refreshGroup singleflight.Group
)

// getAccessToken refreshes the GLM access token, coalescing concurrent
// refreshes per credential. When the vendor rotates the refresh token, the new
// one is persisted back onto the account.
func getAccessToken(ctx context.Context, baseURL, refreshToken string, accountId int) (string, error) {
	if refreshToken == "" {
		return "", errors.New("glm refresh token is empty")
	}
	if cached, ok := tokenCache.Get(refreshToken); ok {
		return cached.(string), nil
	}

	value, err, _ := refreshGroup.Do(refreshToken, func() (any, error) {
		if cached, ok := tokenCache.Get(refreshToken); ok {
			return cached.(string), nil
		}
		accessToken, rotated, err := refresh(ctx, baseURL, refreshToken)
		if err != nil {
			return nil, err
		}
		if rotated != "" && rotated != refreshToken {
			if err := model.UpdateAccountCredential(accountId, "refresh_token", rotated); err != nil {
				return nil, errors.Wrap(err, "persist rotated glm refresh token")
			}
			tokenCache.Delete(refreshToken)
			tokenCache.Set(rotated, accessToken, accessTokenTTL)
		} else {
			tokenCache.Set(refreshToken, accessToken, accessTokenTTL)
		}
		return accessToken, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func evictToken(refreshToken string) {
	tokenCache.Delete(refreshToken)
}

func refresh(ctx context.Context, baseURL, refreshToken string) (accessToken, rotated string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chatglm/user-api/user/refresh", strings.NewReader("{}"))
	if err != nil {
		return "", "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	req.Header.Set("Content-Type", "application/json")
	applySignHeaders(req)

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return "", "", errors.Wrap(err, "refresh glm token")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", errors.Wrap(err, "read refresh response")
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return "", "", errors.New("glm refresh token invalid or expired")
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", errors.Errorf("glm refresh endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Result struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", errors.Wrap(err, "unmarshal refresh response")
	}
	if parsed.Result.AccessToken == "" {
		return "", "", errors.New("glm refresh response missing access_token")
	}
	return parsed.Result.AccessToken, parsed.Result.RefreshToken, nil
}
