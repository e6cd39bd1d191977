package deepseek

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/xiaoY233/chat2api/common/client"
)

const (
	accessTokenTTL = time.Hour
	sessionTTL     = 5 * time.Minute
)

var (
	// tokenCache maps the long-lived user token to the short-lived access
	// token returned by /users/current.
	tokenCache = gocache.New(accessTokenTTL, 10*time.Minute)
	// sessionCache maps account id to a freshly created chat session id.
	sessionCache = gocache.New(sessionTTL, time.Minute)

	refreshGroup singleflight.Group
)

// getAccessToken returns the cached short-lived token for the user token,
// refreshing it at most once concurrently per credential.
func getAccessToken(ctx context.Context, baseURL, userToken string) (string, error) {
	if userToken == "" {
		return "", errors.New("deepseek user token is empty")
	}
	if cached, ok := tokenCache.Get(userToken); ok {
		return cached.(string), nil
	}

	value, err, _ := refreshGroup.Do(userToken, func() (any, error) {
		if cached, ok := tokenCache.Get(userToken); ok {
			return cached.(string), nil
		}
		token, err := fetchAccessToken(ctx, baseURL, userToken)
		if err != nil {
			return nil, err
		}
		tokenCache.Set(userToken, token, accessTokenTTL)
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// evictToken drops the cached access token after the vendor reports 401.
func evictToken(userToken string) {
	tokenCache.Delete(userToken)
}

func fetchAccessToken(ctx context.Context, baseURL, userToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v0/users/current", nil)
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+userToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "fetch deepseek access token")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "read token response")
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return "", errors.New("deepseek user token invalid or expired")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("deepseek token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Data struct {
			BizData struct {
				Token string `json:"token"`
			} `json:"biz_data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrap(err, "unmarshal token response")
	}
	if parsed.Data.BizData.Token == "" {
		return "", errors.New("deepseek response missing biz_data.token")
	}
	return parsed.Data.BizData.Token, nil
}

// getSession returns a cached chat session for the account, creating one when
// the cache is cold. Concurrent creates for the same account coalesce.
func getSession(ctx context.Context, baseURL, accessToken string, accountId int) (string, error) {
	key := sessionKey(accountId)
	if cached, ok := sessionCache.Get(key); ok {
		return cached.(string), nil
	}

	value, err, _ := refreshGroup.Do("session:"+key, func() (any, error) {
		if cached, ok := sessionCache.Get(key); ok {
			return cached.(string), nil
		}
		sessionId, err := createSession(ctx, baseURL, accessToken)
		if err != nil {
			return nil, err
		}
		sessionCache.Set(key, sessionId, sessionTTL)
		return sessionId, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func dropSession(accountId int) {
	sessionCache.Delete(sessionKey(accountId))
}

func sessionKey(accountId int) string {
	return "deepseek-session-" + strconv.Itoa(accountId)
}

func createSession(ctx context.Context, baseURL, accessToken string) (string, error) {
	payload := strings.NewReader(`{"character_id":null}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v0/chat_session/create", payload)
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "create deepseek session")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "read session response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("deepseek session create returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Data struct {
			BizData struct {
				Id string `json:"id"`
			} `json:"biz_data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrap(err, "unmarshal session response")
	}
	if parsed.Data.BizData.Id == "" {
		return "", errors.New("deepseek session create returned no id")
	}
	return parsed.Data.BizData.Id, nil
}
