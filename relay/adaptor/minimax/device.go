package minimax

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/relay/adaptor/common/jwtutil"
)

const deviceTTL = 3 * time.Hour

var (
	deviceCache = gocache.New(deviceTTL, 30*time.Minute)
	deviceGroup singleflight.Group
)

// device is the registered browser identity for one raw token.
type device struct {
	DeviceID   string
	RealUserID string
}

// getDevice registers the forged browser once per token and caches the
// resulting identity for three hours.
func getDevice(ctx context.Context, baseURL, jwtToken string) (*device, error) {
	if cached, ok := deviceCache.Get(jwtToken); ok {
		return cached.(*device), nil
	}

	value, err, _ := deviceGroup.Do(jwtToken, func() (any, error) {
		if cached, ok := deviceCache.Get(jwtToken); ok {
			return cached.(*device), nil
		}
		registered, err := registerDevice(ctx, baseURL, jwtToken)
		if err != nil {
			return nil, err
		}
		deviceCache.Set(jwtToken, registered, deviceTTL)
		return registered, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*device), nil
}

func evictDevice(jwtToken string) {
	deviceCache.Delete(jwtToken)
}

func registerDevice(ctx context.Context, baseURL, jwtToken string) (*device, error) {
	body, err := json.Marshal(map[string]string{"uuid": uuid.NewString()})
	if err != nil {
		return nil, errors.Wrap(err, "marshal register body")
	}

	endpoint := baseURL + "/v1/api/user/device/register?" + fingerprintQuery("", "").Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", jwtToken)
	signRequest(req, jwtToken, string(body))

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "register minimax device")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read register response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("minimax register returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		Data struct {
			DeviceIDStr string `json:"deviceIDStr"`
			RealUserID  string `json:"realUserID"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, "unmarshal register response")
	}
	if parsed.Data.DeviceIDStr == "" {
		return nil, errors.New("minimax register response missing deviceIDStr")
	}
	return &device{
		DeviceID:   parsed.Data.DeviceIDStr,
		RealUserID: parsed.Data.RealUserID,
	}, nil
}

// resolveRealUserID applies the precedence: explicit credential first, then
// the device registration result, then the JWT payload.
func resolveRealUserID(credentials map[string]string, registered *device) string {
	if explicit := credentials["real_user_id"]; explicit != "" {
		return explicit
	}
	if registered != nil && registered.RealUserID != "" {
		return registered.RealUserID
	}

	claims, err := jwtutil.UnverifiedClaims(credentials["token"])
	if err != nil {
		return ""
	}
	for _, path := range []string{"user.id", "id", "sub"} {
		if value := jwtutil.StringClaim(claims, path); value != "" {
			return value
		}
	}
	return ""
}
