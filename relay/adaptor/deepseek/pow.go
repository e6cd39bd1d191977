package deepseek

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
	"golang.org/x/crypto/sha3"

	"github.com/xiaoY233/chat2api/common/client"
)

const powAlgorithm = "DeepSeekHashV1"

// powChallenge is the challenge envelope returned by create_pow_challenge.
type powChallenge struct {
	Algorithm  string `json:"algorithm"`
	Challenge  string `json:"challenge"`
	Salt       string `json:"salt"`
	Difficulty int64  `json:"difficulty"`
	ExpireAt   int64  `json:"expire_at"`
	Signature  string `json:"signature"`
	TargetPath string `json:"target_path"`
}

type powAnswer struct {
	Algorithm  string `json:"algorithm"`
	Challenge  string `json:"challenge"`
	Salt       string `json:"salt"`
	Answer     int64  `json:"answer"`
	Signature  string `json:"signature"`
	TargetPath string `json:"target_path"`
}

// fetchPowChallenge asks the vendor for a fresh proof-of-work challenge bound
// to the chat completion path.
func fetchPowChallenge(ctx context.Context, baseURL, accessToken string) (*powChallenge, error) {
	payload := strings.NewReader(`{"target_path":"` + chatCompletionPath + `"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v0/chat/create_pow_challenge", payload)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch pow challenge")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read pow challenge")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("pow challenge endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Data struct {
			BizData struct {
				Challenge powChallenge `json:"challenge"`
			} `json:"biz_data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "unmarshal pow challenge")
	}
	challenge := parsed.Data.BizData.Challenge
	if challenge.Challenge == "" {
		return nil, errors.New("deepseek response missing pow challenge")
	}
	return &challenge, nil
}

// solvePow iterates nonces until the SHA3 digest of challenge+salt_expireAt_nonce
// falls under the difficulty target. Returns an error for unknown algorithms so
// protocol drift surfaces with a diagnostic instead of a busy loop.
func solvePow(ctx context.Context, challenge *powChallenge) (int64, error) {
	if challenge.Algorithm != powAlgorithm {
		return 0, errors.Errorf("unsupported pow algorithm %q", challenge.Algorithm)
	}
	if challenge.Difficulty <= 0 {
		return 0, errors.Errorf("invalid pow difficulty %d", challenge.Difficulty)
	}

	target := uint64(math.MaxUint64 / uint64(challenge.Difficulty))
	prefix := challenge.Challenge + challenge.Salt + "_" + strconv.FormatInt(challenge.ExpireAt, 10) + "_"

	for nonce := int64(0); ; nonce++ {
		// The solve loop is CPU bound; honor cancellation periodically.
		if nonce&0xffff == 0 {
			select {
			case <-ctx.Done():
				return 0, errors.Wrap(ctx.Err(), "pow solve canceled")
			default:
			}
		}
		digest := sha3.Sum256([]byte(prefix + strconv.FormatInt(nonce, 10)))
		if binary.BigEndian.Uint64(digest[:8]) <= target {
			return nonce, nil
		}
	}
}

// buildPowHeader solves the challenge and encodes the answer envelope for the
// X-Ds-Pow-Response header.
func buildPowHeader(ctx context.Context, baseURL, accessToken string) (string, error) {
	challenge, err := fetchPowChallenge(ctx, baseURL, accessToken)
	if err != nil {
		return "", err
	}
	answer, err := solvePow(ctx, challenge)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(powAnswer{
		Algorithm:  challenge.Algorithm,
		Challenge:  challenge.Challenge,
		Salt:       challenge.Salt,
		Answer:     answer,
		Signature:  challenge.Signature,
		TargetPath: chatCompletionPath,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal pow answer")
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}
