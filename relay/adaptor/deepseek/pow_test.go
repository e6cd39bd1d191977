package deepseek

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

func TestSolvePowMeetsDifficulty(t *testing.T) {
	t.Parallel()

	challenge := &powChallenge{
		Algorithm:  powAlgorithm,
		Challenge:  "abc123",
		Salt:       "s4lt",
		Difficulty: 4,
		ExpireAt:   1700000000,
	}
	nonce, err := solvePow(context.Background(), challenge)
	require.NoError(t, err)

	prefix := challenge.Challenge + challenge.Salt + "_" + strconv.FormatInt(challenge.ExpireAt, 10) + "_"
	digest := sha3.Sum256([]byte(prefix + strconv.FormatInt(nonce, 10)))
	require.LessOrEqual(t, binary.BigEndian.Uint64(digest[:8]), uint64(1<<62))
}

func TestSolvePowRejectsUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := solvePow(context.Background(), &powChallenge{Algorithm: "DeepSeekHashV9", Difficulty: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "DeepSeekHashV9")
}

func TestSolvePowHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := solvePow(ctx, &powChallenge{
		Algorithm:  powAlgorithm,
		Challenge:  "x",
		Salt:       "y",
		Difficulty: 1 << 40, // effectively unsolvable in test time
	})
	require.Error(t, err)
}

func TestPowAnswerEnvelope(t *testing.T) {
	t.Parallel()

	encoded, err := json.Marshal(powAnswer{
		Algorithm:  powAlgorithm,
		Challenge:  "c",
		Salt:       "s",
		Answer:     42,
		Signature:  "sig",
		TargetPath: chatCompletionPath,
	})
	require.NoError(t, err)

	header := base64.StdEncoding.EncodeToString(encoded)
	decoded, err := base64.StdEncoding.DecodeString(header)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(decoded, &parsed))
	require.Equal(t, "/api/v0/chat/completion", parsed["target_path"])
	require.Equal(t, float64(42), parsed["answer"])
}
