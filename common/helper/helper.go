package helper

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GetTimestamp returns the current unix timestamp in seconds.
func GetTimestamp() int64 {
	return time.Now().Unix()
}

// GetTimestampMilli returns the current unix timestamp in milliseconds.
func GetTimestampMilli() int64 {
	return time.Now().UnixMilli()
}

// GenRequestID returns a fresh identifier suitable for request correlation.
func GenRequestID() string {
	return uuid.NewString()
}

// GenNonce returns a UUID without dashes, the nonce format shared by the GLM
// and Qwen signature envelopes.
func GenNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenChatCompletionID returns an OpenAI-shaped chat completion id.
func GenChatCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// GenToolCallID returns an OpenAI-shaped tool call id.
func GenToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// MessageWithRequestId appends the request id to a user-facing error message.
func MessageWithRequestId(message string, id string) string {
	return fmt.Sprintf("%s (request id: %s)", message, id)
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomString returns a pseudo-random alphanumeric string of length n.
// Not for secrets; vendor payloads use it for synthetic client-side ids.
func RandomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
