package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var (
	// SessionSecret seeds the key used to encrypt account credentials at rest.
	SessionSecret = env("SESSION_SECRET", "")
	// DebugEnabled turns on verbose request/response logging.
	DebugEnabled = os.Getenv("DEBUG") == "true"

	// Port is the inbound listen port of the gateway.
	Port = envInt("PORT", 3000)

	// SQLDSN selects the database backend. Empty means the default sqlite file
	// under DataDir.
	SQLDSN = env("SQL_DSN", "")

	// RelayProxy is an optional outbound proxy for vendor calls.
	RelayProxy = env("RELAY_PROXY", "")

	// RelayTimeout bounds a single chat call against a vendor.
	RelayTimeout = time.Duration(envInt("RELAY_TIMEOUT", 120)) * time.Second
	// AuxiliaryTimeout bounds token refresh, session create/delete and PoW RPCs.
	AuxiliaryTimeout = time.Duration(envInt("AUXILIARY_TIMEOUT", 15)) * time.Second

	// RetryTimes is the default number of additional attempts per request; the
	// persisted AppConfig may override it.
	RetryTimes = envInt("RETRY_TIMES", 3)
	// RetryInterval separates consecutive attempts against the same account.
	RetryInterval = time.Duration(envInt("RETRY_INTERVAL", 5)) * time.Second

	// LogRetentionDays bounds how long persisted log entries are kept.
	LogRetentionDays = envInt("LOG_RETENTION_DAYS", 7)
)

// DataDir returns the per-user directory holding the persisted store,
// ~/.chat2api unless CHAT2API_DATA_DIR overrides it.
func DataDir() string {
	if dir := os.Getenv("CHAT2API_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chat2api"
	}
	return filepath.Join(home, ".chat2api")
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
