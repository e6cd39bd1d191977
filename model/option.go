package model

import (
	"encoding/json"
	"sync"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xiaoY233/chat2api/common/config"
)

// Option is a persisted key/value row; AppConfig lives in one row as JSON.
type Option struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

const appConfigKey = "app_config"

// ModelRoute binds a public model name to a provider, an optional pinned
// account and the vendor-internal model name.
type ModelRoute struct {
	ProviderId  string `json:"providerId,omitempty"`
	AccountId   int    `json:"accountId,omitempty"`
	ActualModel string `json:"actualModel,omitempty"`
}

// AppConfig is the runtime-mutable gateway configuration. A single instance
// spans the process; reads go through GetConfig.
type AppConfig struct {
	ProxyPort           int                   `json:"proxyPort"`
	LoadBalanceStrategy string                `json:"loadBalanceStrategy"`
	ModelMapping        map[string]ModelRoute `json:"modelMapping"`
	RequestTimeout      int                   `json:"requestTimeout"`
	RetryCount          int                   `json:"retryCount"`
	EnableApiKey        bool                  `json:"enableApiKey"`
	LogRetentionDays    int                   `json:"logRetentionDays"`
}

func defaultAppConfig() *AppConfig {
	return &AppConfig{
		ProxyPort:           config.Port,
		LoadBalanceStrategy: StrategyRoundRobin,
		ModelMapping:        map[string]ModelRoute{},
		RequestTimeout:      int(config.RelayTimeout.Seconds()),
		RetryCount:          config.RetryTimes,
		LogRetentionDays:    config.LogRetentionDays,
	}
}

var (
	appConfigMu     sync.RWMutex
	appConfigCached *AppConfig
)

// LoadAppConfig reads the persisted configuration into the in-memory cache,
// seeding defaults on first run.
func LoadAppConfig() error {
	var row Option
	err := DB.First(&row, "key = ?", appConfigKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UpdateAppConfig(defaultAppConfig())
	}
	if err != nil {
		return errors.Wrap(err, "load app config")
	}

	cfg := defaultAppConfig()
	if err := json.Unmarshal([]byte(row.Value), cfg); err != nil {
		return errors.Wrap(err, "unmarshal app config")
	}
	if cfg.ModelMapping == nil {
		cfg.ModelMapping = map[string]ModelRoute{}
	}

	appConfigMu.Lock()
	appConfigCached = cfg
	appConfigMu.Unlock()
	return nil
}

// GetConfig returns a copy of the current configuration.
func GetConfig() AppConfig {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	if appConfigCached == nil {
		return *defaultAppConfig()
	}
	cfg := *appConfigCached
	return cfg
}

// UpdateAppConfig persists and caches a new configuration.
func UpdateAppConfig(cfg *AppConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal app config")
	}
	if err := DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&Option{Key: appConfigKey, Value: string(raw)}).Error; err != nil {
		return errors.Wrap(err, "persist app config")
	}

	appConfigMu.Lock()
	appConfigCached = cfg
	appConfigMu.Unlock()
	return nil
}
