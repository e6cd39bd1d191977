package model

import (
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/gorm"

	"github.com/xiaoY233/chat2api/common/logger"
)

// APIKey is one inbound gateway key. Usage bookkeeping is fire-and-forget;
// counters are monotonic per key but not strictly serialized.
type APIKey struct {
	Id         int        `json:"id" gorm:"primaryKey;autoIncrement"`
	Key        string     `json:"key" gorm:"uniqueIndex"`
	Name       string     `json:"name"`
	Enabled    bool       `json:"enabled" gorm:"default:true"`
	UsageCount int64      `json:"usageCount"`
	LastUsedAt *time.Time `json:"lastUsedAt"`

	CreatedAt time.Time `json:"createdAt"`
}

// ValidateAPIKey returns the enabled key row matching the presented secret.
func ValidateAPIKey(key string) (*APIKey, error) {
	var row APIKey
	err := DB.First(&row, "key = ? AND enabled = ?", key, true).Error
	if err != nil {
		return nil, errors.Wrap(err, "lookup api key")
	}
	return &row, nil
}

// CountEnabledAPIKeys reports how many keys can authorize requests.
func CountEnabledAPIKeys() (int64, error) {
	var n int64
	err := DB.Model(&APIKey{}).Where("enabled = ?", true).Count(&n).Error
	return n, errors.Wrap(err, "count api keys")
}

// TouchAPIKey bumps usage_count and last_used_at without blocking the request
// path.
func TouchAPIKey(id int) {
	go func() {
		now := time.Now()
		err := DB.Model(&APIKey{}).Where("id = ?", id).Updates(map[string]any{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": now,
		}).Error
		if err != nil {
			logger.Logger.Warn("api key usage bookkeeping failed",
				zap.Int("key_id", id), zap.Error(err))
		}
	}()
}

func InsertAPIKey(key *APIKey) error {
	return errors.Wrap(DB.Create(key).Error, "insert api key")
}

func DeleteAPIKey(id int) error {
	return errors.Wrap(DB.Delete(&APIKey{}, "id = ?", id).Error, "delete api key")
}
