package model

import (
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/xiaoY233/chat2api/common/logger"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log is one persisted gateway log entry, ring-bounded by retention days.
type Log struct {
	Id         int       `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt  time.Time `json:"timestamp" gorm:"index"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	AccountId  int       `json:"accountId,omitempty"`
	ProviderId string    `json:"providerId,omitempty"`
	RequestId  string    `json:"requestId,omitempty"`
	Data       string    `json:"-"`
}

// RecordLog persists a log entry off the request path.
func RecordLog(level, message string, accountId int, providerId, requestId string, data map[string]any) {
	entry := Log{
		Level:      level,
		Message:    message,
		AccountId:  accountId,
		ProviderId: providerId,
		RequestId:  requestId,
	}
	if len(data) > 0 {
		if raw, err := json.Marshal(data); err == nil {
			entry.Data = string(raw)
		}
	}
	go func() {
		if err := DB.Create(&entry).Error; err != nil {
			logger.Logger.Warn("persist log entry failed", zap.Error(err))
		}
	}()
}

// SweepLogs deletes entries older than the retention window.
func SweepLogs(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return errors.Wrap(
		DB.Where("created_at < ?", cutoff).Delete(&Log{}).Error,
		"sweep expired logs")
}

// GetRecentLogs returns the newest entries up to limit.
func GetRecentLogs(limit int) ([]*Log, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []*Log
	err := DB.Order("id DESC").Limit(limit).Find(&logs).Error
	return logs, errors.Wrap(err, "list recent logs")
}
