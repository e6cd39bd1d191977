package model

import (
	"github.com/Laisky/zap"
	"github.com/robfig/cron/v3"

	"github.com/xiaoY233/chat2api/common/logger"
)

// StartScheduler runs the daily quota reset at the process's local midnight
// and the log-retention sweep hourly. Returns the running scheduler so the
// caller can stop it on shutdown.
func StartScheduler() *cron.Cron {
	c := cron.New()

	if _, err := c.AddFunc("0 0 * * *", func() {
		if err := ResetDailyCounters(); err != nil {
			logger.Logger.Error("daily counter reset failed", zap.Error(err))
			return
		}
		logger.Logger.Info("daily account counters reset")
	}); err != nil {
		logger.Logger.Error("schedule daily reset failed", zap.Error(err))
	}

	if _, err := c.AddFunc("@hourly", func() {
		retention := GetConfig().LogRetentionDays
		if err := SweepLogs(retention); err != nil {
			logger.Logger.Error("log retention sweep failed", zap.Error(err))
		}
	}); err != nil {
		logger.Logger.Error("schedule log sweep failed", zap.Error(err))
	}

	c.Start()
	return c
}
