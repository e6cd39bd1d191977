package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaoY233/chat2api/model"
	"github.com/xiaoY233/chat2api/monitor"
)

var startupTime = time.Now()

// Health serves GET /health for load balancers and uptime probes.
func Health(c *gin.Context) {
	stats := monitor.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(startupTime).Seconds()),
		"active":         stats.ActiveRequests,
		"total":          stats.TotalRequests,
	})
}

// Stats serves GET /stats: the in-memory relay counters plus durable
// per-account usage from the store.
func Stats(c *gin.Context) {
	stats := monitor.GetStats()

	type accountUsage struct {
		Id           int    `json:"id"`
		ProviderId   string `json:"providerId"`
		Name         string `json:"name"`
		Status       string `json:"status"`
		RequestCount int64  `json:"requestCount"`
		TodayUsed    int64  `json:"todayUsed"`
		DailyLimit   int64  `json:"dailyLimit"`
	}
	accounts := make([]accountUsage, 0)
	providers, err := model.GetEnabledProviders()
	if err == nil {
		for _, provider := range providers {
			rows, err := model.GetAccountsByProvider(provider.Id)
			if err != nil {
				continue
			}
			for _, row := range rows {
				accounts = append(accounts, accountUsage{
					Id:           row.Id,
					ProviderId:   row.ProviderId,
					Name:         row.Name,
					Status:       row.Status,
					RequestCount: row.RequestCount,
					TodayUsed:    row.TodayUsed,
					DailyLimit:   row.DailyLimit,
				})
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"totalRequests":   stats.TotalRequests,
		"successRequests": stats.SuccessRequests,
		"failedRequests":  stats.FailedRequests,
		"activeRequests":  stats.ActiveRequests,
		"byModel":         stats.ByModel,
		"byProvider":      stats.ByProvider,
		"byAccount":       stats.ByAccount,
		"accounts":        accounts,
	})
}
