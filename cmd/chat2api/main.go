package main

import (
	"strconv"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/xiaoY233/chat2api/common/client"
	"github.com/xiaoY233/chat2api/common/config"
	"github.com/xiaoY233/chat2api/common/logger"
	"github.com/xiaoY233/chat2api/model"
	"github.com/xiaoY233/chat2api/router"
)

func main() {
	// Missing .env is fine; the environment may carry everything already.
	_ = godotenv.Load()

	if config.DebugEnabled {
		logger.Logger.Info("running in debug mode")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	client.Init()

	if err := model.InitDB(); err != nil {
		logger.Logger.Fatal("initialize database", zap.Error(err))
	}
	if err := model.LoadAppConfig(); err != nil {
		logger.Logger.Fatal("load app config", zap.Error(err))
	}

	scheduler := model.StartScheduler()
	defer scheduler.Stop()

	server := gin.New()
	router.SetRouter(server)

	port := model.GetConfig().ProxyPort
	if port <= 0 {
		port = config.Port
	}
	logger.Logger.Info("chat2api gateway listening", zap.Int("port", port))
	if err := server.Run(":" + strconv.Itoa(port)); err != nil {
		logger.Logger.Fatal("run server", zap.Int("port", port), zap.Error(err))
	}
}
