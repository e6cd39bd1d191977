// Package router wires the public HTTP surface: the OpenAI-compatible /v1
// group and the operational endpoints.
package router

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v7"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xiaoY233/chat2api/common/config"
	"github.com/xiaoY233/chat2api/common/logger"
	"github.com/xiaoY233/chat2api/controller"
	"github.com/xiaoY233/chat2api/middleware"
	relaymodel "github.com/xiaoY233/chat2api/relay/model"
)

// SetRouter installs middleware and routes on the engine.
func SetRouter(server *gin.Engine) {
	level := glog.LevelInfo.String()
	if config.DebugEnabled {
		level = glog.LevelDebug.String()
	}

	server.Use(gin.Recovery())
	server.Use(gmw.NewLoggerMiddleware(
		gmw.WithLevel(level),
		gmw.WithLogger(logger.Logger.Named("gin")),
	))
	server.Use(middleware.RequestId())
	server.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type", "X-API-Key"},
	}))

	server.GET("/health", controller.Health)
	server.GET("/stats", controller.Stats)
	server.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := server.Group("/v1")
	v1.Use(middleware.APIKeyAuth())
	{
		v1.GET("/models", controller.ListModels)
		v1.GET("/models/:model", controller.RetrieveModel)
		v1.POST("/chat/completions", middleware.Distribute(), controller.Relay)
		v1.POST("/completions", controller.RelayNotImplemented)
		v1.POST("/embeddings", controller.RelayNotImplemented)
	}

	server.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": relaymodel.Error{
				Message: "Invalid URL (" + c.Request.Method + " " + c.Request.URL.Path + ")",
				Type:    relaymodel.ErrorTypeInvalidRequest,
				Code:    "unknown_url",
			},
		})
	})
}
