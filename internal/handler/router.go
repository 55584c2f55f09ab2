package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xxxsen/lavadoc/internal/middleware"
)

type RouterDeps struct {
	Documents *DocumentHandler
	Versions  *VersionHandler
	Messages  *MessageHandler
	Health    *HealthHandler
	RateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/document", deps.Documents.Get)
	api.PUT("/document", deps.Documents.Update)
	api.POST("/document/restore", deps.Documents.Restore)

	api.GET("/document/versions", deps.Versions.List)
	api.GET("/document/versions/:version", deps.Versions.Get)

	limited := api.Group("")
	limited.Use(middleware.RateLimit(deps.RateLimit))
	limited.POST("/messages", deps.Messages.Send)
	api.GET("/messages", deps.Messages.List)

	api.GET("/health", deps.Health.Check)
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
