package main

import (
	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/middleware"
)

func setupRouter(api *API, limiter *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(logger))

	// Health check
	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	{
		// Processing runs the model, so it is rate limited per client
		processing := v1.Group("/videos")
		if limiter != nil {
			processing.Use(middleware.RateLimit(limiter))
		}
		processing.POST("/upload", api.uploadVideo)
		processing.POST("/process-url", api.processURL)
		processing.POST("/remote", api.submitRemote)

		// Retrieval
		v1.GET("/videos", api.listVideos)
		v1.GET("/videos/:id", api.getVideo)
		v1.GET("/videos/:id/summaries", api.getSummaries)
		v1.GET("/videos/:id/search", api.searchSummaries)
	}

	return router
}
