package api

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter builds the gin engine with recovery, request logging and CORS.
func NewRouter(handler *Handler, allowedOrigins []string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	corsConfig := cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// An empty list or "*" opens the API to every origin, without credentials.
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		requestLogger(handler.logger),
		cors.New(corsConfig),
	)

	SetupRoutes(router, handler)
	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.POST("/valuations", handler.CreateValuation)
		api.GET("/properties", handler.GetAllProperties)
		api.GET("/properties/nearby", handler.GetNearbyProperties)
		api.GET("/stats", handler.GetPropertyStats)
		api.POST("/import", handler.ImportListings)
		api.POST("/scrape", handler.StartScrape)
		api.GET("/jobs", handler.ListJobs)
		api.GET("/jobs/:id", handler.GetJob)
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	}
}
