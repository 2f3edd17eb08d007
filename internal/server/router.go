package server

import (
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/knowledgeflow-backend/internal/monitoring"
)

type RouterConfig struct {
	Auth *AuthMiddleware
	API  *API
}

func httpMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		monitoring.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		monitoring.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpMetrics())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Appid", "X-Key", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/monitor/health", cfg.API.MonitorHealth)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(cfg.Auth.RequireAppKey())

	// Conversion
	protected.POST("/convert", cfg.API.Convert)
	protected.GET("/formats", cfg.API.Formats)
	// Task polling
	protected.GET("/tasks/:id", cfg.API.TaskStatus)
	// Video + manifest enrichment
	protected.POST("/video/slice", cfg.API.VideoSlice)
	protected.POST("/meta/enrich", cfg.API.MetaEnrich)

	api := protected.Group("/api/v1")
	// Pipeline orchestration
	api.POST("/pipeline/upload", cfg.API.PipelineUpload)
	api.POST("/pipeline/recommend", cfg.API.PipelineRecommend)
	// Vector workers
	api.POST("/vector/embed", cfg.API.VectorEmbed)
	api.POST("/vector/rerank", cfg.API.VectorRerank)
	// Index lifecycle
	api.POST("/index/create", cfg.API.IndexCreate)
	api.POST("/index/alias_switch", cfg.API.IndexAliasSwitch)
	api.POST("/index/bulk", cfg.API.IndexBulk)
	api.POST("/index/docindex", cfg.API.IndexDocindex)
	api.POST("/index/rebuild/full", cfg.API.IndexRebuildFull)
	api.POST("/index/rebuild/partial", cfg.API.IndexRebuildPartial)
	api.POST("/index/delete_by_query", cfg.API.IndexDeleteByQuery)
	// Search
	api.POST("/search", cfg.API.Search)
	api.POST("/search/vector", cfg.API.SearchVector)
	api.POST("/search/hybrid", cfg.API.SearchHybrid)

	return router
}
