package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"loom-build/internal/metrics"
)

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(recovery(logger), metricsMiddleware())

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/orchestrate", h.Orchestrate)
		api.POST("/orchestrate/preflight", h.Preflight)
		api.POST("/runs", h.EnqueueRun)
		api.POST("/runs/dispatch", h.DispatchRuns)
		api.GET("/runs/:id", h.GetRun)
	}

	return r
}

// recovery converts panics into a generic 500 without leaking internals.
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("handler panic",
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", rec))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unknown error"})
			}
		}()
		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.Get().RecordHTTPRequest(endpoint, c.Request.Method, c.Writer.Status(), time.Since(started))
	}
}
