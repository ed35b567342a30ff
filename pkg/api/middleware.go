package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finsage/finsage/pkg/observability"
)

// RequestLogger logs one line per request with method, path, status, latency
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("HTTP request", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
	}
}

// MetricsMiddleware records request counts and latencies per route
func MetricsMiddleware(metrics observability.MetricsClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.IncrementCounterWithLabels("http_requests_total", 1, map[string]string{
			"path":   path,
			"method": c.Request.Method,
		})
		metrics.RecordHistogram("http_request_duration_ms",
			float64(time.Since(start).Milliseconds()),
			map[string]string{"path": path})
	}
}
