package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sst-nyc/registration-api/internal/service"
)

// Metrics captures request timing and counts through the metrics service.
// Unmatched routes share one label so scanners probing random paths cannot
// inflate label cardinality.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
