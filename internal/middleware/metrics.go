package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-eligibility-api/internal/service"
)

const unmatchedRoute = "unmatched"

// Metrics records request latency and status per route template. Requests that
// match no route share one label so probing clients cannot grow the series set,
// and the scrape endpoint itself is not observed.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
