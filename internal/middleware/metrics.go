package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campusiq-api/internal/service"
)

// unmatchedRoute labels requests no route matched, keeping raw paths such as
// /api/v1/requests/123 out of the label set.
const unmatchedRoute = "unmatched"

// Metrics records request duration and count per route template. Routes in skip,
// typically the scrape and health endpoints, are not observed.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, route := range skip {
		skipped[route] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if _, ok := skipped[route]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
