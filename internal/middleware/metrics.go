// Package middleware holds the Gin middleware shared by every route of the UILM
// API. Registration order lives in internal/api/router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → SecurityHeaders → Tenant → RateLimit → Handler
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uilm/uilm-service/internal/telemetry"
)

// MetricsMiddleware records http_requests_total and http_request_duration_seconds
// for every request. The path label is the matched route template, or
// "<no-route>" for 404/405 responses, so raw URLs never become labels.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method
		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
