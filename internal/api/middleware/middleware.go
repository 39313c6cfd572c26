package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/afms/internal/metrics"
)

// BearerAuth validates a static bearer token from the Authorization header.
// An empty configured token disables the check.
func BearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid Authorization header format. Expected: 'Bearer {token}'",
			})
			c.Abort()
			return
		}

		if parts[1] != token {
			log.Warn().
				Str("event_category", "security").
				Str("client_ip", c.ClientIP()).
				Str("path", c.Request.URL.Path).
				Msg("Rejected request with invalid bearer token")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Metrics records request counts and latency per path
func Metrics(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		collector.RecordHTTPRequest(c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
