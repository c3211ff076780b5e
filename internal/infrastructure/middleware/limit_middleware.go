package middleware

import (
	"net/http"

	"roverlink/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ConcurrentSessions bounds how many requests may be inside the wrapped
// handlers at once. Requests over the limit are rejected immediately with
// 503, never queued; the same admission policy every channel here follows.
// A non-positive max disables the cap.
func ConcurrentSessions(max int, channel string, metrics *monitoring.Collector, logger *zap.SugaredLogger) gin.HandlerFunc {
	if max <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	sem := make(chan struct{}, max)

	return func(c *gin.Context) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			c.Next()
		default:
			logger.Warnw("maximum sessions reached, rejecting request",
				"channel", channel, "remote_addr", c.ClientIP(), "max", max)
			if metrics != nil {
				metrics.RecordCapacityReject(channel)
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "too many concurrent sessions",
			})
		}
	}
}
