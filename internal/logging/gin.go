package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GinLogrusLogger returns gin middleware that logs each request through the
// shared logger. Health probes are logged at debug to keep the log readable.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    path,
			"latency": time.Since(start).Round(time.Millisecond).String(),
			"client":  c.ClientIP(),
		}
		entry := std.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("request rejected")
		case path == "/health":
			entry.Debug("request completed")
		default:
			entry.Info("request completed")
		}
	}
}

// GinLogrusRecovery returns gin middleware that recovers panics and logs them
// with a 500 response instead of killing the worker.
func GinLogrusRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				std.WithField("panic", r).Error("handler panic recovered")
				c.AbortWithStatusJSON(500, gin.H{"error": gin.H{"message": "internal server error"}})
			}
		}()
		c.Next()
	}
}
