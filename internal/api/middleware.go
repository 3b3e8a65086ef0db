package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsMiddleware adds CORS headers to every response. The posture matches the
// original gateway: echo the caller's Origin, allow whatever headers the
// preflight asked for, cache preflights for a day.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		allowHeaders := c.GetHeader("Access-Control-Request-Headers")
		if allowHeaders == "" {
			allowHeaders = "Authorization, Content-Type, Accept"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", allowHeaders)
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// apiKeyAuth rejects requests that lack one of the configured keys. With no
// keys configured the server stays open; a key is read from a Bearer
// Authorization header or x-api-key.
func (s *Server) apiKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := s.snapshot().APIKeys
		if len(keys) == 0 {
			c.Next()
			return
		}
		supplied := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer"))
		if supplied == "" {
			supplied = strings.TrimSpace(c.GetHeader("x-api-key"))
		}
		if supplied != "" {
			for _, k := range keys {
				if supplied == k {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "Invalid API key"}})
	}
}

// responsesEnabled hides the Responses surface when enable-responses-api is
// off, mirroring deployments where the surface simply does not exist.
func (s *Server) responsesEnabled() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.snapshot().ResponsesAPIEnabled() {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "Not found"}})
			return
		}
		c.Next()
	}
}
