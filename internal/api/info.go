package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yaananth/chatmock/internal/logging"
)

// health reports process liveness plus the request counters and prompt cache
// state, in the shape the original gateway served.
func (s *Server) health(c *gin.Context) {
	counters := s.usage.Counters()
	var successRate float64
	if counters.TotalRequests > 0 {
		successRate = float64(counters.SuccessCount) / float64(counters.TotalRequests) * 100
	}

	var lastRequest any
	if counters.LastRequestAt != nil {
		lastRequest = counters.LastRequestAt.UTC().Format(time.RFC3339)
	}

	promptCache := any(gin.H{"error": "prompt cache not configured"})
	if s.prompts != nil {
		promptCache = s.prompts.Info()
	}

	uptime := time.Since(s.startedAt)
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"metrics": gin.H{
			"uptime_seconds": int64(uptime.Seconds()),
			"uptime_human":   formatUptime(uptime),
			"requests": gin.H{
				"total":        counters.TotalRequests,
				"success":      counters.SuccessCount,
				"error":        counters.FailureCount,
				"success_rate": successRate,
			},
			"last_request": lastRequest,
		},
		"prompt_cache": promptCache,
	})
}

func formatUptime(d time.Duration) string {
	secs := int64(d.Seconds())
	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60
	seconds := secs % 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))
	return strings.Join(parts, " ")
}

// rateLimits serves the last captured backend quota snapshot.
func (s *Server) rateLimits(c *gin.Context) {
	if s.limits == nil {
		jsonError(c, http.StatusNotFound, "No rate limit data recorded yet")
		return
	}
	snap := s.limits.Current()
	if snap == nil {
		jsonError(c, http.StatusNotFound, "No rate limit data recorded yet")
		return
	}
	c.JSON(http.StatusOK, snap)
}

// usageReport serves the counters plus, when a backend is configured, the
// historical breakdowns. ?since narrows the window (RFC3339).
func (s *Server) usageReport(c *gin.Context) {
	since := time.Time{}
	if v := strings.TrimSpace(c.Query("since")); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			jsonError(c, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = parsed
	}
	c.JSON(http.StatusOK, s.usage.Snapshot(c.Request.Context(), since))
}

// diagnosticsWS upgrades to a websocket tailing the diagnostic event ring.
func (s *Server) diagnosticsWS(c *gin.Context) {
	if s.diag == nil {
		jsonError(c, http.StatusNotFound, "Diagnostics not configured")
		return
	}
	if err := s.diag.ServeWS(c.Writer, c.Request); err != nil {
		logging.WithError(err).Debug("Diagnostics socket closed")
	}
}
