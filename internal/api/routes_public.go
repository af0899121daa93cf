package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handlePing is a liveness probe.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns the same document a server list ping receives, plus
// uptime.
func (s *Server) handleStatus(c *gin.Context) {
	if s.deps.Status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "listener not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         s.deps.Status.Status(),
		"uptime_seconds": int64(time.Since(s.deps.Started).Seconds()),
	})
}
