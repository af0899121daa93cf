package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultKickReason is shown to players kicked without an explicit reason.
const DefaultKickReason = "Kicked by an operator"

type kickRequest struct {
	Reason string `json:"reason"`
}

func bindKickReason(c *gin.Context) string {
	var req kickRequest
	// An empty body is allowed.
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&req)
	}
	if req.Reason == "" {
		return DefaultKickReason
	}
	return req.Reason
}

// handleKick disconnects one player by UUID or name.
func (s *Server) handleKick(c *gin.Context) {
	entry, ok := s.deps.Sessions.Lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}

	reason := bindKickReason(c)
	if !s.deps.Sessions.Kick(entry.UUID, reason) {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}

	s.logger.Info().
		Str("player", entry.Name).
		Str("uuid", entry.UUID.String()).
		Str("reason", reason).
		Str("client_ip", c.ClientIP()).
		Msg("player kicked via API")

	c.JSON(http.StatusOK, gin.H{
		"message": "player kicked",
		"uuid":    entry.UUID,
		"name":    entry.Name,
	})
}

// handleKickAll disconnects every online player.
func (s *Server) handleKickAll(c *gin.Context) {
	reason := bindKickReason(c)
	count := s.deps.Sessions.Count()
	s.deps.Sessions.DisconnectAll(reason)

	s.logger.Info().
		Int("players", count).
		Str("reason", reason).
		Str("client_ip", c.ClientIP()).
		Msg("all players kicked via API")

	c.JSON(http.StatusOK, gin.H{
		"message": "players kicked",
		"count":   count,
	})
}
