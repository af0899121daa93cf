package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/xoogware/crawlspace/internal/config"
)

// handleGetConfig returns the configuration with secrets redacted.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"config": s.cfg.Redacted(),
		"path":   s.cfg.Path(),
	})
}

type configPatch struct {
	Section string      `json:"section" binding:"required"`
	Key     string      `json:"key" binding:"required"`
	Value   interface{} `json:"value"`
}

// handlePatchConfig updates a single field, validates the result and
// persists it. Only logging.level is applied live; everything else is
// picked up on restart.
func (s *Server) handlePatchConfig(c *gin.Context) {
	var req configPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "section and key are required"})
		return
	}

	// Validate against a scratch copy so a bad value never touches the live config.
	scratch := &config.Config{Settings: s.cfg.Snapshot()}
	if err := scratch.UpdateField(req.Section, req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result := config.Validate(scratch)
	if !result.IsValid() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "configuration is invalid",
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
		return
	}

	if err := s.cfg.UpdateField(req.Section, req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	restartRequired := true
	if req.Section == "logging" && req.Key == "level" {
		if level, err := zerolog.ParseLevel(s.cfg.Snapshot().Logging.Level); err == nil && level != zerolog.NoLevel {
			zerolog.SetGlobalLevel(level)
			restartRequired = false
		}
	}

	s.logger.Info().
		Str("section", req.Section).
		Str("key", req.Key).
		Str("client_ip", c.ClientIP()).
		Bool("restart_required", restartRequired).
		Msg("configuration updated via API")

	c.JSON(http.StatusOK, gin.H{
		"message":          "configuration updated",
		"restart_required": restartRequired,
		"warnings":         result.Warnings,
	})
}
