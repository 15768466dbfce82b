package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/config"
	"github.com/networkbrawler/brawler/internal/events"
)

// handleGetConfig returns the configuration with secrets removed.
func (s *Server) handleGetConfig(c *gin.Context) {
	sec := s.cfg.GetSecurity()
	if sec.AdminToken != "" {
		sec.AdminToken = "********"
	}
	c.JSON(http.StatusOK, gin.H{
		"server":    s.cfg.GetServer(),
		"match":     s.cfg.GetMatch(),
		"discovery": s.cfg.GetDiscovery(),
		"storage":   s.cfg.GetStorage(),
		"timers":    s.cfg.GetTimers(),
		"webhook":   s.cfg.GetWebhook(),
		"mqtt":      s.cfg.GetMQTT(),
		"security":  sec,
		"logging":   s.cfg.GetLogging(),
	})
}

// handleSetMatch replaces the match section. The loop applies it at the
// next match start.
func (s *Server) handleSetMatch(c *gin.Context) {
	m := s.cfg.GetMatch()
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if result := config.ValidateMatch(m); !result.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"errors": result.Errors})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()
	if err := s.deps.Control.ApplySettings(ctx, m.Settings()); err != nil {
		c.JSON(commandStatus(err), gin.H{"error": err.Error()})
		return
	}

	s.cfg.SetMatch(m)
	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: "match",
		},
	})

	log.Info().Msg("API: match settings updated")
	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"match":  m,
	})
}
