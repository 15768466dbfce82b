package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/server"
)

const commandTimeout = 5 * time.Second

// commandStatus maps a loop command error to an HTTP status.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, server.ErrSlotEmpty):
		return http.StatusNotFound
	case errors.Is(err, server.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleResetMatch forces the match back to the lobby.
func (s *Server) handleResetMatch(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	if err := s.deps.Control.ResetMatch(ctx); err != nil {
		log.Error().Err(err).Msg("API: reset match failed")
		c.JSON(commandStatus(err), gin.H{"error": err.Error()})
		return
	}

	log.Info().Msg("API: match reset")
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// handleKick disconnects the player in a roster slot.
func (s *Server) handleKick(c *gin.Context) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	if err := s.deps.Control.Kick(ctx, slot); err != nil {
		c.JSON(commandStatus(err), gin.H{"error": err.Error(), "slot": slot})
		return
	}

	log.Info().Int("slot", slot).Msg("API: player kicked")
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "slot": slot})
}
