package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/networkbrawler/brawler/internal/protocol"
	"github.com/networkbrawler/brawler/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"service":          "brawler",
		"protocol_version": protocol.Version,
	})
}

// handleServerInfo returns what a player needs to decide whether to join.
func (s *Server) handleServerInfo(c *gin.Context) {
	srv := s.cfg.GetServer()
	disc := s.cfg.GetDiscovery()
	snap := s.deps.Board.Snapshot()
	sysInfo := util.GetSystemInfo()
	localIP, _ := util.GetLocalIP()

	c.JSON(http.StatusOK, gin.H{
		"server_name":      srv.Name,
		"game_port":        srv.GamePort,
		"discovery":        disc.Enabled,
		"discovery_port":   disc.Port,
		"local_ip":         localIP,
		"protocol_version": protocol.Version,
		"phase":            snap.Match.Phase,
		"players":          len(snap.Match.Players),
		"max_peers":        srv.MaxPeers,
		"uptime_sec":       int64(snap.Uptime().Seconds()),
		"os":               sysInfo.OS,
		"cpu_model":        sysInfo.CPUModel,
		"cpu_cores":        sysInfo.CPUCores,
		"total_memory_mb":  sysInfo.TotalMemory,
	})
}
