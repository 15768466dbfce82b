package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/networkbrawler/brawler/internal/db"
	"github.com/networkbrawler/brawler/internal/util"
)

const maxListLimit = 200

// handleStatus returns the whole server snapshot.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Board.Snapshot())
}

// handleMatch returns the match state without the per-player list.
func (s *Server) handleMatch(c *gin.Context) {
	m := s.deps.Board.Snapshot().Match
	c.JSON(http.StatusOK, gin.H{
		"phase":               m.Phase,
		"match_number":        m.MatchNumber,
		"match_time_ms":       m.MatchTime.Milliseconds(),
		"countdown_active":    m.CountdownActive,
		"countdown_left_ms":   m.CountdownLeft.Milliseconds(),
		"next_elimination_ms": m.NextElimination.Milliseconds(),
		"alive":               m.Alive,
		"objects":             m.Objects,
		"golden_holder":       m.GoldenHolder,
		"last_winner":         m.LastWinner,
	})
}

func (s *Server) handlePlayers(c *gin.Context) {
	players := s.deps.Board.Snapshot().Match.Players
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"total":   len(players),
	})
}

// handlePeers returns transport accounting for every connected peer,
// including peers that have not sent a name yet.
func (s *Server) handlePeers(c *gin.Context) {
	if s.deps.Peers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "peer accounting is not available"})
		return
	}
	peers := s.deps.Peers.GetAll()
	var in, out uint64
	for _, p := range peers {
		in += p.BytesIn
		out += p.BytesOut
	}
	c.JSON(http.StatusOK, gin.H{
		"peers":     peers,
		"total":     len(peers),
		"bytes_in":  in,
		"bytes_out": out,
	})
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	entries := s.deps.Board.Snapshot().Match.Leaderboard
	rows := make([]gin.H, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, gin.H{
			"rank":      i + 1,
			"player_id": e.PlayerID,
			"name":      e.Name,
			"score":     e.Score,
			"dead":      e.IsDead,
		})
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": rows})
}

// limitParam reads ?limit=, clamped to [1, maxListLimit].
func limitParam(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || n < 1 {
		return def
	}
	return min(n, maxListLimit)
}

func (s *Server) requireResults(c *gin.Context) bool {
	if s.deps.Results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "match history is not enabled"})
		return false
	}
	return true
}

func (s *Server) handleRecentMatches(c *gin.Context) {
	if !s.requireResults(c) {
		return
	}
	matches, err := s.deps.Results.RecentMatches(limitParam(c, 20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if matches == nil {
		matches = []db.MatchRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"matches": matches,
		"count":   len(matches),
	})
}

func (s *Server) handlePlayerStats(c *gin.Context) {
	if !s.requireResults(c) {
		return
	}
	stats, err := s.deps.Results.PlayerStats(c.Param("name"))
	if errors.Is(err, db.ErrNoResults) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleTopPlayers(c *gin.Context) {
	if !s.requireResults(c) {
		return
	}
	top, err := s.deps.Results.TopPlayers(limitParam(c, 10))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if top == nil {
		top = []db.PlayerStats{}
	}
	c.JSON(http.StatusOK, gin.H{"players": top})
}

// handleLag returns long frame statistics and the current alert level.
func (s *Server) handleLag(c *gin.Context) {
	if s.deps.Lag == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lag monitor is not running"})
		return
	}
	data := s.deps.Lag.Data()
	resp := gin.H{
		"total_events":        data.TotalEvents,
		"events_this_hour":    data.EventsThisHour,
		"total_skipped_ticks": data.TotalSkippedTicks,
		"max_behind_ms":       data.MaxBehindMs,
		"avg_behind_ms":       data.AvgBehindMs,
		"hourly_buckets":      data.HourlyBuckets,
	}
	if !data.LastEventTime.IsZero() {
		resp["last_event_time"] = data.LastEventTime
	}
	if alert, ok := s.deps.Lag.CheckThresholds(); ok {
		resp["alert"] = alert
	}
	c.JSON(http.StatusOK, resp)
}

// handleCPUUsage returns current system CPU usage.
func (s *Server) handleCPUUsage(c *gin.Context) {
	usage, err := util.GetCPUUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cpu_percent": usage})
}

// handleMemoryUsage returns current system memory usage.
func (s *Server) handleMemoryUsage(c *gin.Context) {
	mem, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, mem)
}

func (s *Server) handleProcessUsage(c *gin.Context) {
	usage, err := util.GetProcessUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, usage)
}
