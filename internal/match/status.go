package match

import (
	"time"

	"github.com/networkbrawler/brawler/internal/protocol"
)

// PlayerStatus is a read-only view of one connected player.
type PlayerStatus struct {
	Slot       int    `json:"slot"`
	Peer       uint32 `json:"peer"`
	Name       string `json:"name"`
	Named      bool   `json:"named"`
	Ready      bool   `json:"ready"`
	Dead       bool   `json:"dead"`
	Score      uint32 `json:"score"`
	HasBrawler bool   `json:"has_brawler"`
	BrawlerID  uint32 `json:"brawler_id"`
	Playing    bool   `json:"playing"`
}

// Status is a copy of the match state, safe to hand to other goroutines.
type Status struct {
	Phase           protocol.GamePhase          `json:"phase"`
	MatchNumber     uint64                      `json:"match_number"`
	MatchTime       time.Duration               `json:"match_time_ns"`
	StartedAt       time.Time                   `json:"started_at"`
	CountdownActive bool                        `json:"countdown_active"`
	CountdownLeft   time.Duration               `json:"countdown_left_ns"`
	NextElimination time.Duration               `json:"next_elimination_ns"`
	Players         []PlayerStatus              `json:"players"`
	Leaderboard     []protocol.LeaderboardEntry `json:"leaderboard"`
	Alive           int                         `json:"alive"`
	GoldenHolder    string                      `json:"golden_holder,omitempty"`
	LastWinner      string                      `json:"last_winner,omitempty"`
	Objects         int                         `json:"objects"`
	Settings        Settings                    `json:"settings"`
}

// Status returns a snapshot of the current state.
func (m *Match) Status() Status {
	s := Status{
		Phase:           m.phase,
		MatchNumber:     m.matchNumber,
		MatchTime:       m.clock,
		StartedAt:       m.startedAt,
		CountdownActive: m.countdownActive,
		CountdownLeft:   max(m.countdownLeft, 0),
		Alive:           len(m.alive()),
		LastWinner:      m.lastWinner,
		Objects:         m.world.Len(),
		Settings:        m.settings,
		Leaderboard:     LeaderboardMessage(m.leaderboard).Entries,
	}
	if m.phase == protocol.PhaseGameRunning {
		s.NextElimination = m.settings.KillInterval - m.killTimer
	}
	if m.goldenHolder != nil {
		s.GoldenHolder = m.goldenHolder.DisplayName()
	}

	playing := make(map[*Player]bool, len(m.playing))
	for _, p := range m.playing {
		playing[p] = true
	}
	for _, p := range m.roster.Connected() {
		s.Players = append(s.Players, PlayerStatus{
			Slot:       p.Index,
			Peer:       uint32(p.Peer),
			Name:       p.DisplayName(),
			Named:      p.Named,
			Ready:      p.IsReady,
			Dead:       p.IsDead,
			Score:      p.Score,
			HasBrawler: p.HasBrawler,
			BrawlerID:  p.BrawlerID,
			Playing:    playing[p],
		})
	}
	return s
}
