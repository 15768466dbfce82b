package match

import (
	"fmt"
	"sort"

	"github.com/networkbrawler/brawler/internal/network"
	"github.com/networkbrawler/brawler/internal/protocol"
)

// Player is one roster slot. A slot with Connected false is free.
type Player struct {
	Peer       network.PeerID
	Index      int
	Connected  bool
	Named      bool
	Name       string
	IsReady    bool
	IsDead     bool
	Score      uint32
	BrawlerID  uint32
	HasBrawler bool
	Inputs     protocol.Inputs
}

// DisplayName returns the name shown to other players.
func (p *Player) DisplayName() string {
	if p.Name == "" {
		return fmt.Sprintf("Player %d", p.Index)
	}
	return p.Name
}

// Roster owns every player slot. Slots are reused first-free so display
// ids stay small.
type Roster struct {
	slots  []*Player
	byPeer map[network.PeerID]*Player
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{byPeer: make(map[network.PeerID]*Player)}
}

// Add claims the first free slot for peer, appending one if none is free.
func (r *Roster) Add(peer network.PeerID) *Player {
	if p, ok := r.byPeer[peer]; ok {
		return p
	}

	var p *Player
	for _, s := range r.slots {
		if !s.Connected {
			p = s
			break
		}
	}
	if p == nil {
		p = &Player{Index: len(r.slots)}
		r.slots = append(r.slots, p)
	}

	*p = Player{Index: p.Index, Peer: peer, Connected: true}
	r.byPeer[peer] = p
	return p
}

// Remove frees the peer's slot. The returned player keeps its fields until
// the slot is claimed again.
func (r *Roster) Remove(peer network.PeerID) (*Player, bool) {
	p, ok := r.byPeer[peer]
	if !ok {
		return nil, false
	}
	delete(r.byPeer, peer)
	p.Connected = false
	p.Peer = 0
	return p, true
}

// ByPeer returns the player connected through peer.
func (r *Roster) ByPeer(peer network.PeerID) (*Player, bool) {
	p, ok := r.byPeer[peer]
	return p, ok
}

// ByBrawler returns the connected player owning brawler id.
func (r *Roster) ByBrawler(id uint32) (*Player, bool) {
	for _, p := range r.slots {
		if p.Connected && p.HasBrawler && p.BrawlerID == id {
			return p, true
		}
	}
	return nil, false
}

// Slot returns the player at index if it is connected.
func (r *Roster) Slot(index int) (*Player, bool) {
	if index < 0 || index >= len(r.slots) || !r.slots[index].Connected {
		return nil, false
	}
	return r.slots[index], true
}

// Connected returns every connected player by slot order.
func (r *Roster) Connected() []*Player {
	var out []*Player
	for _, p := range r.slots {
		if p.Connected {
			out = append(out, p)
		}
	}
	return out
}

// Named returns every connected player that has announced a name.
func (r *Roster) Named() []*Player {
	var out []*Player
	for _, p := range r.slots {
		if p.Connected && p.Named {
			out = append(out, p)
		}
	}
	return out
}

// Recipients returns the peers of named players. Unnamed peers receive
// nothing until their join burst.
func (r *Roster) Recipients() []network.PeerID {
	var out []network.PeerID
	for _, p := range r.Named() {
		out = append(out, p.Peer)
	}
	return out
}

// PlayerList builds the roster message.
func (r *Roster) PlayerList() protocol.PlayerList {
	var list protocol.PlayerList
	for _, p := range r.Named() {
		list.Players = append(list.Players, protocol.PlayerListEntry{
			ID:         uint32(p.Index),
			Name:       p.DisplayName(),
			IsDead:     p.IsDead,
			HasBrawler: p.HasBrawler,
			BrawlerID:  p.BrawlerID,
		})
	}
	return list
}

// SortLeaderboard orders players alive first, then by score descending.
// Equal players keep their prior relative order.
func SortLeaderboard(players []*Player) {
	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if a.IsDead != b.IsDead {
			return !a.IsDead
		}
		return a.Score > b.Score
	})
}

// LeaderboardMessage builds the ranking message from an already sorted list.
func LeaderboardMessage(players []*Player) protocol.UpdateLeaderboard {
	msg := protocol.UpdateLeaderboard{Entries: make([]protocol.LeaderboardEntry, 0, len(players))}
	for _, p := range players {
		msg.Entries = append(msg.Entries, protocol.LeaderboardEntry{
			PlayerID: uint32(p.Index),
			Name:     p.DisplayName(),
			Score:    p.Score,
			IsDead:   p.IsDead,
		})
	}
	return msg
}

// truncateName cuts name to MaxNameLength bytes without splitting a rune.
func truncateName(name string) string {
	if len(name) <= protocol.MaxNameLength {
		return name
	}
	cut := protocol.MaxNameLength
	for cut > 0 && !isRuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
