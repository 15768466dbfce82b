// Package client mirrors the server's replicated world and turns local
// intent into client messages.
package client

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/protocol"
	"github.com/networkbrawler/brawler/internal/replication"
)

const (
	// DefaultSnapshotBuffer is how many recent snapshots are kept.
	DefaultSnapshotBuffer = 8
	// DefaultDeathEffectLifetime is how long a death effect stays on screen.
	DefaultDeathEffectLifetime = 1500 * time.Millisecond
	// DefaultName is shown for brawlers created without a name.
	DefaultName = "Default Name"
)

// Mirror is the local copy of one replicated object.
type Mirror struct {
	ID          uint32                   `json:"id"`
	Kind        replication.Kind         `json:"kind"`
	PlayerID    uint32                   `json:"player_id"`
	Name        string                   `json:"name,omitempty"`
	Position    protocol.Vec2            `json:"position"`
	Velocity    protocol.Vec2            `json:"velocity"`
	Scale       float32                  `json:"scale"`
	Collectible protocol.CollectibleType `json:"collectible"`
}

// PlayerView is a player as the client knows it.
type PlayerView struct {
	ID         uint32 `json:"id"`
	Name       string `json:"name"`
	IsDead     bool   `json:"is_dead"`
	HasBrawler bool   `json:"has_brawler"`
	BrawlerID  uint32 `json:"brawler_id"`
}

// Effect is a transient death marker.
type Effect struct {
	PlayerID  uint32        `json:"player_id"`
	BrawlerID uint32        `json:"brawler_id"`
	Position  protocol.Vec2 `json:"position"`
	FacingX   int8          `json:"facing_x"`
	Remaining time.Duration `json:"remaining"`
}

// Standing classifies a leaderboard line.
type Standing int

const (
	StandingSafe Standing = iota
	StandingDanger
	StandingDead
)

func (s Standing) String() string {
	switch s {
	case StandingSafe:
		return "safe"
	case StandingDanger:
		return "danger"
	case StandingDead:
		return "dead"
	}
	return "unknown"
}

// LeaderboardLine is one ranked entry with its standing.
type LeaderboardLine struct {
	Rank     int
	Entry    protocol.LeaderboardEntry
	Standing Standing
}

// Outgoing is an encoded message waiting to be sent.
type Outgoing struct {
	Data     []byte
	Reliable bool
}

// Options configures a Consumer. Zero values take defaults.
type Options struct {
	SnapshotBuffer      int
	DeathEffectLifetime time.Duration
}

// Consumer applies server messages to the local mirror. It is not safe for
// concurrent use.
type Consumer struct {
	parser *protocol.Parser
	logger zerolog.Logger
	opts   Options

	objects map[uint32]*Mirror
	players map[uint32]*PlayerView

	selfBrawler uint32
	hasSelf     bool
	phase       protocol.GamePhase
	mode        protocol.PlayerMode
	ready       bool
	collected   int

	leaderboard []protocol.LeaderboardEntry
	winner      uint32
	hasWinner   bool
	golden      uint32
	hasGolden   bool

	snapshots []protocol.EntityStates
	effects   []Effect

	inputs   protocol.Inputs
	outgoing []Outgoing
	spectate int
}

// NewConsumer creates an empty mirror. Until the server assigns a brawler
// the local player is a spectator.
func NewConsumer(opts Options) *Consumer {
	if opts.SnapshotBuffer <= 0 {
		opts.SnapshotBuffer = DefaultSnapshotBuffer
	}
	if opts.DeathEffectLifetime <= 0 {
		opts.DeathEffectLifetime = DefaultDeathEffectLifetime
	}
	return &Consumer{
		parser:  protocol.NewParser("client"),
		logger:  log.With().Str("component", "consumer").Logger(),
		opts:    opts,
		objects: make(map[uint32]*Mirror),
		players: make(map[uint32]*PlayerView),
		phase:   protocol.PhaseLobby,
		mode:    protocol.ModeSpectating,
	}
}

// HandleMessage decodes and applies one server message.
func (c *Consumer) HandleMessage(data []byte) error {
	pkt, err := c.parser.Parse(data)
	if err != nil {
		return err
	}
	return c.Apply(pkt)
}

// Apply applies a decoded server message.
func (c *Consumer) Apply(pkt protocol.Packet) error {
	switch v := pkt.(type) {
	case protocol.PlayerList:
		c.applyPlayerList(v)
	case protocol.CreateBrawler:
		c.applyCreateBrawler(v)
	case protocol.CreateCollectible:
		c.applyCreateCollectible(v)
	case protocol.DeleteEntity:
		c.applyDelete(v.ID)
	case protocol.EntityStates:
		c.applyStates(v)
	case protocol.UpdateSelfBrawlerID:
		c.selfBrawler = v.BrawlerID
		c.hasSelf = true
		c.mode = protocol.ModePlaying
	case protocol.UpdateGameState:
		c.applyPhase(v.Phase)
	case protocol.UpdatePlayerMode:
		c.mode = v.Mode
	case protocol.UpdateLeaderboard:
		c.leaderboard = append(c.leaderboard[:0], v.Entries...)
	case protocol.Winner:
		c.winner = v.BrawlerID
		c.hasWinner = true
	case protocol.BrawlerDeath:
		c.applyDeath(v)
	case protocol.PlayerSteal:
		c.golden = v.HolderBrawlerID
		c.hasGolden = v.HolderBrawlerID != protocol.NoHolder
	case protocol.CollectibleCollected:
		c.collected++
	default:
		return fmt.Errorf("unexpected %s from server", pkt.Opcode())
	}
	return nil
}

func (c *Consumer) applyPlayerList(list protocol.PlayerList) {
	players := make(map[uint32]*PlayerView, len(list.Players))
	for _, e := range list.Players {
		players[e.ID] = &PlayerView{
			ID:         e.ID,
			Name:       e.Name,
			IsDead:     e.IsDead,
			HasBrawler: e.HasBrawler,
			BrawlerID:  e.BrawlerID,
		}
	}
	c.players = players
}

func (c *Consumer) applyCreateBrawler(v protocol.CreateBrawler) {
	name := v.Name
	if name == "" {
		name = DefaultName
	}
	m, ok := c.objects[v.BrawlerID]
	if !ok {
		m = &Mirror{ID: v.BrawlerID}
		c.objects[v.BrawlerID] = m
	}
	m.Kind = replication.KindBrawler
	m.PlayerID = v.PlayerID
	m.Name = name
	m.Position = v.Position
	m.Velocity = v.Velocity
	m.Scale = v.Scale

	if p, ok := c.players[v.PlayerID]; ok {
		p.HasBrawler = true
		p.BrawlerID = v.BrawlerID
	}
}

func (c *Consumer) applyCreateCollectible(v protocol.CreateCollectible) {
	m, ok := c.objects[v.ID]
	if !ok {
		m = &Mirror{ID: v.ID}
		c.objects[v.ID] = m
	}
	m.Kind = replication.KindCollectible
	if v.Type == protocol.CollectibleGolden {
		m.Kind = replication.KindGolden
	}
	m.Position = v.Position
	m.Scale = v.Scale
	m.Collectible = v.Type
}

func (c *Consumer) applyDelete(id uint32) {
	if _, ok := c.objects[id]; !ok {
		c.logger.Debug().Uint32("id", id).Msg("delete for unknown object")
		return
	}
	delete(c.objects, id)
	if c.hasSelf && c.selfBrawler == id {
		c.hasSelf = false
	}
}

func (c *Consumer) applyStates(v protocol.EntityStates) {
	for _, s := range v.States {
		if m, ok := c.objects[s.ID]; ok {
			m.Position = s.Position
			m.Velocity = s.Velocity
		}
	}
	if len(c.snapshots) == c.opts.SnapshotBuffer {
		copy(c.snapshots, c.snapshots[1:])
		c.snapshots = c.snapshots[:len(c.snapshots)-1]
	}
	c.snapshots = append(c.snapshots, v)
}

func (c *Consumer) applyPhase(phase protocol.GamePhase) {
	if phase == protocol.PhaseLobby {
		c.ready = false
		c.hasWinner = false
		c.hasGolden = false
		if c.mode == protocol.ModeSpectating {
			c.queue(protocol.CreateBrawlerRequest{})
		} else {
			c.collected = 0
		}
	}
	c.phase = phase
}

func (c *Consumer) applyDeath(v protocol.BrawlerDeath) {
	if _, ok := c.objects[v.BrawlerID]; ok {
		c.effects = append(c.effects, Effect{
			PlayerID:  v.PlayerID,
			BrawlerID: v.BrawlerID,
			Position:  v.Position,
			FacingX:   v.FacingX,
			Remaining: c.opts.DeathEffectLifetime,
		})
	}
	if p, ok := c.players[v.PlayerID]; ok {
		p.IsDead = true
	}
}

// ---- Intent ----

// Join queues the name announcement.
func (c *Consumer) Join(name string) {
	c.queue(protocol.PlayerName{Name: name})
}

// SetInputs replaces the held movement keys.
func (c *Consumer) SetInputs(in protocol.Inputs) { c.inputs = in }

// ToggleReady flips readiness in the lobby or end screen and reports whether
// a message was queued.
func (c *Consumer) ToggleReady() bool {
	if c.phase != protocol.PhaseLobby && c.phase != protocol.PhaseEndScreen {
		return false
	}
	c.ready = !c.ready
	c.queue(protocol.PlayerReady{Ready: c.ready})
	return true
}

// RequestSteal asks to take the golden collectible from target.
func (c *Consumer) RequestSteal(target uint32) bool {
	if c.phase != protocol.PhaseGameRunning || c.mode != protocol.ModePlaying || !c.hasSelf {
		return false
	}
	c.queue(protocol.PlayerStealRequest{TargetBrawlerID: target})
	return true
}

// Tick expires effects and queues this tick's inputs.
func (c *Consumer) Tick(dt time.Duration) {
	kept := c.effects[:0]
	for _, e := range c.effects {
		e.Remaining -= dt
		if e.Remaining > 0 {
			kept = append(kept, e)
		}
	}
	c.effects = kept

	if c.hasSelf && c.mode == protocol.ModePlaying {
		c.queue(protocol.PlayerInputs{BrawlerID: c.selfBrawler, Inputs: c.inputs})
	}
}

// DrainOutgoing returns and clears the queued messages.
func (c *Consumer) DrainOutgoing() []Outgoing {
	out := c.outgoing
	c.outgoing = nil
	return out
}

func (c *Consumer) queue(pkt protocol.Packet) {
	c.outgoing = append(c.outgoing, Outgoing{
		Data:     protocol.BuildMessage(pkt),
		Reliable: protocol.IsReliable(pkt.Opcode()),
	})
}

// ---- Spectating ----

// SpectateCandidates returns alive players with a mirrored brawler, by id.
func (c *Consumer) SpectateCandidates() []PlayerView {
	var out []PlayerView
	for _, p := range c.players {
		if p.IsDead || !p.HasBrawler {
			continue
		}
		if _, ok := c.objects[p.BrawlerID]; !ok {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CycleSpectate moves the spectated player by delta, wrapping around.
func (c *Consumer) CycleSpectate(delta int) {
	n := len(c.SpectateCandidates())
	if n == 0 {
		c.spectate = 0
		return
	}
	c.spectate = ((c.spectate+delta)%n + n) % n
}

// Spectated returns the player being watched.
func (c *Consumer) Spectated() (PlayerView, bool) {
	cands := c.SpectateCandidates()
	if len(cands) == 0 {
		c.spectate = 0
		return PlayerView{}, false
	}
	if c.spectate >= len(cands) {
		c.spectate = len(cands) - 1
	}
	return cands[c.spectate], true
}

// ---- Read side ----

// Phase returns the last announced phase.
func (c *Consumer) Phase() protocol.GamePhase { return c.phase }

// Mode returns the local player mode.
func (c *Consumer) Mode() protocol.PlayerMode { return c.mode }

// Ready reports the local readiness flag.
func (c *Consumer) Ready() bool { return c.ready }

// Collected returns collectibles picked up this match.
func (c *Consumer) Collected() int { return c.collected }

// SelfBrawler returns the local player's brawler id.
func (c *Consumer) SelfBrawler() (uint32, bool) { return c.selfBrawler, c.hasSelf }

// Object returns a copy of the mirror for id.
func (c *Consumer) Object(id uint32) (Mirror, bool) {
	m, ok := c.objects[id]
	if !ok {
		return Mirror{}, false
	}
	return *m, true
}

// Len returns the number of mirrored objects.
func (c *Consumer) Len() int { return len(c.objects) }

// Player returns the known state of player id.
func (c *Consumer) Player(id uint32) (PlayerView, bool) {
	p, ok := c.players[id]
	if !ok {
		return PlayerView{}, false
	}
	return *p, true
}

// GoldenHolder returns the brawler holding the golden collectible.
func (c *Consumer) GoldenHolder() (uint32, bool) { return c.golden, c.hasGolden }

// IsWinner reports whether the announced winner is our brawler.
func (c *Consumer) IsWinner() bool {
	return c.hasWinner && c.hasSelf && c.winner == c.selfBrawler
}

// Snapshots returns the buffered snapshots, oldest first.
func (c *Consumer) Snapshots() []protocol.EntityStates {
	return append([]protocol.EntityStates(nil), c.snapshots...)
}

// LeaderboardLines ranks the last leaderboard. A living entry is in danger
// when it is last or the next entry is dead.
func (c *Consumer) LeaderboardLines() []LeaderboardLine {
	lines := make([]LeaderboardLine, len(c.leaderboard))
	for i, e := range c.leaderboard {
		standing := StandingSafe
		switch {
		case e.IsDead:
			standing = StandingDead
		case i == len(c.leaderboard)-1, c.leaderboard[i+1].IsDead:
			standing = StandingDanger
		}
		lines[i] = LeaderboardLine{Rank: i + 1, Entry: e, Standing: standing}
	}
	return lines
}

// View is a read-only copy of everything a renderer needs.
type View struct {
	Phase       protocol.GamePhase  `json:"phase"`
	Mode        protocol.PlayerMode `json:"mode"`
	Ready       bool                `json:"ready"`
	Self        uint32              `json:"self"`
	HasSelf     bool                `json:"has_self"`
	Objects     []Mirror            `json:"objects"`
	Players     []PlayerView        `json:"players"`
	Leaderboard []LeaderboardLine   `json:"leaderboard"`
	Effects     []Effect            `json:"effects"`
	Winner      bool                `json:"winner"`
	Collected   int                 `json:"collected"`
}

// View builds a render snapshot. Objects and players are ordered by id.
func (c *Consumer) View() View {
	v := View{
		Phase:       c.phase,
		Mode:        c.mode,
		Ready:       c.ready,
		Self:        c.selfBrawler,
		HasSelf:     c.hasSelf,
		Leaderboard: c.LeaderboardLines(),
		Effects:     append([]Effect(nil), c.effects...),
		Winner:      c.IsWinner(),
		Collected:   c.collected,
	}
	for _, m := range c.objects {
		v.Objects = append(v.Objects, *m)
	}
	sort.Slice(v.Objects, func(i, j int) bool { return v.Objects[i].ID < v.Objects[j].ID })
	for _, p := range c.players {
		v.Players = append(v.Players, *p)
	}
	sort.Slice(v.Players, func(i, j int) bool { return v.Players[i].ID < v.Players[j].ID })
	return v
}
