package match

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/events"
	"github.com/networkbrawler/brawler/internal/network"
	"github.com/networkbrawler/brawler/internal/protocol"
	"github.com/networkbrawler/brawler/internal/replication"
)

// spawnRing is the distance of brawler spawn points from the arena centre.
const spawnRing = 200

// Match is the authoritative game state. It is driven from a single loop
// goroutine and is not safe for concurrent use.
type Match struct {
	settings Settings
	next     *Settings

	world  *replication.World
	sender network.Sender
	bus    *events.EventBus
	logger zerolog.Logger
	rng    *rand.Rand
	roster *Roster
	now    func() time.Time

	phase           protocol.GamePhase
	countdownActive bool
	countdownLeft   time.Duration

	clock           time.Duration
	killTimer       time.Duration
	nextCollectible time.Duration

	goldenSpawned bool
	hasGolden     bool
	goldenID      uint32
	goldenHolder  *Player
	goldenSince   time.Duration
	pulseTimer    time.Duration

	playing     []*Player
	leaderboard []*Player

	matchNumber uint64
	startedAt   time.Time
	lastWinner  string
	hasWinner   bool
}

// New creates a match in the lobby. bus may be nil.
func New(settings Settings, world *replication.World, sender network.Sender, bus *events.EventBus) *Match {
	seed := settings.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Match{
		settings: settings,
		world:    world,
		sender:   sender,
		bus:      bus,
		logger:   log.With().Str("component", "match").Logger(),
		rng:      rand.New(rand.NewSource(seed)),
		roster:   NewRoster(),
		now:      time.Now,
		phase:    protocol.PhaseLobby,
	}
}

// Phase returns the current phase.
func (m *Match) Phase() protocol.GamePhase { return m.phase }

// Roster exposes the player slots.
func (m *Match) Roster() *Roster { return m.roster }

// Recipients returns the peers that receive world updates.
func (m *Match) Recipients() []network.PeerID { return m.roster.Recipients() }

// Settings returns the rules of the current or upcoming match.
func (m *Match) Settings() Settings { return m.settings }

// ApplySettings replaces the rules. They take effect at the next match start.
func (m *Match) ApplySettings(s Settings) {
	m.next = &s
	m.logger.Info().Msg("match settings updated, applying at next start")
}

// ---- Connection lifecycle ----

// OnConnect claims a slot for peer and cancels any running countdown.
func (m *Match) OnConnect(peer network.PeerID) *Player {
	p := m.roster.Add(peer)
	m.cancelCountdown("player connected")

	m.logger.Info().Uint32("peer", uint32(peer)).Int("slot", p.Index).Msg("player connected")
	m.emit(events.EventPlayerConnection, events.PlayerConnectionPayload{
		Peer:      uint32(peer),
		Slot:      p.Index,
		Connected: true,
	})
	return p
}

// OnDisconnect tears the peer's player down immediately.
func (m *Match) OnDisconnect(peer network.PeerID) {
	p, ok := m.roster.Remove(peer)
	if !ok {
		return
	}
	wasNamed := p.Named
	name := p.DisplayName()

	if p.HasBrawler {
		if obj, ok := m.world.Get(p.BrawlerID); ok && m.goldenHolder == p {
			m.dropGolden(obj.Position)
		}
		m.world.Destroy(p.BrawlerID)
		p.HasBrawler = false
	}
	m.playing = without(m.playing, p)
	m.leaderboard = without(m.leaderboard, p)

	m.logger.Info().Uint32("peer", uint32(peer)).Int("slot", p.Index).Str("name", name).Msg("player disconnected")

	if wasNamed {
		m.broadcast(m.roster.PlayerList())
	}

	switch m.phase {
	case protocol.PhaseLobby:
		// The leaver may have been the last one holding the lobby up.
		if !m.readyToStart() {
			m.cancelCountdown("player left")
		}
		m.evaluateReady()
	case protocol.PhaseGameRunning:
		m.broadcastLeaderboard()
		m.checkWin()
	}

	m.emit(events.EventPlayerConnection, events.PlayerConnectionPayload{
		Peer:       uint32(peer),
		Slot:       p.Index,
		PlayerName: name,
		Connected:  false,
	})
}

// HandlePacket applies one decoded client message.
func (m *Match) HandlePacket(peer network.PeerID, pkt protocol.Packet) {
	p, ok := m.roster.ByPeer(peer)
	if !ok {
		return
	}

	if name, ok := pkt.(protocol.PlayerName); ok {
		m.handleName(p, name.Name)
		return
	}
	if !p.Named {
		m.ignore(p, pkt, "not named")
		return
	}

	switch v := pkt.(type) {
	case protocol.CreateBrawlerRequest:
		m.handleCreateBrawler(p)
	case protocol.PlayerInputs:
		m.handleInputs(p, v)
	case protocol.PlayerReady:
		m.handleReady(p, v.Ready)
	case protocol.PlayerStealRequest:
		m.handleSteal(p, v.TargetBrawlerID)
	default:
		m.ignore(p, pkt, "not a client message")
	}
}

func (m *Match) ignore(p *Player, pkt protocol.Packet, reason string) {
	m.logger.Debug().
		Int("slot", p.Index).
		Str("packet", pkt.Opcode().String()).
		Str("phase", m.phase.String()).
		Str("reason", reason).
		Msg("ignoring message")
}

func (m *Match) handleName(p *Player, raw string) {
	first := !p.Named
	p.Name = truncateName(raw)
	p.Named = true
	if p.HasBrawler {
		if obj, ok := m.world.Get(p.BrawlerID); ok {
			obj.Name = p.DisplayName()
		}
	}

	m.broadcast(m.roster.PlayerList())
	if !first {
		return
	}

	for _, create := range m.world.CreateBurst() {
		m.sendTo(p, create)
	}
	m.sendTo(p, protocol.UpdateGameState{Phase: m.phase})
	if m.phase != protocol.PhaseLobby {
		m.sendTo(p, protocol.UpdatePlayerMode{Mode: protocol.ModeSpectating})
		m.sendTo(p, LeaderboardMessage(m.leaderboard))
	}

	m.logger.Info().Int("slot", p.Index).Str("name", p.Name).Msg("player named")
	m.emit(events.EventPlayerNamed, events.PlayerNamedPayload{Slot: p.Index, Name: p.Name})

	if m.phase == protocol.PhaseLobby {
		if !m.readyToStart() {
			m.cancelCountdown("player joined")
		}
		m.evaluateReady()
	}
}

func (m *Match) handleCreateBrawler(p *Player) {
	if m.phase != protocol.PhaseLobby {
		m.ignore(p, protocol.CreateBrawlerRequest{}, "brawlers are created in the lobby")
		return
	}
	if p.HasBrawler {
		return
	}
	m.spawnBrawler(p)
	m.broadcast(m.roster.PlayerList())
}

func (m *Match) handleInputs(p *Player, in protocol.PlayerInputs) {
	if !p.HasBrawler || in.BrawlerID != p.BrawlerID || p.IsDead {
		m.ignore(p, in, "not the sender's live brawler")
		return
	}
	p.Inputs = in.Inputs
}

func (m *Match) handleReady(p *Player, ready bool) {
	switch m.phase {
	case protocol.PhaseLobby:
		p.IsReady = ready
		if !ready {
			m.cancelCountdown("player unready")
			return
		}
		m.evaluateReady()
	case protocol.PhaseEndScreen:
		m.returnToLobby()
	default:
		m.ignore(p, protocol.PlayerReady{Ready: ready}, "match running")
	}
}

func (m *Match) handleSteal(p *Player, target uint32) {
	holder := m.goldenHolder
	switch {
	case m.phase != protocol.PhaseGameRunning, holder == nil, holder == p:
		return
	case holder.BrawlerID != target, p.IsDead, !p.HasBrawler, holder.IsDead:
		return
	case m.clock-m.goldenSince < m.settings.StealCooldown:
		return
	}

	thief, ok1 := m.world.Get(p.BrawlerID)
	victim, ok2 := m.world.Get(holder.BrawlerID)
	if !ok1 || !ok2 {
		return
	}
	r := m.settings.StealRadius
	if thief.Position.Sub(victim.Position).LengthSquared() > r*r {
		return
	}

	m.goldenHolder = p
	m.goldenSince = m.clock
	m.pulseTimer = 0
	m.broadcast(protocol.PlayerSteal{HolderBrawlerID: p.BrawlerID})

	m.logger.Info().Str("thief", p.DisplayName()).Str("victim", holder.DisplayName()).Msg("golden collectible stolen")
	m.emit(events.EventGoldenStolen, events.GoldenPayload{
		HolderSlot: p.Index,
		HolderName: p.DisplayName(),
		FromSlot:   holder.Index,
	})
}

// ---- Lobby ----

// readyToStart reports whether every named player is ready and there are
// enough of them.
func (m *Match) readyToStart() bool {
	named := m.roster.Named()
	if len(named) == 0 || len(named) < m.settings.MinPlayers {
		return false
	}
	for _, p := range named {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// evaluateReady starts the countdown once the lobby is ready. It runs after
// every change to the ready set: a ready press, a naming and a disconnect.
func (m *Match) evaluateReady() {
	if m.countdownActive || !m.readyToStart() {
		return
	}

	m.countdownActive = true
	m.countdownLeft = m.settings.Countdown
	m.logger.Info().Dur("countdown", m.settings.Countdown).Int("players", len(m.roster.Named())).Msg("all players ready, countdown started")
	m.emit(events.EventCountdown, events.CountdownPayload{Started: true})
}

func (m *Match) cancelCountdown(reason string) {
	if !m.countdownActive {
		return
	}
	m.countdownActive = false
	m.countdownLeft = 0
	m.logger.Info().Str("reason", reason).Msg("countdown cancelled")
	m.emit(events.EventCountdown, events.CountdownPayload{Started: false, Reason: reason})
}

func (m *Match) startMatch() {
	m.countdownActive = false
	if m.next != nil {
		m.settings = *m.next
		m.next = nil
	}

	named := m.roster.Named()
	m.playing = append([]*Player(nil), named...)
	m.leaderboard = append([]*Player(nil), named...)

	for _, p := range m.playing {
		p.Score = 0
		p.IsDead = false
		p.IsReady = false
		if !p.HasBrawler {
			m.spawnBrawler(p)
		}
	}

	m.clock = 0
	m.killTimer = 0
	m.nextCollectible = m.settings.FirstCollectible
	m.goldenSpawned = false
	m.goldenHolder = nil
	m.pulseTimer = 0
	m.matchNumber++
	m.startedAt = m.now()

	m.setPhase(protocol.PhaseGameRunning)
	for _, p := range m.playing {
		m.sendTo(p, protocol.UpdatePlayerMode{Mode: protocol.ModePlaying})
	}
	m.broadcast(m.roster.PlayerList())
	m.broadcastLeaderboard()

	names := make([]string, 0, len(m.playing))
	for _, p := range m.playing {
		names = append(names, p.DisplayName())
	}
	m.logger.Info().Uint64("match", m.matchNumber).Strs("players", names).Msg("match started")
	m.emit(events.EventMatchStarted, events.MatchStartedPayload{
		MatchNumber: m.matchNumber,
		Players:     names,
		StartedAt:   m.startedAt,
	})
}

// ---- Tick ----

// Update advances the match by dt.
func (m *Match) Update(dt time.Duration) {
	switch m.phase {
	case protocol.PhaseLobby:
		m.moveBrawlers(dt)
		if m.countdownActive {
			m.countdownLeft -= dt
			if m.countdownLeft <= 0 {
				m.startMatch()
			}
		}

	case protocol.PhaseGameRunning:
		m.clock += dt
		m.moveBrawlers(dt)
		m.updateGolden(dt)
		m.checkCollections()
		m.spawnCollectibles()

		m.killTimer += dt
		if m.killTimer >= m.settings.KillInterval {
			m.killTimer -= m.settings.KillInterval
			m.eliminateLowest()
		}
		m.checkWin()
	}
}

func (m *Match) moveBrawlers(dt time.Duration) {
	secs := float32(dt.Seconds())
	for _, p := range m.roster.Connected() {
		if !p.HasBrawler || p.IsDead {
			continue
		}
		obj, ok := m.world.Get(p.BrawlerID)
		if !ok {
			continue
		}
		dir := p.Inputs.Direction()
		if l := dir.LengthSquared(); l > 0 {
			dir = dir.Scale(1 / float32(math.Sqrt(float64(l))))
		}
		obj.Velocity = dir.Scale(m.settings.BrawlerSpeed)
		obj.Position = m.settings.clamp(obj.Position.Add(obj.Velocity.Scale(secs)))
	}
}

func (m *Match) alive() []*Player {
	var out []*Player
	for _, p := range m.playing {
		if !p.IsDead {
			out = append(out, p)
		}
	}
	return out
}

func (m *Match) checkCollections() {
	r2 := m.settings.CollectionRadius * m.settings.CollectionRadius
	scored := false

	for _, obj := range m.world.Live() {
		if obj.Kind != replication.KindCollectible {
			continue
		}
		for _, p := range m.alive() {
			br, ok := m.world.Get(p.BrawlerID)
			if !ok || br.Position.Sub(obj.Position).LengthSquared() > r2 {
				continue
			}
			m.world.Destroy(obj.ID)
			p.Score++
			m.sendTo(p, protocol.CollectibleCollected{})
			scored = true
			break
		}
	}

	if scored {
		m.broadcastLeaderboard()
	}
}

func (m *Match) spawnCollectibles() {
	if m.clock < m.nextCollectible {
		return
	}
	m.nextCollectible += m.settings.CollectibleInterval
	if m.world.Count(replication.KindCollectible) >= m.settings.MaxCollectibles {
		return
	}

	const margin = 32
	pos := protocol.Vec2{
		X: margin + m.rng.Float32()*max(m.settings.ArenaWidth-2*margin, 0),
		Y: margin + m.rng.Float32()*max(m.settings.ArenaHeight-2*margin, 0),
	}
	typ := protocol.CollectibleFire
	if m.rng.Intn(2) == 1 {
		typ = protocol.CollectibleCarrot
	}
	m.world.Spawn(replication.Object{
		Kind:        replication.KindCollectible,
		Position:    pos,
		Scale:       m.settings.CollectibleScale,
		Collectible: typ,
		OwnerSlot:   replication.NoOwner,
	})
}

func (m *Match) updateGolden(dt time.Duration) {
	if !m.goldenSpawned && m.clock >= m.settings.GoldenSpawnDelay {
		obj := m.world.Spawn(replication.Object{
			Kind:        replication.KindGolden,
			Position:    m.settings.Center(),
			Scale:       m.settings.CollectibleScale,
			Collectible: protocol.CollectibleGolden,
			OwnerSlot:   replication.NoOwner,
		})
		m.goldenSpawned = true
		m.hasGolden = true
		m.goldenID = obj.ID
		m.goldenSince = m.clock
		m.logger.Info().Uint32("id", obj.ID).Msg("golden collectible spawned")
		m.emit(events.EventGoldenSpawned, events.GoldenPayload{HolderSlot: -1, FromSlot: -1})
	}
	if !m.hasGolden {
		return
	}
	golden, ok := m.world.Get(m.goldenID)
	if !ok {
		m.hasGolden = false
		return
	}

	if m.goldenHolder == nil {
		r2 := m.settings.CollectionRadius * m.settings.CollectionRadius
		for _, p := range m.alive() {
			br, ok := m.world.Get(p.BrawlerID)
			if !ok || br.Position.Sub(golden.Position).LengthSquared() > r2 {
				continue
			}
			m.goldenHolder = p
			m.goldenSince = m.clock
			m.pulseTimer = 0
			m.broadcast(protocol.PlayerSteal{HolderBrawlerID: p.BrawlerID})
			m.emit(events.EventGoldenStolen, events.GoldenPayload{HolderSlot: p.Index, HolderName: p.DisplayName(), FromSlot: -1})
			break
		}
		return
	}

	if br, ok := m.world.Get(m.goldenHolder.BrawlerID); ok {
		golden.Position = br.Position
		golden.Velocity = br.Velocity
	}

	m.pulseTimer += dt
	scored := false
	for m.settings.GoldenPulseInterval > 0 && m.pulseTimer >= m.settings.GoldenPulseInterval {
		m.pulseTimer -= m.settings.GoldenPulseInterval
		m.goldenHolder.Score++
		scored = true
	}
	if scored {
		m.broadcastLeaderboard()
	}
}

func (m *Match) dropGolden(at protocol.Vec2) {
	if m.goldenHolder == nil {
		return
	}
	m.goldenHolder = nil
	m.goldenSince = m.clock
	m.pulseTimer = 0
	if g, ok := m.world.Get(m.goldenID); ok {
		g.Position = m.settings.clamp(at)
		g.Velocity = protocol.Vec2{}
	}
	m.broadcast(protocol.PlayerSteal{HolderBrawlerID: protocol.NoHolder})
}

func (m *Match) eliminateLowest() {
	SortLeaderboard(m.leaderboard)
	if len(m.alive()) <= 1 {
		return
	}
	for i := len(m.leaderboard) - 1; i >= 0; i-- {
		if p := m.leaderboard[i]; !p.IsDead {
			m.eliminate(p)
			return
		}
	}
}

func (m *Match) eliminate(p *Player) {
	p.IsDead = true
	p.Inputs = protocol.Inputs{}

	var pos protocol.Vec2
	facing := int8(1)
	if obj, ok := m.world.Get(p.BrawlerID); ok {
		pos = obj.Position
		if obj.Velocity.X < 0 {
			facing = -1
		}
		obj.Position = m.settings.Graveyard
		obj.Velocity = protocol.Vec2{}
	}
	if m.goldenHolder == p {
		m.dropGolden(pos)
	}

	m.broadcast(protocol.BrawlerDeath{
		PlayerID:  uint32(p.Index),
		BrawlerID: p.BrawlerID,
		Position:  pos,
		FacingX:   facing,
	})
	m.sendTo(p, protocol.UpdatePlayerMode{Mode: protocol.ModeDead})
	m.broadcast(m.roster.PlayerList())
	m.broadcastLeaderboard()

	remaining := len(m.alive())
	m.logger.Info().Str("player", p.DisplayName()).Uint32("score", p.Score).Int("remaining", remaining).Msg("player eliminated")
	m.emit(events.EventPlayerEliminated, events.PlayerEliminatedPayload{
		Slot:      p.Index,
		Name:      p.DisplayName(),
		Score:     p.Score,
		Remaining: remaining,
		MatchTime: m.clock,
	})
}

func (m *Match) checkWin() {
	if m.phase != protocol.PhaseGameRunning {
		return
	}
	alive := m.alive()
	if len(alive) > 1 {
		return
	}
	var winner *Player
	if len(alive) == 1 {
		winner = alive[0]
	}
	m.finish(winner, false)
}

// finish records the result and moves to the end screen.
func (m *Match) finish(winner *Player, aborted bool) {
	m.hasWinner = winner != nil
	m.lastWinner = ""
	if winner != nil {
		m.lastWinner = winner.DisplayName()
		if winner.HasBrawler {
			m.broadcast(protocol.Winner{BrawlerID: winner.BrawlerID})
		}
	}

	m.clearPickups()
	SortLeaderboard(m.leaderboard)
	m.setPhase(protocol.PhaseEndScreen)
	m.broadcastLeaderboard()

	results := make([]events.PlayerResult, 0, len(m.leaderboard))
	for i, p := range m.leaderboard {
		results = append(results, events.PlayerResult{
			Slot:      p.Index,
			Name:      p.DisplayName(),
			Score:     p.Score,
			Placement: i + 1,
			Dead:      p.IsDead,
		})
	}

	m.logger.Info().
		Uint64("match", m.matchNumber).
		Str("winner", m.lastWinner).
		Bool("aborted", aborted).
		Dur("duration", m.clock).
		Msg("match ended")
	m.emit(events.EventMatchEnded, events.MatchEndedPayload{
		MatchNumber: m.matchNumber,
		StartedAt:   m.startedAt,
		EndedAt:     m.now(),
		WinnerName:  m.lastWinner,
		HasWinner:   m.hasWinner,
		Aborted:     aborted,
		Results:     results,
	})
}

func (m *Match) clearPickups() {
	for _, obj := range m.world.Live() {
		if obj.Kind == replication.KindCollectible || obj.Kind == replication.KindGolden {
			m.world.Destroy(obj.ID)
		}
	}
	m.hasGolden = false
	m.goldenHolder = nil
}

func (m *Match) returnToLobby() {
	m.clearPickups()
	for _, p := range m.roster.Connected() {
		p.IsReady = false
		p.IsDead = false
		p.Inputs = protocol.Inputs{}
		if !p.HasBrawler {
			continue
		}
		if obj, ok := m.world.Get(p.BrawlerID); ok {
			obj.Position = m.spawnPoint(p.Index)
			obj.Velocity = protocol.Vec2{}
		}
		m.sendTo(p, protocol.UpdatePlayerMode{Mode: protocol.ModePlaying})
	}
	m.playing = nil
	m.leaderboard = nil

	m.setPhase(protocol.PhaseLobby)
	m.broadcast(m.roster.PlayerList())
}

// ---- Operator controls ----

// ForceLobby ends any running match without a winner and returns to the lobby.
func (m *Match) ForceLobby() {
	switch m.phase {
	case protocol.PhaseGameRunning:
		m.finish(nil, true)
		m.returnToLobby()
	case protocol.PhaseEndScreen:
		m.returnToLobby()
	default:
		m.cancelCountdown("reset by operator")
	}
}

// Kick returns the peer in slot so the caller can disconnect it.
func (m *Match) Kick(slot int) (network.PeerID, bool) {
	p, ok := m.roster.Slot(slot)
	if !ok {
		return 0, false
	}
	return p.Peer, true
}

// ---- Helpers ----

func (m *Match) spawnBrawler(p *Player) {
	obj := m.world.Spawn(replication.Object{
		Kind:      replication.KindBrawler,
		Position:  m.spawnPoint(p.Index),
		Scale:     m.settings.BrawlerScale,
		OwnerSlot: p.Index,
		Name:      p.DisplayName(),
	})
	p.BrawlerID = obj.ID
	p.HasBrawler = true
	m.sendTo(p, protocol.UpdateSelfBrawlerID{BrawlerID: obj.ID})
}

func (m *Match) spawnPoint(i int) protocol.Vec2 {
	angle := float64(i%8) * math.Pi / 4
	c := m.settings.Center()
	return m.settings.clamp(protocol.Vec2{
		X: c.X + spawnRing*float32(math.Cos(angle)),
		Y: c.Y + spawnRing*float32(math.Sin(angle)),
	})
}

func (m *Match) setPhase(phase protocol.GamePhase) {
	from := m.phase
	m.phase = phase
	m.broadcast(protocol.UpdateGameState{Phase: phase})
	m.emit(events.EventPhaseChanged, events.PhaseChangedPayload{From: from.String(), To: phase.String()})
}

func (m *Match) broadcastLeaderboard() {
	SortLeaderboard(m.leaderboard)
	m.broadcast(LeaderboardMessage(m.leaderboard))
}

func (m *Match) broadcast(pkt protocol.Packet) {
	msg := protocol.BuildMessage(pkt)
	reliable := protocol.IsReliable(pkt.Opcode())
	for _, peer := range m.roster.Recipients() {
		if err := m.sender.Send(peer, msg, reliable); err != nil {
			m.logger.Debug().Err(err).Uint32("peer", uint32(peer)).Msg("broadcast failed")
		}
	}
}

func (m *Match) sendTo(p *Player, pkt protocol.Packet) {
	if !p.Connected {
		return
	}
	msg := protocol.BuildMessage(pkt)
	if err := m.sender.Send(p.Peer, msg, protocol.IsReliable(pkt.Opcode())); err != nil {
		m.logger.Debug().Err(err).Int("slot", p.Index).Msg("send failed")
	}
}

func (m *Match) emit(t events.EventType, payload interface{}) {
	m.bus.Emit(context.Background(), events.Event{Type: t, Source: "match", Payload: payload})
}

func without(list []*Player, p *Player) []*Player {
	out := list[:0]
	for _, q := range list {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}
