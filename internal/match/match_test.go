package match

import (
	"strings"
	"testing"
	"time"

	"github.com/networkbrawler/brawler/internal/network"
	"github.com/networkbrawler/brawler/internal/protocol"
	"github.com/networkbrawler/brawler/internal/replication"
)

type sentMsg struct {
	peer     network.PeerID
	pkt      protocol.Packet
	reliable bool
}

type recorder struct {
	msgs []sentMsg
}

func (r *recorder) Send(peer network.PeerID, data []byte, reliable bool) error {
	pkt, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	r.msgs = append(r.msgs, sentMsg{peer, pkt, reliable})
	return nil
}

func (r *recorder) reset() { r.msgs = nil }

func (r *recorder) to(peer network.PeerID) []protocol.Packet {
	var out []protocol.Packet
	for _, m := range r.msgs {
		if m.peer == peer {
			out = append(out, m.pkt)
		}
	}
	return out
}

func packetsOf[T protocol.Packet](pkts []protocol.Packet) []T {
	var out []T
	for _, p := range pkts {
		if v, ok := p.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Seed = 1
	s.FirstCollectible = time.Hour
	s.CollectibleInterval = time.Hour
	s.GoldenSpawnDelay = time.Hour
	return s
}

type harness struct {
	t     *testing.T
	m     *Match
	rec   *recorder
	world *replication.World
}

func newHarness(t *testing.T, s Settings) *harness {
	t.Helper()
	rec := &recorder{}
	world := replication.NewWorld()
	return &harness{t: t, m: New(s, world, rec, nil), rec: rec, world: world}
}

// join connects peer, names it and requests a brawler.
func (h *harness) join(peer network.PeerID, name string) *Player {
	h.t.Helper()
	p := h.m.OnConnect(peer)
	h.m.HandlePacket(peer, protocol.PlayerName{Name: name})
	h.m.HandlePacket(peer, protocol.CreateBrawlerRequest{})
	h.world.DrainChanges()
	return p
}

func (h *harness) advance(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += replication.TickDelay {
		h.m.Update(replication.TickDelay)
	}
}

func (h *harness) readyAll(peers ...network.PeerID) {
	for _, peer := range peers {
		h.m.HandlePacket(peer, protocol.PlayerReady{Ready: true})
	}
}

func (h *harness) start(peers ...network.PeerID) {
	h.t.Helper()
	h.readyAll(peers...)
	h.advance(h.m.settings.Countdown)
	if h.m.Phase() != protocol.PhaseGameRunning {
		h.t.Fatalf("phase = %s, want game_running", h.m.Phase())
	}
}

func TestNameBroadcastsPlayerList(t *testing.T) {
	h := newHarness(t, testSettings())
	p := h.m.OnConnect(1)
	if p.Index != 0 {
		t.Fatalf("slot = %d, want 0", p.Index)
	}
	h.m.HandlePacket(1, protocol.PlayerName{Name: "Ann"})

	lists := packetsOf[protocol.PlayerList](h.rec.to(1))
	if len(lists) != 1 {
		t.Fatalf("player lists = %d, want 1", len(lists))
	}
	got := lists[0].Players
	if len(got) != 1 || got[0].Name != "Ann" || got[0].IsDead || got[0].ID != 0 {
		t.Fatalf("player list = %+v", got)
	}
}

func TestNameTruncated(t *testing.T) {
	h := newHarness(t, testSettings())
	h.m.OnConnect(1)
	h.m.HandlePacket(1, protocol.PlayerName{Name: strings.Repeat("x", 40)})

	p, _ := h.m.roster.ByPeer(1)
	if len(p.Name) != protocol.MaxNameLength {
		t.Fatalf("name length = %d, want %d", len(p.Name), protocol.MaxNameLength)
	}

	// Multi-byte runes are not split.
	if got := truncateName(strings.Repeat("é", 10)); got != strings.Repeat("é", 8) {
		t.Fatalf("truncateName = %q", got)
	}
}

func TestSlotReuse(t *testing.T) {
	h := newHarness(t, testSettings())
	h.m.OnConnect(1)
	h.m.OnConnect(2)
	h.m.OnConnect(3)
	h.m.OnDisconnect(2)

	p := h.m.OnConnect(4)
	if p.Index != 1 {
		t.Fatalf("slot = %d, want reused slot 1", p.Index)
	}
	if q := h.m.OnConnect(5); q.Index != 3 {
		t.Fatalf("slot = %d, want appended slot 3", q.Index)
	}
}

func TestUnnamedPeerIgnored(t *testing.T) {
	h := newHarness(t, testSettings())
	h.m.OnConnect(1)
	h.m.HandlePacket(1, protocol.CreateBrawlerRequest{})
	if h.world.Len() != 0 {
		t.Fatal("unnamed peer must not spawn a brawler")
	}
}

func TestCreateBrawlerOncePerPlayer(t *testing.T) {
	h := newHarness(t, testSettings())
	p := h.join(1, "a")
	h.m.HandlePacket(1, protocol.CreateBrawlerRequest{})
	if h.world.Len() != 1 || !p.HasBrawler {
		t.Fatalf("objects = %d, has brawler %v", h.world.Len(), p.HasBrawler)
	}
	ids := packetsOf[protocol.UpdateSelfBrawlerID](h.rec.to(1))
	if len(ids) != 1 || ids[0].BrawlerID != p.BrawlerID {
		t.Fatalf("self id messages = %+v", ids)
	}
}

func TestReadyCountdownStartsMatch(t *testing.T) {
	h := newHarness(t, testSettings())
	a := h.join(1, "a")
	b := h.join(2, "b")
	a.Score, b.Score = 4, 2
	h.rec.reset()

	h.readyAll(1, 2)
	h.advance(h.m.settings.Countdown - time.Second)
	if h.m.Phase() != protocol.PhaseLobby {
		t.Fatal("match started before countdown elapsed")
	}
	h.advance(time.Second + replication.TickDelay)
	if h.m.Phase() != protocol.PhaseGameRunning {
		t.Fatalf("phase = %s, want game_running", h.m.Phase())
	}

	for _, peer := range []network.PeerID{1, 2} {
		states := packetsOf[protocol.UpdateGameState](h.rec.to(peer))
		if len(states) != 1 || states[0].Phase != protocol.PhaseGameRunning {
			t.Fatalf("peer %d phase messages = %+v", peer, states)
		}
	}
	for _, c := range h.world.DrainChanges() {
		if c.Type == replication.ChangeDelete {
			t.Fatalf("brawler %d destroyed at match start", c.ID)
		}
	}
	if a.Score != 0 || b.Score != 0 {
		t.Fatalf("scores = %d, %d, want 0", a.Score, b.Score)
	}
	if len(h.m.playing) != 2 || len(h.m.leaderboard) != 2 {
		t.Fatalf("roster sizes = %d, %d", len(h.m.playing), len(h.m.leaderboard))
	}
}

func TestUnreadyCancelsCountdown(t *testing.T) {
	h := newHarness(t, testSettings())
	h.join(1, "a")
	h.join(2, "b")
	h.readyAll(1, 2)
	h.advance(2 * time.Second)
	h.m.HandlePacket(2, protocol.PlayerReady{Ready: false})
	h.advance(10 * time.Second)

	if h.m.Phase() != protocol.PhaseLobby {
		t.Fatalf("phase = %s, want lobby", h.m.Phase())
	}
}

func TestConnectCancelsCountdown(t *testing.T) {
	h := newHarness(t, testSettings())
	h.join(1, "a")
	h.join(2, "b")
	h.readyAll(1, 2)
	h.advance(2 * time.Second)
	h.m.OnConnect(3)
	h.advance(10 * time.Second)

	if h.m.Phase() != protocol.PhaseLobby {
		t.Fatalf("phase = %s, want lobby", h.m.Phase())
	}
}

func TestMinPlayers(t *testing.T) {
	s := testSettings()
	s.MinPlayers = 2
	h := newHarness(t, s)
	h.join(1, "solo")
	h.readyAll(1)
	h.advance(10 * time.Second)
	if h.m.Phase() != protocol.PhaseLobby {
		t.Fatal("match started below minimum player count")
	}
}

func TestUnreadyLeaverStartsCountdown(t *testing.T) {
	h := newHarness(t, testSettings())
	h.join(1, "a")
	h.join(2, "b")
	h.join(3, "c")
	h.readyAll(1, 2)
	h.advance(2 * time.Second)
	if h.m.countdownActive {
		t.Fatal("countdown started with c unready")
	}

	h.m.OnDisconnect(3)
	if !h.m.countdownActive {
		t.Fatal("countdown not started after the last unready player left")
	}
	h.advance(h.m.settings.Countdown + replication.TickDelay)
	if h.m.Phase() != protocol.PhaseGameRunning {
		t.Fatalf("phase = %s, want game_running", h.m.Phase())
	}
}

func TestReadyLeaverKeepsCountdown(t *testing.T) {
	h := newHarness(t, testSettings())
	h.join(1, "a")
	h.join(2, "b")
	h.join(3, "c")
	h.readyAll(1, 2, 3)
	h.advance(2 * time.Second)

	h.m.OnDisconnect(3)
	// The countdown is not restarted, so the remaining time is enough.
	h.advance(h.m.settings.Countdown - 2*time.Second + replication.TickDelay)
	if h.m.Phase() != protocol.PhaseGameRunning {
		t.Fatalf("phase = %s, want game_running", h.m.Phase())
	}
}

func TestStrayConnectRearmsCountdown(t *testing.T) {
	h := newHarness(t, testSettings())
	h.join(1, "a")
	h.join(2, "b")
	h.readyAll(1, 2)
	h.advance(2 * time.Second)

	h.m.OnConnect(3)
	if h.m.countdownActive {
		t.Fatal("connect should cancel the countdown")
	}
	h.m.OnDisconnect(3)
	if !h.m.countdownActive {
		t.Fatal("countdown not re-armed after the unnamed peer left")
	}
	h.advance(h.m.settings.Countdown + replication.TickDelay)
	if h.m.Phase() != protocol.PhaseGameRunning {
		t.Fatalf("phase = %s, want game_running", h.m.Phase())
	}
}

func TestNamingUnreadyPlayerCancelsCountdown(t *testing.T) {
	h := newHarness(t, testSettings())
	h.join(1, "a")
	h.join(2, "b")
	h.m.OnConnect(3)
	h.readyAll(1, 2)
	if !h.m.countdownActive {
		t.Fatal("unnamed peers must not hold the countdown up")
	}

	h.m.HandlePacket(3, protocol.PlayerName{Name: "c"})
	if h.m.countdownActive {
		t.Fatal("countdown kept running with an unready named player")
	}
	h.advance(10 * time.Second)
	if h.m.Phase() != protocol.PhaseLobby {
		t.Fatalf("phase = %s, want lobby", h.m.Phase())
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.MinPlayers != 1 {
		t.Fatalf("MinPlayers = %d, want 1", s.MinPlayers)
	}
	if s.Countdown != 5*time.Second {
		t.Fatalf("Countdown = %s, want 5s", s.Countdown)
	}

	h := newHarness(t, testSettings())
	h.join(1, "solo")
	h.readyAll(1)
	if !h.m.countdownActive {
		t.Fatal("a lone ready player should start the countdown")
	}
}

func TestEliminationAndWin(t *testing.T) {
	h := newHarness(t, testSettings())
	a := h.join(1, "a")
	b := h.join(2, "b")
	c := h.join(3, "c")
	h.start(1, 2, 3)
	a.Score = 3
	b.Score = 1
	h.rec.reset()

	alive := len(h.m.alive())
	h.advance(h.m.settings.KillInterval)
	if !c.IsDead || a.IsDead || b.IsDead {
		t.Fatalf("dead = a:%v b:%v c:%v, want only c", a.IsDead, b.IsDead, c.IsDead)
	}
	if n := len(h.m.alive()); n != alive-1 {
		t.Fatalf("alive = %d, want %d", n, alive-1)
	}

	obj, ok := h.world.Get(c.BrawlerID)
	if !ok {
		t.Fatal("eliminated brawler must not be destroyed")
	}
	if obj.Position != h.m.settings.Graveyard {
		t.Fatalf("position = %+v, want graveyard", obj.Position)
	}

	deaths := packetsOf[protocol.BrawlerDeath](h.rec.to(1))
	if len(deaths) != 1 || deaths[0].BrawlerID != c.BrawlerID || deaths[0].PlayerID != uint32(c.Index) {
		t.Fatalf("deaths = %+v", deaths)
	}
	modes := packetsOf[protocol.UpdatePlayerMode](h.rec.to(3))
	if len(modes) != 1 || modes[0].Mode != protocol.ModeDead {
		t.Fatalf("victim modes = %+v", modes)
	}

	h.advance(h.m.settings.KillInterval)
	if !b.IsDead {
		t.Fatal("b should be eliminated second")
	}
	if h.m.Phase() != protocol.PhaseEndScreen {
		t.Fatalf("phase = %s, want end_screen", h.m.Phase())
	}
	winners := packetsOf[protocol.Winner](h.rec.to(2))
	if len(winners) != 1 || winners[0].BrawlerID != a.BrawlerID {
		t.Fatalf("winner messages = %+v", winners)
	}
	if h.m.Status().LastWinner != "a" {
		t.Fatalf("last winner = %q", h.m.Status().LastWinner)
	}
}

func TestEliminationSkipsDead(t *testing.T) {
	h := newHarness(t, testSettings())
	a := h.join(1, "a")
	b := h.join(2, "b")
	c := h.join(3, "c")
	h.join(4, "d")
	h.start(1, 2, 3, 4)

	// c is already dead and sits in the dead block.
	h.m.eliminate(c)
	a.Score, b.Score = 5, 5
	h.m.eliminateLowest()

	d, _ := h.m.roster.ByPeer(4)
	if !d.IsDead {
		t.Fatal("lowest alive player d should be eliminated")
	}
	if a.IsDead || b.IsDead {
		t.Fatal("higher ranked players eliminated")
	}
}

func TestDisconnectEndsMatch(t *testing.T) {
	h := newHarness(t, testSettings())
	a := h.join(1, "a")
	h.join(2, "b")
	h.start(1, 2)
	h.world.DrainChanges()
	h.rec.reset()

	h.m.OnDisconnect(2)
	if h.m.Phase() != protocol.PhaseEndScreen {
		t.Fatalf("phase = %s, want end_screen", h.m.Phase())
	}
	if len(h.m.playing) != 1 || len(h.m.leaderboard) != 1 {
		t.Fatalf("disconnected player not pruned: %d / %d", len(h.m.playing), len(h.m.leaderboard))
	}
	deletes := 0
	for _, c := range h.world.DrainChanges() {
		if c.Type == replication.ChangeDelete {
			deletes++
		}
	}
	if deletes != 1 {
		t.Fatalf("deletes = %d, want 1", deletes)
	}
	winners := packetsOf[protocol.Winner](h.rec.to(1))
	if len(winners) != 1 || winners[0].BrawlerID != a.BrawlerID {
		t.Fatalf("winners = %+v", winners)
	}
}

func TestAllDisconnectNoWinner(t *testing.T) {
	h := newHarness(t, testSettings())
	h.join(1, "a")
	h.join(2, "b")
	h.start(1, 2)
	h.m.OnDisconnect(1)
	h.m.OnDisconnect(2)
	if h.m.Phase() != protocol.PhaseEndScreen {
		t.Fatalf("phase = %s", h.m.Phase())
	}
}

func TestCollection(t *testing.T) {
	h := newHarness(t, testSettings())
	a := h.join(1, "a")
	h.join(2, "b")
	h.start(1, 2)
	h.rec.reset()

	br, _ := h.world.Get(a.BrawlerID)
	near := h.world.Spawn(replication.Object{
		Kind:     replication.KindCollectible,
		Position: br.Position.Add(protocol.Vec2{X: 49}),
	})
	far := h.world.Spawn(replication.Object{
		Kind:     replication.KindCollectible,
		Position: br.Position.Add(protocol.Vec2{X: 51}),
	})

	h.m.Update(replication.TickDelay)

	if _, ok := h.world.Get(near.ID); ok {
		t.Fatal("collectible within radius not collected")
	}
	if _, ok := h.world.Get(far.ID); !ok {
		t.Fatal("collectible outside radius collected")
	}
	if a.Score != 1 {
		t.Fatalf("score = %d, want 1", a.Score)
	}
	if got := packetsOf[protocol.CollectibleCollected](h.rec.to(1)); len(got) != 1 {
		t.Fatalf("collected notices = %d, want 1", len(got))
	}
	if got := packetsOf[protocol.CollectibleCollected](h.rec.to(2)); len(got) != 0 {
		t.Fatal("other player notified of collection")
	}
}

func TestCollectibleSpawnCap(t *testing.T) {
	s := testSettings()
	s.FirstCollectible = 0
	s.CollectibleInterval = replication.TickDelay
	s.MaxCollectibles = 3
	s.CollectionRadius = 0
	h := newHarness(t, s)
	h.join(1, "a")
	h.join(2, "b")
	h.start(1, 2)

	h.advance(time.Second)
	if n := h.world.Count(replication.KindCollectible); n != 3 {
		t.Fatalf("collectibles = %d, want 3", n)
	}
}

func TestGoldenPulse(t *testing.T) {
	s := testSettings()
	s.GoldenSpawnDelay = time.Second
	h := newHarness(t, s)
	a := h.join(1, "a")
	h.join(2, "b")
	h.start(1, 2)

	h.advance(time.Second + replication.TickDelay)
	if !h.m.hasGolden {
		t.Fatal("golden collectible not spawned")
	}

	br, _ := h.world.Get(a.BrawlerID)
	br.Position = h.m.settings.Center()
	h.m.Update(replication.TickDelay)
	if h.m.goldenHolder != a {
		t.Fatal("a should hold the golden collectible")
	}

	h.advance(3 * time.Second)
	if a.Score < 2 || a.Score > 3 {
		t.Fatalf("score = %d, want about 3 pulses", a.Score)
	}
	g, _ := h.world.Get(h.m.goldenID)
	if g.Position != br.Position {
		t.Fatal("golden collectible should follow its holder")
	}
}

func TestGoldenSteal(t *testing.T) {
	s := testSettings()
	s.GoldenSpawnDelay = 0
	s.StealCooldown = 0
	h := newHarness(t, s)
	a := h.join(1, "a")
	b := h.join(2, "b")
	h.start(1, 2)

	ba, _ := h.world.Get(a.BrawlerID)
	ba.Position = h.m.settings.Center()
	h.m.Update(replication.TickDelay)
	h.m.Update(replication.TickDelay)
	if h.m.goldenHolder != a {
		t.Fatal("a should hold the golden collectible")
	}

	bb, _ := h.world.Get(b.BrawlerID)
	bb.Position = ba.Position.Add(protocol.Vec2{X: 200})
	h.m.HandlePacket(2, protocol.PlayerStealRequest{TargetBrawlerID: a.BrawlerID})
	if h.m.goldenHolder != a {
		t.Fatal("steal from out of range succeeded")
	}

	h.rec.reset()
	bb.Position = ba.Position.Add(protocol.Vec2{X: 10})
	h.m.HandlePacket(2, protocol.PlayerStealRequest{TargetBrawlerID: a.BrawlerID})
	if h.m.goldenHolder != b {
		t.Fatal("steal in range failed")
	}
	steals := packetsOf[protocol.PlayerSteal](h.rec.to(1))
	if len(steals) != 1 || steals[0].HolderBrawlerID != b.BrawlerID {
		t.Fatalf("steal notices = %+v", steals)
	}
}

// holdGolden starts a three player match and hands the golden collectible to
// the first player. Three players keep the match running after one drops out.
func holdGolden(t *testing.T) (*harness, *Player) {
	t.Helper()
	s := testSettings()
	s.GoldenSpawnDelay = 0
	h := newHarness(t, s)
	a := h.join(1, "a")
	h.join(2, "b")
	h.join(3, "c")
	h.start(1, 2, 3)

	ba, _ := h.world.Get(a.BrawlerID)
	ba.Position = h.m.settings.Center()
	h.m.Update(replication.TickDelay)
	h.m.Update(replication.TickDelay)
	if h.m.goldenHolder != a {
		t.Fatal("a should hold the golden collectible")
	}
	return h, a
}

func assertGoldenDropped(t *testing.T, h *harness, at protocol.Vec2) {
	t.Helper()
	if h.m.goldenHolder != nil {
		t.Fatalf("holder = %s, want none", h.m.goldenHolder.DisplayName())
	}
	g, ok := h.world.Get(h.m.goldenID)
	if !ok {
		t.Fatal("golden collectible destroyed on drop")
	}
	if g.Position != at {
		t.Fatalf("golden at %+v, want %+v", g.Position, at)
	}
	if g.Position == h.m.settings.Graveyard {
		t.Fatal("golden collectible sent to the graveyard")
	}
	steals := packetsOf[protocol.PlayerSteal](h.rec.to(2))
	if len(steals) != 1 || steals[0].HolderBrawlerID != protocol.NoHolder {
		t.Fatalf("steal notices = %+v, want one drop", steals)
	}
}

func TestGoldenDropsOnHolderElimination(t *testing.T) {
	h, a := holdGolden(t)
	ba, _ := h.world.Get(a.BrawlerID)
	last := ba.Position

	h.rec.reset()
	h.m.eliminate(a)
	if h.m.Phase() != protocol.PhaseGameRunning {
		t.Fatalf("phase = %s, want game_running", h.m.Phase())
	}
	assertGoldenDropped(t, h, last)
}

func TestGoldenDropsOnHolderDisconnect(t *testing.T) {
	h, a := holdGolden(t)
	ba, _ := h.world.Get(a.BrawlerID)
	last := ba.Position

	h.rec.reset()
	h.m.OnDisconnect(1)
	if h.m.Phase() != protocol.PhaseGameRunning {
		t.Fatalf("phase = %s, want game_running", h.m.Phase())
	}
	assertGoldenDropped(t, h, last)
}

func TestEndScreenReadyReturnsToLobby(t *testing.T) {
	h := newHarness(t, testSettings())
	a := h.join(1, "a")
	h.join(2, "b")
	h.start(1, 2)
	h.m.OnDisconnect(2)
	h.join(3, "c")
	if h.m.Phase() != protocol.PhaseEndScreen {
		t.Fatalf("phase = %s", h.m.Phase())
	}

	h.m.HandlePacket(1, protocol.PlayerReady{Ready: true})
	if h.m.Phase() != protocol.PhaseLobby {
		t.Fatalf("phase = %s, want lobby", h.m.Phase())
	}
	if a.IsReady || a.IsDead {
		t.Fatal("flags not reset")
	}
	obj, _ := h.world.Get(a.BrawlerID)
	if obj.Position != h.m.spawnPoint(a.Index) {
		t.Fatalf("brawler not recentred: %+v", obj.Position)
	}
	if h.world.Count(replication.KindCollectible) != 0 || h.world.Count(replication.KindGolden) != 0 {
		t.Fatal("pickups left behind")
	}
}

func TestMidMatchJoinSpectates(t *testing.T) {
	h := newHarness(t, testSettings())
	h.join(1, "a")
	h.join(2, "b")
	h.start(1, 2)
	h.world.DrainChanges()
	h.rec.reset()

	h.m.OnConnect(3)
	h.m.HandlePacket(3, protocol.PlayerName{Name: "late"})
	msgs := h.rec.to(3)

	creates := packetsOf[protocol.CreateBrawler](msgs)
	if len(creates) != 2 {
		t.Fatalf("burst creates = %d, want 2", len(creates))
	}
	modes := packetsOf[protocol.UpdatePlayerMode](msgs)
	if len(modes) != 1 || modes[0].Mode != protocol.ModeSpectating {
		t.Fatalf("modes = %+v", modes)
	}
	if h.m.Phase() != protocol.PhaseGameRunning {
		t.Fatal("late join must not interrupt the match")
	}

	h.m.HandlePacket(3, protocol.CreateBrawlerRequest{})
	if h.world.Count(replication.KindBrawler) != 2 {
		t.Fatal("spectator spawned a brawler mid-match")
	}
}

func TestInputsRequireOwnBrawler(t *testing.T) {
	h := newHarness(t, testSettings())
	a := h.join(1, "a")
	b := h.join(2, "b")

	h.m.HandlePacket(1, protocol.PlayerInputs{BrawlerID: b.BrawlerID, Inputs: protocol.Inputs{Right: true}})
	if a.Inputs.Right || b.Inputs.Right {
		t.Fatal("inputs for another brawler applied")
	}

	h.m.HandlePacket(1, protocol.PlayerInputs{BrawlerID: a.BrawlerID, Inputs: protocol.Inputs{Right: true, Up: true}})
	before, _ := h.world.Get(a.BrawlerID)
	start := before.Position
	h.m.Update(time.Second / 10)
	after, _ := h.world.Get(a.BrawlerID)
	if after.Position.X <= start.X || after.Position.Y >= start.Y {
		t.Fatalf("brawler did not move right and up: %+v -> %+v", start, after.Position)
	}
	speed := after.Velocity.LengthSquared()
	want := h.m.settings.BrawlerSpeed * h.m.settings.BrawlerSpeed
	if speed < want*0.99 || speed > want*1.01 {
		t.Fatalf("diagonal speed squared = %f, want %f", speed, want)
	}
}

func TestForceLobby(t *testing.T) {
	h := newHarness(t, testSettings())
	h.join(1, "a")
	h.join(2, "b")
	h.start(1, 2)
	h.m.ForceLobby()
	if h.m.Phase() != protocol.PhaseLobby {
		t.Fatalf("phase = %s", h.m.Phase())
	}
	if h.m.Status().LastWinner != "" {
		t.Fatal("forced reset must not record a winner")
	}
	peer, ok := h.m.Kick(1)
	if !ok || peer != 2 {
		t.Fatalf("Kick(1) = %d, %v", peer, ok)
	}
	if _, ok := h.m.Kick(9); ok {
		t.Fatal("Kick of empty slot should fail")
	}
}

func TestApplySettingsAtNextStart(t *testing.T) {
	h := newHarness(t, testSettings())
	h.join(1, "a")
	h.join(2, "b")

	next := testSettings()
	next.KillInterval = 7 * time.Second
	h.m.ApplySettings(next)
	if h.m.Settings().KillInterval == next.KillInterval {
		t.Fatal("settings applied before match start")
	}
	h.start(1, 2)
	if h.m.Settings().KillInterval != next.KillInterval {
		t.Fatal("settings not applied at match start")
	}
}

func TestSortLeaderboardStable(t *testing.T) {
	mk := func(i int, score uint32, dead bool) *Player {
		return &Player{Index: i, Score: score, IsDead: dead}
	}
	players := []*Player{
		mk(0, 1, false),
		mk(1, 5, true),
		mk(2, 3, false),
		mk(3, 1, false),
		mk(4, 9, true),
		mk(5, 3, false),
	}
	SortLeaderboard(players)

	want := []int{2, 5, 0, 3, 4, 1}
	for i, p := range players {
		if p.Index != want[i] {
			t.Fatalf("position %d = slot %d, want %d", i, p.Index, want[i])
		}
	}

	msg := LeaderboardMessage(players)
	if len(msg.Entries) != 6 || msg.Entries[0].Name != "Player 2" || !msg.Entries[5].IsDead {
		t.Fatalf("entries = %+v", msg.Entries)
	}
}
