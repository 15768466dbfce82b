package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/events"
	"github.com/networkbrawler/brawler/internal/match"
	"github.com/networkbrawler/brawler/internal/network"
	"github.com/networkbrawler/brawler/internal/protocol"
	"github.com/networkbrawler/brawler/internal/replication"
)

// DefaultMaxTickLag is how many ticks the loop may fall behind before it
// re-anchors its schedule.
const DefaultMaxTickLag = 10

// Transport is the host the loop services.
type Transport interface {
	network.Sender
	Poll(timeout time.Duration) []network.Event
	Disconnect(peer network.PeerID, reason uint32)
	Close() error
}

// idleReaper is implemented by transports that track peer activity.
type idleReaper interface {
	DisconnectIdle(timeout time.Duration, reason uint32) int
}

// Options configures a Server. Zero values take defaults.
type Options struct {
	Settings        match.Settings
	TickDelay       time.Duration
	MaxTickLag      int
	ProtocolVersion uint32
	IdleTimeout     time.Duration
	CommandBuffer   int
}

// Server owns the match and world and drives them from a single goroutine.
type Server struct {
	transport   Transport
	world       *replication.World
	match       *match.Match
	broadcaster *replication.Broadcaster
	parser      *protocol.Parser
	bus         *events.EventBus
	board       *StatusBoard
	logger      zerolog.Logger

	tickDelay   time.Duration
	maxLag      int
	version     uint32
	idleTimeout time.Duration

	started  bool
	nextTick time.Time
	lastReap time.Time
	ticks    uint64

	accepted map[network.PeerID]bool
	commands chan command
	stopped  chan struct{}
}

// New creates a server on transport. bus may be nil.
func New(transport Transport, bus *events.EventBus, opts Options) *Server {
	if opts.TickDelay <= 0 {
		opts.TickDelay = replication.TickDelay
	}
	if opts.MaxTickLag <= 0 {
		opts.MaxTickLag = DefaultMaxTickLag
	}
	if opts.ProtocolVersion == 0 {
		opts.ProtocolVersion = protocol.Version
	}
	if opts.CommandBuffer <= 0 {
		opts.CommandBuffer = 16
	}

	world := replication.NewWorld()
	return &Server{
		transport:   transport,
		world:       world,
		match:       match.New(opts.Settings, world, transport, bus),
		broadcaster: replication.NewBroadcaster(transport),
		parser:      protocol.NewParser("server"),
		bus:         bus,
		board:       NewStatusBoard(),
		logger:      log.With().Str("component", "server").Logger(),
		tickDelay:   opts.TickDelay,
		maxLag:      opts.MaxTickLag,
		version:     opts.ProtocolVersion,
		idleTimeout: opts.IdleTimeout,
		accepted:    make(map[network.PeerID]bool),
		commands:    make(chan command, opts.CommandBuffer),
		stopped:     make(chan struct{}),
	}
}

// Board returns the status board published every tick.
func (s *Server) Board() *StatusBoard { return s.board }

// Run services the transport until ctx is cancelled. Connected peers are
// disconnected on exit; the transport itself is left open for the caller.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("tick", s.tickDelay).
		Uint32("protocol_version", s.version).
		Msg("server loop started")
	defer close(s.stopped)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		default:
		}
		s.Step(time.Now(), time.Millisecond)
	}
}

func (s *Server) shutdown() {
	for peer := range s.accepted {
		s.transport.Disconnect(peer, DisconnectShutdown)
	}
	// Let the disconnects go out.
	s.transport.Poll(0)
	s.logger.Info().Uint64("ticks", s.ticks).Int("peers", len(s.accepted)).Msg("server loop stopped")
}

// Step runs one loop iteration at now: drain transport events, drain
// commands, then tick if the schedule is due. wait bounds the transport poll.
func (s *Server) Step(now time.Time, wait time.Duration) {
	if !s.started {
		s.started = true
		s.nextTick = now
		s.lastReap = now
	}

	for _, ev := range s.transport.Poll(wait) {
		s.handleEvent(ev)
	}
	s.drainCommands()

	if behind := now.Sub(s.nextTick); behind > time.Duration(s.maxLag)*s.tickDelay {
		skipped := int(behind / s.tickDelay)
		s.logger.Warn().Dur("behind", behind).Int("skipped_ticks", skipped).Msg("loop fell behind, re-anchoring tick schedule")
		s.bus.Emit(context.Background(), events.Event{
			Type:    events.EventLongFrame,
			Source:  "server",
			Payload: events.LongFramePayload{Behind: behind, SkippedTicks: skipped},
		})
		s.nextTick = now
	}

	if !now.Before(s.nextTick) {
		s.tick(now)
		s.nextTick = s.nextTick.Add(s.tickDelay)
	}

	s.reapIdle(now)
}

func (s *Server) tick(now time.Time) {
	s.match.Update(s.tickDelay)

	peers := s.match.Recipients()
	s.broadcaster.Flush(s.world, peers)
	s.broadcaster.BroadcastSnapshot(s.world, peers)
	s.ticks++

	s.board.Publish(Snapshot{
		Match:       s.match.Status(),
		Ticks:       s.ticks,
		Peers:       len(s.accepted),
		Replication: s.broadcaster.Stats(),
		UpdatedAt:   now,
	})
}

func (s *Server) handleEvent(ev network.Event) {
	switch ev.Type {
	case network.EventConnect:
		if ev.ConnectData != s.version {
			s.logger.Warn().
				Uint32("peer", uint32(ev.Peer)).
				Uint32("client_version", ev.ConnectData).
				Uint32("server_version", s.version).
				Msg("rejecting peer with mismatched protocol version")
			s.transport.Disconnect(ev.Peer, DisconnectVersion)
			return
		}
		s.accepted[ev.Peer] = true
		s.match.OnConnect(ev.Peer)

	case network.EventDisconnect:
		if !s.accepted[ev.Peer] {
			return
		}
		delete(s.accepted, ev.Peer)
		s.match.OnDisconnect(ev.Peer)

	case network.EventMessage:
		if !s.accepted[ev.Peer] {
			return
		}
		pkt, err := s.parser.Parse(ev.Data)
		if err != nil {
			return
		}
		s.match.HandlePacket(ev.Peer, pkt)
	}
}

func (s *Server) reapIdle(now time.Time) {
	reaper, ok := s.transport.(idleReaper)
	if !ok || s.idleTimeout <= 0 || now.Sub(s.lastReap) < time.Second {
		return
	}
	s.lastReap = now
	if n := reaper.DisconnectIdle(s.idleTimeout, DisconnectIdle); n > 0 {
		s.logger.Info().Int("peers", n).Dur("timeout", s.idleTimeout).Msg("disconnected idle peers")
	}
}
