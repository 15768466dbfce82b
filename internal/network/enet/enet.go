// Package enet adapts github.com/codecat/go-enet to the brawler transport
// contract: drained events, per-peer sends with a reliability flag, and a
// single channel.
package enet

import (
	"context"
	"fmt"
	"sync"
	"time"

	goenet "github.com/codecat/go-enet"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/network"
)

const channel uint8 = 0

// maxEventsPerPoll bounds a single drain so a flood cannot starve the tick.
const maxEventsPerPoll = 256

var (
	initOnce sync.Once
	initErr  error
)

func initialize() error {
	initOnce.Do(func() {
		if rc := goenet.Initialize(); rc != 0 {
			initErr = fmt.Errorf("enet initialize returned %d", rc)
		}
	})
	return initErr
}

func flags(reliable bool) goenet.PacketFlags {
	if reliable {
		return goenet.PacketFlagReliable
	}
	return 0
}

// readEvent converts the raw event and releases the packet.
func readEvent(ev goenet.Event) (goenet.Peer, network.EventType, []byte, uint32, bool) {
	switch ev.GetType() {
	case goenet.EventConnect:
		return ev.GetPeer(), network.EventConnect, nil, ev.GetData(), true
	case goenet.EventDisconnect:
		return ev.GetPeer(), network.EventDisconnect, nil, ev.GetData(), true
	case goenet.EventReceive:
		packet := ev.GetPacket()
		defer packet.Destroy()
		src := packet.GetData()
		data := make([]byte, len(src))
		copy(data, src)
		return ev.GetPeer(), network.EventMessage, data, 0, true
	default:
		return nil, 0, nil, 0, false
	}
}

// Server is a listening host serving many peers.
type Server struct {
	host     goenet.Host
	registry *network.PeerRegistry
	logger   zerolog.Logger

	ids   map[goenet.Peer]network.PeerID
	peers map[network.PeerID]goenet.Peer
}

// Listen binds a host on port accepting up to maxPeers connections.
func Listen(port uint16, maxPeers uint64, registry *network.PeerRegistry) (*Server, error) {
	if err := initialize(); err != nil {
		return nil, err
	}
	host, err := goenet.NewHost(goenet.NewListenAddress(port), maxPeers, 1, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create enet host on port %d: %w", port, err)
	}
	if registry == nil {
		registry = network.NewPeerRegistry()
	}

	s := &Server{
		host:     host,
		registry: registry,
		logger:   log.With().Str("component", "enet_server").Logger(),
		ids:      make(map[goenet.Peer]network.PeerID),
		peers:    make(map[network.PeerID]goenet.Peer),
	}
	s.logger.Info().Uint16("port", port).Uint64("max_peers", maxPeers).Msg("enet host listening")
	return s, nil
}

// Registry returns the peer registry backing this server.
func (s *Server) Registry() *network.PeerRegistry { return s.registry }

// Poll waits up to timeout for the first event, then drains whatever else
// is queued without waiting.
func (s *Server) Poll(timeout time.Duration) []network.Event {
	var out []network.Event
	wait := uint32(timeout / time.Millisecond)
	for len(out) < maxEventsPerPoll {
		raw := s.host.Service(wait)
		wait = 0

		peer, typ, data, connectData, ok := readEvent(raw)
		if !ok {
			break
		}

		switch typ {
		case network.EventConnect:
			id := s.registry.Register(peer.GetAddress().String())
			s.ids[peer] = id
			s.peers[id] = peer
			out = append(out, network.Event{Type: typ, Peer: id, ConnectData: connectData})

		case network.EventDisconnect:
			id, known := s.ids[peer]
			if !known {
				continue
			}
			delete(s.ids, peer)
			delete(s.peers, id)
			s.registry.Unregister(id)
			out = append(out, network.Event{Type: typ, Peer: id})

		case network.EventMessage:
			id, known := s.ids[peer]
			if !known {
				continue
			}
			s.registry.Received(id, len(data))
			out = append(out, network.Event{Type: typ, Peer: id, Data: data})
		}
	}
	return out
}

// Send queues data for peer.
func (s *Server) Send(id network.PeerID, data []byte, reliable bool) error {
	peer, ok := s.peers[id]
	if !ok {
		return fmt.Errorf("%w: %d", network.ErrUnknownPeer, id)
	}
	if err := peer.SendBytes(data, channel, flags(reliable)); err != nil {
		return fmt.Errorf("failed to send to peer %d: %w", id, err)
	}
	s.registry.Sent(id, len(data))
	return nil
}

// Disconnect asks the peer to disconnect gracefully. The disconnect event
// arrives through Poll.
func (s *Server) Disconnect(id network.PeerID, reason uint32) {
	if peer, ok := s.peers[id]; ok {
		peer.Disconnect(reason)
	}
}

// DisconnectIdle disconnects peers silent for longer than timeout.
func (s *Server) DisconnectIdle(timeout time.Duration, reason uint32) int {
	stale := s.registry.Stale(timeout)
	for _, id := range stale {
		s.Disconnect(id, reason)
	}
	return len(stale)
}

// Close drops every peer and destroys the host.
func (s *Server) Close() error {
	for id, peer := range s.peers {
		peer.DisconnectNow(0)
		s.registry.Unregister(id)
	}
	s.ids = map[goenet.Peer]network.PeerID{}
	s.peers = map[network.PeerID]goenet.Peer{}
	s.host.Destroy()
	s.logger.Info().Msg("enet host closed")
	return nil
}

// ServerPeer is the PeerID a Client reports for its server.
const ServerPeer network.PeerID = 1

// Client is a host with a single outgoing connection.
type Client struct {
	host   goenet.Host
	peer   goenet.Peer
	logger zerolog.Logger
	closed bool
}

// DialOptions controls connection retries.
type DialOptions struct {
	Attempts    int
	RetryPeriod time.Duration
	ConnectData uint32
}

// Dial connects to ip:port, retrying up to opts.Attempts times.
func Dial(ctx context.Context, ip string, port uint16, opts DialOptions) (*Client, error) {
	if err := initialize(); err != nil {
		return nil, err
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 50
	}
	if opts.RetryPeriod <= 0 {
		opts.RetryPeriod = 100 * time.Millisecond
	}

	host, err := goenet.NewHost(nil, 1, 1, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create enet client host: %w", err)
	}

	logger := log.With().Str("component", "enet_client").Str("server", fmt.Sprintf("%s:%d", ip, port)).Logger()
	addr := goenet.NewAddress(ip, port)

	peer, err := host.Connect(addr, 1, opts.ConnectData)
	if err != nil {
		host.Destroy()
		return nil, fmt.Errorf("failed to start connect: %w", err)
	}

	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		if ctx.Err() != nil {
			host.Destroy()
			return nil, ctx.Err()
		}

		ev := host.Service(uint32(opts.RetryPeriod / time.Millisecond))
		switch ev.GetType() {
		case goenet.EventConnect:
			logger.Info().Int("attempt", attempt).Msg("connected")
			return &Client{host: host, peer: ev.GetPeer(), logger: logger}, nil
		case goenet.EventDisconnect:
			logger.Debug().Int("attempt", attempt).Msg("connect refused, retrying")
			if peer, err = host.Connect(addr, 1, opts.ConnectData); err != nil {
				host.Destroy()
				return nil, fmt.Errorf("failed to restart connect: %w", err)
			}
		case goenet.EventReceive:
			ev.GetPacket().Destroy()
		}
	}

	peer.DisconnectNow(0)
	host.Destroy()
	return nil, fmt.Errorf("%w: %s:%d after %d attempts", network.ErrConnectFailed, ip, port, opts.Attempts)
}

// Poll drains events from the server connection.
func (c *Client) Poll(timeout time.Duration) []network.Event {
	var out []network.Event
	wait := uint32(timeout / time.Millisecond)
	for len(out) < maxEventsPerPoll {
		raw := c.host.Service(wait)
		wait = 0

		_, typ, data, connectData, ok := readEvent(raw)
		if !ok {
			break
		}
		out = append(out, network.Event{Type: typ, Peer: ServerPeer, Data: data, ConnectData: connectData})
	}
	return out
}

// Send queues data for the server. The peer argument is ignored.
func (c *Client) Send(_ network.PeerID, data []byte, reliable bool) error {
	if c.closed {
		return fmt.Errorf("%w: client closed", network.ErrUnknownPeer)
	}
	if err := c.peer.SendBytes(data, channel, flags(reliable)); err != nil {
		return fmt.Errorf("failed to send to server: %w", err)
	}
	return nil
}

// Close disconnects and destroys the host.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.peer.DisconnectNow(0)
	c.host.Destroy()
	c.logger.Info().Msg("disconnected")
	return nil
}
