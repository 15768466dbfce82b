// Package network defines the transport-neutral peer types shared by the
// game server and client, the peer registry, and the LAN discovery responder.
// The ENet binding lives in the enet subpackage.
package network

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrConnectFailed is returned when a client exhausts its connect attempts.
var ErrConnectFailed = errors.New("connect failed")

// ErrUnknownPeer is returned when sending to a peer that is not connected.
var ErrUnknownPeer = errors.New("unknown peer")

// PeerID identifies a connected peer for the lifetime of its connection.
// Zero is never assigned.
type PeerID uint32

// EventType classifies a transport event.
type EventType int

const (
	EventConnect EventType = iota + 1
	EventDisconnect
	EventMessage
)

var eventTypeNames = map[EventType]string{
	EventConnect:    "connect",
	EventDisconnect: "disconnect",
	EventMessage:    "message",
}

func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Event is one item drained from a transport.
type Event struct {
	Type EventType
	Peer PeerID
	// Data is the message payload for EventMessage. It is owned by the receiver.
	Data []byte
	// ConnectData is the 32-bit word supplied by the remote on connect.
	ConnectData uint32
}

// Sender delivers a message to one peer.
type Sender interface {
	Send(peer PeerID, data []byte, reliable bool) error
}

// Connection is what the registry knows about a connected peer.
type Connection struct {
	ID           PeerID    `json:"id"`
	Addr         string    `json:"addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	BytesIn      uint64    `json:"bytes_in"`
	BytesOut     uint64    `json:"bytes_out"`
}

// PeerRegistry tracks connected peers and their traffic counters.
type PeerRegistry struct {
	mu    sync.RWMutex
	next  PeerID
	conns map[PeerID]*Connection
}

// NewPeerRegistry creates an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		conns: make(map[PeerID]*Connection),
	}
}

// Register allocates a new PeerID for addr.
func (r *PeerRegistry) Register(addr string) PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	if r.next == 0 {
		r.next = 1
	}
	now := time.Now()
	r.conns[r.next] = &Connection{
		ID:           r.next,
		Addr:         addr,
		ConnectedAt:  now,
		LastActivity: now,
	}
	log.Debug().Uint32("peer", uint32(r.next)).Str("addr", addr).Msg("peer registered")
	return r.next
}

// Unregister removes a peer. It reports whether the peer was present.
func (r *PeerRegistry) Unregister(id PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	log.Debug().Uint32("peer", uint32(id)).Msg("peer unregistered")
	return true
}

// Received records inbound traffic from a peer.
func (r *PeerRegistry) Received(id PeerID, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.BytesIn += uint64(n)
		c.LastActivity = time.Now()
	}
}

// Sent records outbound traffic to a peer.
func (r *PeerRegistry) Sent(id PeerID, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.BytesOut += uint64(n)
	}
}

// Get returns a copy of the peer's connection record.
func (r *PeerRegistry) Get(id PeerID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// GetAll returns copies of every connection ordered by PeerID.
func (r *PeerRegistry) GetAll() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Count returns the number of connected peers.
func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stale returns peers that have not sent anything for longer than timeout.
func (r *PeerRegistry) Stale(timeout time.Duration) []PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-timeout)
	var stale []PeerID
	for id, c := range r.conns {
		if c.LastActivity.Before(cutoff) {
			stale = append(stale, id)
			log.Warn().
				Uint32("peer", uint32(id)).
				Time("last_activity", c.LastActivity).
				Msg("stale peer")
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	return stale
}
