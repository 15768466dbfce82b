package replication

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/network"
	"github.com/networkbrawler/brawler/internal/protocol"
)

// TickDelay is the fixed simulation step and snapshot period.
const TickDelay = time.Second / 30

// Broadcaster sends world changes and snapshots to peers.
type Broadcaster struct {
	sender network.Sender
	logger zerolog.Logger

	// counters for the status board
	creates   uint64
	deletes   uint64
	snapshots uint64
}

// NewBroadcaster creates a broadcaster writing to sender.
func NewBroadcaster(sender network.Sender) *Broadcaster {
	return &Broadcaster{
		sender: sender,
		logger: log.With().Str("component", "broadcaster").Logger(),
	}
}

// Stats reports totals since start.
type Stats struct {
	Creates   uint64 `json:"creates"`
	Deletes   uint64 `json:"deletes"`
	Snapshots uint64 `json:"snapshots"`
}

// Stats returns message totals.
func (b *Broadcaster) Stats() Stats {
	return Stats{Creates: b.creates, Deletes: b.deletes, Snapshots: b.snapshots}
}

// Flush drains the world's changelist and sends each change reliably to
// every peer. A create for an object that is still live uses its current
// state.
func (b *Broadcaster) Flush(w *World, peers []network.PeerID) {
	for _, c := range w.DrainChanges() {
		var msg []byte
		switch c.Type {
		case ChangeCreate:
			obj := c.Object
			if live, ok := w.Get(c.ID); ok {
				obj = *live
			}
			msg = protocol.BuildMessage(CreateMessage(&obj))
			b.creates++
		case ChangeDelete:
			msg = protocol.BuildMessage(protocol.DeleteEntity{ID: c.ID})
			b.deletes++
		default:
			continue
		}
		b.sendAll(peers, msg, true)
	}
}

// SendBurst sends peer a create for every already-announced object.
func (b *Broadcaster) SendBurst(w *World, peer network.PeerID) int {
	burst := w.CreateBurst()
	for _, p := range burst {
		b.send(peer, protocol.BuildMessage(p), true)
	}
	b.logger.Debug().Uint32("peer", uint32(peer)).Int("objects", len(burst)).Msg("sent create burst")
	return len(burst)
}

// BroadcastSnapshot sends one unreliable state message to every peer.
func (b *Broadcaster) BroadcastSnapshot(w *World, peers []network.PeerID) {
	if len(peers) == 0 {
		return
	}
	msg := protocol.BuildMessage(w.Snapshot())
	b.sendAll(peers, msg, false)
	b.snapshots++
}

func (b *Broadcaster) sendAll(peers []network.PeerID, msg []byte, reliable bool) {
	for _, p := range peers {
		b.send(p, msg, reliable)
	}
}

func (b *Broadcaster) send(peer network.PeerID, msg []byte, reliable bool) {
	if err := b.sender.Send(peer, msg, reliable); err != nil {
		b.logger.Debug().Err(err).Uint32("peer", uint32(peer)).Msg("send failed")
	}
}
