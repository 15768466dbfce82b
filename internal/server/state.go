// Package server runs the authoritative game loop: transport events in,
// match ticks, replication out. Other goroutines observe it through the
// StatusBoard and steer it through commands.
package server

import (
	"sync"
	"time"

	"github.com/networkbrawler/brawler/internal/match"
	"github.com/networkbrawler/brawler/internal/replication"
)

// StatusBoard holds the latest published state of the loop. It is safe for
// concurrent use.
type StatusBoard struct {
	mu sync.RWMutex

	startedAt time.Time
	snapshot  Snapshot
}

// Snapshot is an immutable view of the server.
type Snapshot struct {
	Match       match.Status      `json:"match"`
	Ticks       uint64            `json:"ticks"`
	Peers       int               `json:"peers"`
	Replication replication.Stats `json:"replication"`
	StartedAt   time.Time         `json:"started_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Uptime returns the time since the loop started.
func (s Snapshot) Uptime() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return s.UpdatedAt.Sub(s.StartedAt)
}

// NewStatusBoard creates an empty board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{}
}

// Publish replaces the current snapshot. snap must not share slices with
// state the loop keeps mutating.
func (b *StatusBoard) Publish(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startedAt.IsZero() {
		b.startedAt = snap.UpdatedAt
	}
	snap.StartedAt = b.startedAt
	b.snapshot = snap
}

// Snapshot returns the last published snapshot.
func (b *StatusBoard) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot
}
