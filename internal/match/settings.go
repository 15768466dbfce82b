// Package match implements the authoritative match state machine: lobby and
// ready countdown, the running match with collection, periodic elimination
// and the golden collectible, and the end screen.
package match

import (
	"time"

	"github.com/networkbrawler/brawler/internal/protocol"
)

// Settings holds every tunable of a match. Durations are match-clock time.
type Settings struct {
	Countdown           time.Duration `json:"countdown"`
	KillInterval        time.Duration `json:"kill_interval"`
	GoldenSpawnDelay    time.Duration `json:"golden_spawn_delay"`
	GoldenPulseInterval time.Duration `json:"golden_pulse_interval"`
	FirstCollectible    time.Duration `json:"first_collectible"`
	CollectibleInterval time.Duration `json:"collectible_interval"`
	MaxCollectibles     int           `json:"max_collectibles"`
	CollectionRadius    float32       `json:"collection_radius"`
	StealRadius         float32       `json:"steal_radius"`
	StealCooldown       time.Duration `json:"steal_cooldown"`
	MinPlayers          int           `json:"min_players"`
	BrawlerSpeed        float32       `json:"brawler_speed"`
	BrawlerScale        float32       `json:"brawler_scale"`
	CollectibleScale    float32       `json:"collectible_scale"`
	ArenaWidth          float32       `json:"arena_width"`
	ArenaHeight         float32       `json:"arena_height"`
	Graveyard           protocol.Vec2 `json:"graveyard"`
	// Seed feeds collectible placement. Zero picks a time-based seed.
	Seed int64 `json:"seed"`
}

// DefaultSettings returns the stock match rules.
func DefaultSettings() Settings {
	return Settings{
		Countdown:           5 * time.Second,
		KillInterval:        20 * time.Second,
		GoldenSpawnDelay:    10 * time.Second,
		GoldenPulseInterval: time.Second,
		FirstCollectible:    500 * time.Millisecond,
		CollectibleInterval: 4 * time.Second,
		MaxCollectibles:     25,
		CollectionRadius:    50,
		StealRadius:         80,
		StealCooldown:       2 * time.Second,
		MinPlayers:          1,
		BrawlerSpeed:        300,
		BrawlerScale:        1,
		CollectibleScale:    0.5,
		ArenaWidth:          1280,
		ArenaHeight:         720,
		Graveyard:           protocol.Vec2{X: -100000, Y: -100000},
	}
}

// Center returns the middle of the arena.
func (s Settings) Center() protocol.Vec2 {
	return protocol.Vec2{X: s.ArenaWidth / 2, Y: s.ArenaHeight / 2}
}

// clamp keeps p inside the arena.
func (s Settings) clamp(p protocol.Vec2) protocol.Vec2 {
	p.X = min(max(p.X, 0), s.ArenaWidth)
	p.Y = min(max(p.Y, 0), s.ArenaHeight)
	return p
}
