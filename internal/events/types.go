// Package events defines the event bus and the event types the game
// server publishes to its side services.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Match lifecycle events
	EventMatchStarted     EventType = "match_started"
	EventMatchEnded       EventType = "match_ended"
	EventPhaseChanged     EventType = "phase_changed"
	EventPlayerEliminated EventType = "player_eliminated"
	EventCountdown        EventType = "countdown"
	EventGoldenSpawned    EventType = "golden_spawned"
	EventGoldenStolen     EventType = "golden_stolen"

	// Connection events
	EventPlayerConnection EventType = "player_connection"
	EventPlayerNamed      EventType = "player_named"

	// Server health events
	EventLongFrame EventType = "long_frame"
	EventHeartbeat EventType = "heartbeat"

	// Notification events
	EventNotifyAdmin EventType = "notify_admin"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PlayerResult is one player's line in a finished match.
type PlayerResult struct {
	Slot      int    `json:"slot"`
	Name      string `json:"name"`
	Score     uint32 `json:"score"`
	Placement int    `json:"placement"`
	Dead      bool   `json:"dead"`
}

// MatchStartedPayload is emitted when the countdown completes.
type MatchStartedPayload struct {
	MatchNumber uint64
	Players     []string
	StartedAt   time.Time
}

// MatchEndedPayload is emitted once per match on entering the end screen.
// Results are ordered by placement.
type MatchEndedPayload struct {
	MatchNumber uint64
	StartedAt   time.Time
	EndedAt     time.Time
	WinnerName  string
	HasWinner   bool
	Aborted     bool
	Results     []PlayerResult
}

// PhaseChangedPayload carries a phase transition. Phases use their wire names.
type PhaseChangedPayload struct {
	From string
	To   string
}

// PlayerEliminatedPayload describes an elimination.
type PlayerEliminatedPayload struct {
	Slot      int
	Name      string
	Score     uint32
	Remaining int
	MatchTime time.Duration
}

// CountdownPayload reports a countdown start or cancellation.
type CountdownPayload struct {
	Started bool
	Reason  string
}

// GoldenPayload reports a golden collectible spawn or change of holder.
type GoldenPayload struct {
	HolderSlot int
	HolderName string
	FromSlot   int
}

// PlayerConnectionPayload reports a peer connecting or disconnecting.
type PlayerConnectionPayload struct {
	Peer       uint32
	Slot       int
	PlayerName string
	Connected  bool
}

// PlayerNamedPayload reports a peer announcing its name.
type PlayerNamedPayload struct {
	Slot int
	Name string
}

// LongFramePayload reports the server loop falling behind its tick schedule.
type LongFramePayload struct {
	Behind       time.Duration
	SkippedTicks int
}

// HeartbeatPayload is emitted periodically by the health manager.
type HeartbeatPayload struct {
	Uptime  time.Duration
	Players int
	Phase   string
}

// NotifyAdminPayload is used for sending operator notifications.
type NotifyAdminPayload struct {
	Title   string
	Message string
	Level   string // "info", "warning", "error"
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
