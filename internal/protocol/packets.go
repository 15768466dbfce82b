// Package protocol implements the binary wire format shared by the brawler
// server and client. Every message is a one-byte opcode followed by a
// big-endian payload. Strings carry a 4-byte length prefix.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is exchanged in the transport connect data. Servers refuse
// clients built against a different message layout.
const Version uint32 = 3

// MaxNameLength is the number of bytes of a player name kept by the server.
const MaxNameLength = 16

// Opcode identifies a message type.
type Opcode uint8

// Client to server.
const (
	OpPlayerName           Opcode = 0x01
	OpCreateBrawlerRequest Opcode = 0x02
	OpPlayerInputs         Opcode = 0x03
	OpPlayerReady          Opcode = 0x04
	OpPlayerStealRequest   Opcode = 0x05
)

// Server to client.
const (
	OpPlayerList           Opcode = 0x10
	OpCreateBrawler        Opcode = 0x11
	OpCreateCollectible    Opcode = 0x12
	OpDeleteEntity         Opcode = 0x13
	OpEntityStates         Opcode = 0x14
	OpUpdateSelfBrawlerID  Opcode = 0x15
	OpCollectibleCollected Opcode = 0x16
	OpUpdateGameState      Opcode = 0x17
	OpUpdateLeaderboard    Opcode = 0x18
	OpWinner               Opcode = 0x19
	OpUpdatePlayerMode     Opcode = 0x1A
	OpBrawlerDeath         Opcode = 0x1B
	OpPlayerSteal          Opcode = 0x1C
)

func (o Opcode) String() string {
	if s, ok := catalog[o]; ok {
		return s.name
	}
	return fmt.Sprintf("Opcode(0x%02X)", uint8(o))
}

// GamePhase is the match phase broadcast in UpdateGameState.
type GamePhase uint8

const (
	PhaseLobby       GamePhase = 0
	PhaseGameRunning GamePhase = 1
	PhaseEndScreen   GamePhase = 2
)

var gamePhaseNames = map[GamePhase]string{
	PhaseLobby:       "lobby",
	PhaseGameRunning: "game_running",
	PhaseEndScreen:   "end_screen",
}

func (p GamePhase) String() string {
	if s, ok := gamePhaseNames[p]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON implements json.Marshaler.
func (p GamePhase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// PlayerMode is a client's participation state.
type PlayerMode uint8

const (
	ModePlaying    PlayerMode = 0
	ModeDead       PlayerMode = 1
	ModeSpectating PlayerMode = 2
)

var playerModeNames = map[PlayerMode]string{
	ModePlaying:    "playing",
	ModeDead:       "dead",
	ModeSpectating: "spectating",
}

func (m PlayerMode) String() string {
	if s, ok := playerModeNames[m]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON implements json.Marshaler.
func (m PlayerMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// CollectibleType selects a collectible's sprite and behaviour.
type CollectibleType uint8

const (
	CollectibleFire   CollectibleType = 0
	CollectibleCarrot CollectibleType = 1
	CollectibleGolden CollectibleType = 2
)

var collectibleTypeNames = map[CollectibleType]string{
	CollectibleFire:   "fire",
	CollectibleCarrot: "carrot",
	CollectibleGolden: "golden",
}

func (c CollectibleType) String() string {
	if s, ok := collectibleTypeNames[c]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON implements json.Marshaler.
func (c CollectibleType) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Vec2 is a 2D vector in arena units.
type Vec2 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Add returns v+o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

// Sub returns v-o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

// Scale returns v*s.
func (v Vec2) Scale(s float32) Vec2 { return Vec2{v.X * s, v.Y * s} }

// LengthSquared returns x*x+y*y.
func (v Vec2) LengthSquared() float32 { return v.X*v.X + v.Y*v.Y }

// Packet is any message that can be placed on the wire.
type Packet interface {
	Opcode() Opcode
	Encode(b *PacketBuilder)
}

// ---- Client to server ----

// PlayerName announces the player's display name.
type PlayerName struct {
	Name string
}

func (PlayerName) Opcode() Opcode { return OpPlayerName }

func (p PlayerName) Encode(b *PacketBuilder) { b.WriteString(p.Name) }

func decodePlayerName(r *PacketReader) (Packet, error) {
	name, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return PlayerName{Name: name}, nil
}

// CreateBrawlerRequest asks the server to spawn the sender's brawler.
type CreateBrawlerRequest struct{}

func (CreateBrawlerRequest) Opcode() Opcode { return OpCreateBrawlerRequest }

func (CreateBrawlerRequest) Encode(*PacketBuilder) {}

func decodeCreateBrawlerRequest(*PacketReader) (Packet, error) {
	return CreateBrawlerRequest{}, nil
}

// Inputs holds the four directional keys.
type Inputs struct {
	Left, Right, Up, Down bool
}

// Direction returns the unnormalized movement direction. Y grows downward.
func (in Inputs) Direction() Vec2 {
	var d Vec2
	if in.Left {
		d.X--
	}
	if in.Right {
		d.X++
	}
	if in.Up {
		d.Y--
	}
	if in.Down {
		d.Y++
	}
	return d
}

// PlayerInputs carries one frame of movement intent.
type PlayerInputs struct {
	BrawlerID uint32
	Inputs    Inputs
}

func (PlayerInputs) Opcode() Opcode { return OpPlayerInputs }

func (p PlayerInputs) Encode(b *PacketBuilder) {
	b.WriteUint32(p.BrawlerID).
		WriteBool(p.Inputs.Left).
		WriteBool(p.Inputs.Right).
		WriteBool(p.Inputs.Up).
		WriteBool(p.Inputs.Down)
}

func decodePlayerInputs(r *PacketReader) (Packet, error) {
	var p PlayerInputs
	var err error
	if p.BrawlerID, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	for _, dst := range []*bool{&p.Inputs.Left, &p.Inputs.Right, &p.Inputs.Up, &p.Inputs.Down} {
		if *dst, err = r.ReadBool(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// PlayerReady toggles the sender's ready flag.
type PlayerReady struct {
	Ready bool
}

func (PlayerReady) Opcode() Opcode { return OpPlayerReady }

func (p PlayerReady) Encode(b *PacketBuilder) { b.WriteBool(p.Ready) }

func decodePlayerReady(r *PacketReader) (Packet, error) {
	v, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	return PlayerReady{Ready: v}, nil
}

// PlayerStealRequest asks to take the golden collectible from a holder.
type PlayerStealRequest struct {
	TargetBrawlerID uint32
}

func (PlayerStealRequest) Opcode() Opcode { return OpPlayerStealRequest }

func (p PlayerStealRequest) Encode(b *PacketBuilder) { b.WriteUint32(p.TargetBrawlerID) }

func decodePlayerStealRequest(r *PacketReader) (Packet, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	return PlayerStealRequest{TargetBrawlerID: v}, nil
}

// ---- Server to client ----

// PlayerListEntry is one roster row.
type PlayerListEntry struct {
	ID         uint32
	Name       string
	IsDead     bool
	HasBrawler bool
	BrawlerID  uint32
}

// PlayerList is the full roster of named players.
type PlayerList struct {
	Players []PlayerListEntry
}

func (PlayerList) Opcode() Opcode { return OpPlayerList }

func (p PlayerList) Encode(b *PacketBuilder) {
	b.WriteUint16(uint16(len(p.Players)))
	for _, e := range p.Players {
		b.WriteUint32(e.ID).WriteString(e.Name).WriteBool(e.IsDead).WriteBool(e.HasBrawler)
		if e.HasBrawler {
			b.WriteUint32(e.BrawlerID)
		}
	}
}

func decodePlayerList(r *PacketReader) (Packet, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	p := PlayerList{Players: make([]PlayerListEntry, 0, min(int(n), r.Remaining()/10))}
	for i := 0; i < int(n); i++ {
		var e PlayerListEntry
		if e.ID, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		if e.Name, err = r.ReadString(); err != nil {
			return nil, err
		}
		if e.IsDead, err = r.ReadBool(); err != nil {
			return nil, err
		}
		if e.HasBrawler, err = r.ReadBool(); err != nil {
			return nil, err
		}
		if e.HasBrawler {
			if e.BrawlerID, err = r.ReadUint32(); err != nil {
				return nil, err
			}
		}
		p.Players = append(p.Players, e)
	}
	return p, nil
}

// CreateBrawler announces a new brawler object.
type CreateBrawler struct {
	PlayerID  uint32
	BrawlerID uint32
	Position  Vec2
	Velocity  Vec2
	Scale     float32
	Name      string
}

func (CreateBrawler) Opcode() Opcode { return OpCreateBrawler }

func (p CreateBrawler) Encode(b *PacketBuilder) {
	b.WriteUint32(p.PlayerID).
		WriteUint32(p.BrawlerID).
		WriteVec2(p.Position).
		WriteVec2(p.Velocity).
		WriteFloat32(p.Scale).
		WriteString(p.Name)
}

func decodeCreateBrawler(r *PacketReader) (Packet, error) {
	var p CreateBrawler
	var err error
	if p.PlayerID, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	if p.BrawlerID, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	if p.Position, err = r.ReadVec2(); err != nil {
		return nil, err
	}
	if p.Velocity, err = r.ReadVec2(); err != nil {
		return nil, err
	}
	if p.Scale, err = r.ReadFloat32(); err != nil {
		return nil, err
	}
	if p.Name, err = r.ReadString(); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateCollectible announces a new collectible object.
type CreateCollectible struct {
	ID       uint32
	Position Vec2
	Scale    float32
	Type     CollectibleType
}

func (CreateCollectible) Opcode() Opcode { return OpCreateCollectible }

func (p CreateCollectible) Encode(b *PacketBuilder) {
	b.WriteUint32(p.ID).WriteVec2(p.Position).WriteFloat32(p.Scale).WriteUint8(uint8(p.Type))
}

func decodeCreateCollectible(r *PacketReader) (Packet, error) {
	var p CreateCollectible
	var err error
	if p.ID, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	if p.Position, err = r.ReadVec2(); err != nil {
		return nil, err
	}
	if p.Scale, err = r.ReadFloat32(); err != nil {
		return nil, err
	}
	t, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	p.Type = CollectibleType(t)
	return p, nil
}

// DeleteEntity removes a replicated object.
type DeleteEntity struct {
	ID uint32
}

func (DeleteEntity) Opcode() Opcode { return OpDeleteEntity }

func (p DeleteEntity) Encode(b *PacketBuilder) { b.WriteUint32(p.ID) }

func decodeDeleteEntity(r *PacketReader) (Packet, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	return DeleteEntity{ID: v}, nil
}

// EntityState is the kinematic state of one dynamic object.
type EntityState struct {
	ID       uint32
	Position Vec2
	Velocity Vec2
}

// EntityStates is the per-tick snapshot of every dynamic object.
type EntityStates struct {
	States []EntityState
}

func (EntityStates) Opcode() Opcode { return OpEntityStates }

func (p EntityStates) Encode(b *PacketBuilder) {
	b.WriteUint32(uint32(len(p.States)))
	for _, s := range p.States {
		b.WriteUint32(s.ID).WriteVec2(s.Position).WriteVec2(s.Velocity)
	}
}

func decodeEntityStates(r *PacketReader) (Packet, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	// 20 bytes per entry; reject impossible counts before allocating.
	if uint64(n)*20 > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: %d entity states need %d bytes, have %d",
			ErrTruncated, n, uint64(n)*20, r.Remaining())
	}
	p := EntityStates{States: make([]EntityState, n)}
	for i := range p.States {
		s := &p.States[i]
		if s.ID, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		if s.Position, err = r.ReadVec2(); err != nil {
			return nil, err
		}
		if s.Velocity, err = r.ReadVec2(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// UpdateSelfBrawlerID tells a client which brawler it controls.
type UpdateSelfBrawlerID struct {
	BrawlerID uint32
}

func (UpdateSelfBrawlerID) Opcode() Opcode { return OpUpdateSelfBrawlerID }

func (p UpdateSelfBrawlerID) Encode(b *PacketBuilder) { b.WriteUint32(p.BrawlerID) }

func decodeUpdateSelfBrawlerID(r *PacketReader) (Packet, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	return UpdateSelfBrawlerID{BrawlerID: v}, nil
}

// CollectibleCollected credits the receiving client with a pickup.
type CollectibleCollected struct{}

func (CollectibleCollected) Opcode() Opcode { return OpCollectibleCollected }

func (CollectibleCollected) Encode(*PacketBuilder) {}

func decodeCollectibleCollected(*PacketReader) (Packet, error) {
	return CollectibleCollected{}, nil
}

// UpdateGameState announces a phase transition.
type UpdateGameState struct {
	Phase GamePhase
}

func (UpdateGameState) Opcode() Opcode { return OpUpdateGameState }

func (p UpdateGameState) Encode(b *PacketBuilder) { b.WriteUint8(uint8(p.Phase)) }

func decodeUpdateGameState(r *PacketReader) (Packet, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	return UpdateGameState{Phase: GamePhase(v)}, nil
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	PlayerID uint32
	Name     string
	Score    uint32
	IsDead   bool
}

// UpdateLeaderboard carries the ranked roster.
type UpdateLeaderboard struct {
	Entries []LeaderboardEntry
}

func (UpdateLeaderboard) Opcode() Opcode { return OpUpdateLeaderboard }

func (p UpdateLeaderboard) Encode(b *PacketBuilder) {
	b.WriteUint32(uint32(len(p.Entries)))
	for _, e := range p.Entries {
		b.WriteUint32(e.PlayerID).WriteString(e.Name).WriteUint32(e.Score).WriteBool(e.IsDead)
	}
}

func decodeUpdateLeaderboard(r *PacketReader) (Packet, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	// Each entry is at least 13 bytes.
	if uint64(n)*13 > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: %d leaderboard entries, have %d bytes",
			ErrTruncated, n, r.Remaining())
	}
	p := UpdateLeaderboard{Entries: make([]LeaderboardEntry, 0, n)}
	for i := uint32(0); i < n; i++ {
		var e LeaderboardEntry
		if e.PlayerID, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		if e.Name, err = r.ReadString(); err != nil {
			return nil, err
		}
		if e.Score, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		if e.IsDead, err = r.ReadBool(); err != nil {
			return nil, err
		}
		p.Entries = append(p.Entries, e)
	}
	return p, nil
}

// Winner names the last brawler standing.
type Winner struct {
	BrawlerID uint32
}

func (Winner) Opcode() Opcode { return OpWinner }

func (p Winner) Encode(b *PacketBuilder) { b.WriteUint32(p.BrawlerID) }

func decodeWinner(r *PacketReader) (Packet, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	return Winner{BrawlerID: v}, nil
}

// UpdatePlayerMode sets the receiving client's participation state.
type UpdatePlayerMode struct {
	Mode PlayerMode
}

func (UpdatePlayerMode) Opcode() Opcode { return OpUpdatePlayerMode }

func (p UpdatePlayerMode) Encode(b *PacketBuilder) { b.WriteUint8(uint8(p.Mode)) }

func decodeUpdatePlayerMode(r *PacketReader) (Packet, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	return UpdatePlayerMode{Mode: PlayerMode(v)}, nil
}

// BrawlerDeath reports an elimination.
type BrawlerDeath struct {
	PlayerID  uint32
	BrawlerID uint32
	Position  Vec2
	FacingX   int8
}

func (BrawlerDeath) Opcode() Opcode { return OpBrawlerDeath }

func (p BrawlerDeath) Encode(b *PacketBuilder) {
	b.WriteUint32(p.PlayerID).WriteUint32(p.BrawlerID).WriteVec2(p.Position).WriteInt8(p.FacingX)
}

func decodeBrawlerDeath(r *PacketReader) (Packet, error) {
	var p BrawlerDeath
	var err error
	if p.PlayerID, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	if p.BrawlerID, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	if p.Position, err = r.ReadVec2(); err != nil {
		return nil, err
	}
	if p.FacingX, err = r.ReadInt8(); err != nil {
		return nil, err
	}
	return p, nil
}

// NoHolder in PlayerSteal means the golden collectible was dropped.
const NoHolder uint32 = 0xFFFFFFFF

// PlayerSteal announces the new holder of the golden collectible.
type PlayerSteal struct {
	HolderBrawlerID uint32
}

func (PlayerSteal) Opcode() Opcode { return OpPlayerSteal }

func (p PlayerSteal) Encode(b *PacketBuilder) { b.WriteUint32(p.HolderBrawlerID) }

func decodePlayerSteal(r *PacketReader) (Packet, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	return PlayerSteal{HolderBrawlerID: v}, nil
}
