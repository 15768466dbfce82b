package protocol

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

// samples holds one boundary-valued packet for every registered opcode.
func samples() map[Opcode]Packet {
	huge := float32(math.MaxFloat32)
	return map[Opcode]Packet{
		OpPlayerName:           PlayerName{Name: "Zoë the Brawler"},
		OpCreateBrawlerRequest: CreateBrawlerRequest{},
		OpPlayerInputs:         PlayerInputs{BrawlerID: math.MaxUint32, Inputs: Inputs{Left: true, Down: true}},
		OpPlayerReady:          PlayerReady{Ready: true},
		OpPlayerStealRequest:   PlayerStealRequest{TargetBrawlerID: 42},
		OpPlayerList: PlayerList{Players: []PlayerListEntry{
			{ID: 0, Name: "alpha", HasBrawler: true, BrawlerID: 7},
			{ID: 1, Name: "", IsDead: true},
			{ID: math.MaxUint32, Name: "omega", IsDead: true, HasBrawler: true, BrawlerID: math.MaxUint32},
		}},
		OpCreateBrawler: CreateBrawler{
			PlayerID: 3, BrawlerID: 9,
			Position: Vec2{-100000, huge},
			Velocity: Vec2{-huge, 0},
			Scale:    0.5,
			Name:     "carl",
		},
		OpCreateCollectible:    CreateCollectible{ID: 11, Position: Vec2{1, 2}, Scale: 1.25, Type: CollectibleGolden},
		OpDeleteEntity:         DeleteEntity{ID: math.MaxUint32},
		OpEntityStates:         EntityStates{States: []EntityState{{ID: 1, Position: Vec2{1, 2}, Velocity: Vec2{3, 4}}, {ID: 2}}},
		OpUpdateSelfBrawlerID:  UpdateSelfBrawlerID{BrawlerID: 0},
		OpCollectibleCollected: CollectibleCollected{},
		OpUpdateGameState:      UpdateGameState{Phase: PhaseEndScreen},
		OpUpdateLeaderboard: UpdateLeaderboard{Entries: []LeaderboardEntry{
			{PlayerID: 2, Name: "b", Score: math.MaxUint32},
			{PlayerID: 1, Name: "a", Score: 0, IsDead: true},
		}},
		OpWinner:           Winner{BrawlerID: 5},
		OpUpdatePlayerMode: UpdatePlayerMode{Mode: ModeSpectating},
		OpBrawlerDeath:     BrawlerDeath{PlayerID: 1, BrawlerID: 2, Position: Vec2{10, -10}, FacingX: -1},
		OpPlayerSteal:      PlayerSteal{HolderBrawlerID: 8},
	}
}

func TestCatalogRoundTrip(t *testing.T) {
	all := samples()
	for _, op := range Registered() {
		p, ok := all[op]
		if !ok {
			t.Errorf("no sample for %s", op)
			continue
		}
		if p.Opcode() != op {
			t.Fatalf("sample for %s reports opcode %s", op, p.Opcode())
		}

		msg := BuildMessage(p)
		if Opcode(msg[0]) != op {
			t.Fatalf("%s: first byte = 0x%02X", op, msg[0])
		}

		got, err := Decode(msg)
		if err != nil {
			t.Fatalf("%s: Decode: %v", op, err)
		}
		if !reflect.DeepEqual(normalize(got), normalize(p)) {
			t.Errorf("%s: round trip = %+v, want %+v", op, got, p)
		}

		// Every proper prefix of the payload must fail cleanly.
		for cut := 1; cut < len(msg); cut++ {
			if _, err := Decode(msg[:cut]); !errors.Is(err, ErrTruncated) {
				t.Errorf("%s: Decode(%d of %d bytes) err = %v, want ErrTruncated", op, cut, len(msg), err)
			}
		}
	}
	if len(all) != len(Registered()) {
		t.Fatalf("samples = %d, registered = %d", len(all), len(Registered()))
	}
}

// normalize makes nil and empty slices compare equal.
func normalize(p Packet) Packet {
	switch v := p.(type) {
	case PlayerList:
		if len(v.Players) == 0 {
			v.Players = nil
		}
		return v
	case EntityStates:
		if len(v.States) == 0 {
			v.States = nil
		}
		return v
	case UpdateLeaderboard:
		if len(v.Entries) == 0 {
			v.Entries = nil
		}
		return v
	}
	return p
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrTruncated) {
		t.Fatalf("empty: err = %v", err)
	}
	if _, err := Decode([]byte{0xEE, 1, 2}); !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("unknown: err = %v", err)
	}
	// A count far beyond the payload must not allocate or succeed.
	msg := NewPacketBuilder().WriteUint8(uint8(OpEntityStates)).WriteUint32(math.MaxUint32).Build()
	if _, err := Decode(msg); !errors.Is(err, ErrTruncated) {
		t.Fatalf("oversized count: err = %v", err)
	}
}

func TestEntityStatesTruncatedEntry(t *testing.T) {
	msg := BuildMessage(EntityStates{States: []EntityState{
		{ID: 1, Position: Vec2{1, 2}, Velocity: Vec2{3, 4}},
		{ID: 2, Position: Vec2{5, 6}, Velocity: Vec2{7, 8}},
	}})
	// Cut inside the second entry's velocity.
	p, err := Decode(msg[:len(msg)-3])
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if p != nil {
		t.Fatalf("partial snapshot returned: %+v", p)
	}
}

func TestPlayerListOmitsBrawlerID(t *testing.T) {
	msg := BuildMessage(PlayerList{Players: []PlayerListEntry{{ID: 1, Name: "x", BrawlerID: 99}}})
	// opcode + count + id + (len + "x") + isDead + hasBrawler
	if want := 1 + 2 + 4 + 5 + 1 + 1; len(msg) != want {
		t.Fatalf("len = %d, want %d", len(msg), want)
	}
}

func TestEmptyPayloadMessages(t *testing.T) {
	for _, p := range []Packet{CreateBrawlerRequest{}, CollectibleCollected{}} {
		msg := BuildMessage(p)
		if len(msg) != 1 {
			t.Fatalf("%s: len = %d, want 1", p.Opcode(), len(msg))
		}
	}
}

func TestReliability(t *testing.T) {
	unreliable := map[Opcode]bool{OpPlayerInputs: true, OpEntityStates: true}
	for _, op := range Registered() {
		if IsReliable(op) == unreliable[op] {
			t.Errorf("%s reliable = %v", op, IsReliable(op))
		}
	}
}

func TestParserDropsMalformed(t *testing.T) {
	p := NewParser("test")
	if _, err := p.Parse([]byte{byte(OpDeleteEntity), 1}); err == nil {
		t.Fatal("expected error for truncated message")
	}
	pkt, err := p.Parse(BuildMessage(Winner{BrawlerID: 3}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if w, ok := pkt.(Winner); !ok || w.BrawlerID != 3 {
		t.Fatalf("Parse = %+v", pkt)
	}
}

func TestInputsDirection(t *testing.T) {
	d := Inputs{Left: true, Right: true, Up: true}.Direction()
	if d.X != 0 || d.Y != -1 {
		t.Fatalf("direction = %+v", d)
	}
}
