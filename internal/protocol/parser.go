package protocol

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrUnknownOpcode is returned for a message whose first byte is not registered.
var ErrUnknownOpcode = errors.New("unknown opcode")

type schema struct {
	name     string
	reliable bool
	decode   func(*PacketReader) (Packet, error)
}

// catalog is the single table of every message the game exchanges.
var catalog = map[Opcode]schema{
	OpPlayerName:           {"PlayerName", true, decodePlayerName},
	OpCreateBrawlerRequest: {"CreateBrawlerRequest", true, decodeCreateBrawlerRequest},
	OpPlayerInputs:         {"PlayerInputs", false, decodePlayerInputs},
	OpPlayerReady:          {"PlayerReady", true, decodePlayerReady},
	OpPlayerStealRequest:   {"PlayerStealRequest", true, decodePlayerStealRequest},

	OpPlayerList:           {"PlayerList", true, decodePlayerList},
	OpCreateBrawler:        {"CreateBrawler", true, decodeCreateBrawler},
	OpCreateCollectible:    {"CreateCollectible", true, decodeCreateCollectible},
	OpDeleteEntity:         {"DeleteEntity", true, decodeDeleteEntity},
	OpEntityStates:         {"EntityStates", false, decodeEntityStates},
	OpUpdateSelfBrawlerID:  {"UpdateSelfBrawlerID", true, decodeUpdateSelfBrawlerID},
	OpCollectibleCollected: {"CollectibleCollected", true, decodeCollectibleCollected},
	OpUpdateGameState:      {"UpdateGameState", true, decodeUpdateGameState},
	OpUpdateLeaderboard:    {"UpdateLeaderboard", true, decodeUpdateLeaderboard},
	OpWinner:               {"Winner", true, decodeWinner},
	OpUpdatePlayerMode:     {"UpdatePlayerMode", true, decodeUpdatePlayerMode},
	OpBrawlerDeath:         {"BrawlerDeath", true, decodeBrawlerDeath},
	OpPlayerSteal:          {"PlayerSteal", true, decodePlayerSteal},
}

// Registered returns every known opcode in ascending order.
func Registered() []Opcode {
	ops := make([]Opcode, 0, len(catalog))
	for op := range catalog {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// IsReliable reports whether messages with this opcode use reliable delivery.
// Unknown opcodes are treated as reliable.
func IsReliable(op Opcode) bool {
	s, ok := catalog[op]
	return !ok || s.reliable
}

// BuildMessage serializes p as [opcode][payload].
func BuildMessage(p Packet) []byte {
	b := NewPacketBuilder()
	b.WriteUint8(uint8(p.Opcode()))
	p.Encode(b)
	return b.Build()
}

// Decode parses a complete message. Trailing bytes after the payload are ignored.
func Decode(data []byte) (Packet, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty message", ErrTruncated)
	}

	op := Opcode(data[0])
	s, ok := catalog[op]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, data[0])
	}

	p, err := s.decode(NewPacketReader(data[1:]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.name, err)
	}
	return p, nil
}

// Parser decodes incoming messages and logs the ones it has to drop.
type Parser struct {
	logger zerolog.Logger
}

// NewParser creates a new parser. side names the receiving end in logs.
func NewParser(side string) *Parser {
	return &Parser{
		logger: log.With().Str("component", "parser").Str("side", side).Logger(),
	}
}

// Parse decodes data. Malformed messages are logged at warn level and
// returned as errors; the caller drops them.
func (p *Parser) Parse(data []byte) (Packet, error) {
	pkt, err := Decode(data)
	if err != nil {
		ev := p.logger.Warn().Err(err).Int("len", len(data))
		if len(data) > 0 {
			ev = ev.Uint8("opcode", data[0])
		}
		ev.Msg("dropping malformed message")
		return nil, err
	}

	p.logger.Trace().Str("packet", pkt.Opcode().String()).Int("len", len(data)).Msg("message")
	return pkt, nil
}
