package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/protocol"
)

// DiscoveryMagic is the first byte of every discovery probe and reply.
const DiscoveryMagic byte = 0xB7

// ServerInfo is what a discovery reply advertises.
type ServerInfo struct {
	Name            string             `json:"name"`
	ProtocolVersion uint32             `json:"protocol_version"`
	Phase           protocol.GamePhase `json:"phase"`
	Players         uint8              `json:"players"`
	Addr            string             `json:"addr,omitempty"`
}

// InfoFunc returns the current advertisement. It is called from the
// responder goroutine and must be safe for concurrent use.
type InfoFunc func() ServerInfo

// DiscoveryResponder answers LAN discovery probes so clients can find
// servers without knowing their address.
type DiscoveryResponder struct {
	port   int
	info   InfoFunc
	logger zerolog.Logger

	mu   sync.Mutex
	conn net.PacketConn
}

// NewDiscoveryResponder creates a responder bound to port on Start.
func NewDiscoveryResponder(port int, info InfoFunc) *DiscoveryResponder {
	return &DiscoveryResponder{
		port:   port,
		info:   info,
		logger: log.With().Str("component", "discovery").Logger(),
	}
}

// BuildDiscoveryReply encodes info.
// Format: [magic:1][name:str][version:4][phase:1][players:1]
func BuildDiscoveryReply(info ServerInfo) []byte {
	return protocol.NewPacketBuilder().
		WriteUint8(DiscoveryMagic).
		WriteString(info.Name).
		WriteUint32(info.ProtocolVersion).
		WriteUint8(uint8(info.Phase)).
		WriteUint8(info.Players).
		Build()
}

// ParseDiscoveryReply decodes a reply produced by BuildDiscoveryReply.
func ParseDiscoveryReply(data []byte) (ServerInfo, error) {
	r := protocol.NewPacketReader(data)
	magic, err := r.ReadUint8()
	if err != nil {
		return ServerInfo{}, err
	}
	if magic != DiscoveryMagic {
		return ServerInfo{}, fmt.Errorf("bad discovery magic 0x%02X", magic)
	}

	var info ServerInfo
	if info.Name, err = r.ReadString(); err != nil {
		return ServerInfo{}, err
	}
	if info.ProtocolVersion, err = r.ReadUint32(); err != nil {
		return ServerInfo{}, err
	}
	phase, err := r.ReadUint8()
	if err != nil {
		return ServerInfo{}, err
	}
	info.Phase = protocol.GamePhase(phase)
	if info.Players, err = r.ReadUint8(); err != nil {
		return ServerInfo{}, err
	}
	return info, nil
}

// Start listens for probes until ctx is cancelled.
func (d *DiscoveryResponder) Start(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: d.port}

	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr.String())
	if err != nil {
		return fmt.Errorf("failed to start discovery responder on port %d: %w", d.port, err)
	}
	d.mu.Lock()
	d.conn = pc
	d.mu.Unlock()

	d.logger.Info().Str("addr", pc.LocalAddr().String()).Msg("discovery responder started")

	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	buf := make([]byte, 512)
	for {
		n, remote, err := pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				d.logger.Info().Msg("discovery responder stopping")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Error().Err(err).Msg("discovery read error")
			continue
		}

		if n < 1 || buf[0] != DiscoveryMagic {
			continue
		}

		if _, err := pc.WriteTo(BuildDiscoveryReply(d.info()), remote); err != nil {
			d.logger.Warn().Err(err).Str("remote", remote.String()).Msg("failed to send discovery reply")
			continue
		}
		d.logger.Trace().Str("remote", remote.String()).Msg("answered discovery probe")
	}
}

// LocalAddr returns the bound address, or nil before Start.
func (d *DiscoveryResponder) LocalAddr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// Stop closes the socket.
func (d *DiscoveryResponder) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// SelfTest probes the responder over loopback.
func (d *DiscoveryResponder) SelfTest(ctx context.Context) error {
	_, err := Discover(ctx, fmt.Sprintf("127.0.0.1:%d", d.port), 5*time.Second)
	if err != nil {
		return fmt.Errorf("discovery self-test failed: %w", err)
	}
	d.logger.Debug().Int("port", d.port).Msg("discovery self-test passed")
	return nil
}

// Discover sends a probe to addr and waits up to timeout for the reply.
func Discover(ctx context.Context, addr string, timeout time.Duration) (ServerInfo, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp4", addr)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("discovery dial failed: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{DiscoveryMagic}); err != nil {
		return ServerInfo{}, fmt.Errorf("discovery write failed: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("discovery read failed: %w", err)
	}

	info, err := ParseDiscoveryReply(buf[:n])
	if err != nil {
		return ServerInfo{}, fmt.Errorf("invalid discovery reply: %w", err)
	}
	info.Addr = conn.RemoteAddr().String()
	return info, nil
}
