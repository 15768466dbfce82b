package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/networkbrawler/brawler/internal/match"
)

var (
	// ErrStopped is returned for commands submitted after the loop exits.
	ErrStopped = errors.New("server loop stopped")
	// ErrSlotEmpty is returned when kicking a slot nobody occupies.
	ErrSlotEmpty = errors.New("slot is empty")
)

// Disconnect reasons sent in the ENet disconnect data.
const (
	DisconnectShutdown uint32 = iota + 1
	DisconnectVersion
	DisconnectKicked
	DisconnectIdle
)

type commandKind int

const (
	cmdResetMatch commandKind = iota
	cmdKick
	cmdApplySettings
)

func (k commandKind) String() string {
	switch k {
	case cmdResetMatch:
		return "reset_match"
	case cmdKick:
		return "kick"
	case cmdApplySettings:
		return "apply_settings"
	}
	return "unknown"
}

type command struct {
	kind     commandKind
	slot     int
	settings match.Settings
	done     chan error
}

// ResetMatch ends any running match and returns everyone to the lobby.
func (s *Server) ResetMatch(ctx context.Context) error {
	return s.submit(ctx, command{kind: cmdResetMatch})
}

// Kick disconnects the player in slot.
func (s *Server) Kick(ctx context.Context, slot int) error {
	return s.submit(ctx, command{kind: cmdKick, slot: slot})
}

// ApplySettings replaces the match rules from the next match on.
func (s *Server) ApplySettings(ctx context.Context, settings match.Settings) error {
	return s.submit(ctx, command{kind: cmdApplySettings, settings: settings})
}

// submit queues cmd and waits for the loop to apply it.
func (s *Server) submit(ctx context.Context, cmd command) error {
	cmd.done = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainCommands applies every queued command without blocking.
func (s *Server) drainCommands() {
	for {
		select {
		case cmd := <-s.commands:
			err := s.apply(cmd)
			if err != nil {
				s.logger.Warn().Err(err).Str("command", cmd.kind.String()).Msg("command failed")
			} else {
				s.logger.Info().Str("command", cmd.kind.String()).Msg("command applied")
			}
			cmd.done <- err
		default:
			return
		}
	}
}

func (s *Server) apply(cmd command) error {
	switch cmd.kind {
	case cmdResetMatch:
		s.match.ForceLobby()
		return nil
	case cmdKick:
		peer, ok := s.match.Kick(cmd.slot)
		if !ok {
			return fmt.Errorf("%w: %d", ErrSlotEmpty, cmd.slot)
		}
		s.transport.Disconnect(peer, DisconnectKicked)
		return nil
	case cmdApplySettings:
		s.match.ApplySettings(cmd.settings)
		return nil
	}
	return fmt.Errorf("unknown command %d", cmd.kind)
}
