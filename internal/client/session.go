package client

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/network"
	"github.com/networkbrawler/brawler/internal/replication"
)

// ErrDisconnected ends a session when the server goes away.
var ErrDisconnected = errors.New("disconnected from server")

// serverPeer is the peer id used for the single server connection.
const serverPeer network.PeerID = 1

// Transport is the client side of the connection.
type Transport interface {
	network.Sender
	Poll(timeout time.Duration) []network.Event
	Close() error
}

// FrameFunc is called after every tick with the current view.
type FrameFunc func(View)

// Session drives a Consumer from a transport on a fixed tick.
type Session struct {
	transport Transport
	consumer  *Consumer
	logger    zerolog.Logger
	onFrame   FrameFunc

	tickDelay time.Duration
	started   bool
	nextTick  time.Time
}

// NewSession creates a session. tickDelay defaults to the server tick.
func NewSession(transport Transport, consumer *Consumer, tickDelay time.Duration) *Session {
	if tickDelay <= 0 {
		tickDelay = replication.TickDelay
	}
	return &Session{
		transport: transport,
		consumer:  consumer,
		logger:    log.With().Str("component", "session").Logger(),
		tickDelay: tickDelay,
	}
}

// OnFrame registers a per-tick callback.
func (s *Session) OnFrame(fn FrameFunc) { s.onFrame = fn }

// Consumer returns the mirror the session feeds.
func (s *Session) Consumer() *Consumer { return s.consumer }

// Run steps the session until ctx is cancelled or the server disconnects.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := s.Step(time.Now(), time.Millisecond); err != nil {
			return err
		}
	}
}

// Step drains the transport, ticks when due and flushes queued intent.
func (s *Session) Step(now time.Time, wait time.Duration) error {
	if !s.started {
		s.started = true
		s.nextTick = now
	}

	for _, ev := range s.transport.Poll(wait) {
		switch ev.Type {
		case network.EventDisconnect:
			s.logger.Warn().Uint32("reason", ev.ConnectData).Msg("server closed the connection")
			return ErrDisconnected
		case network.EventMessage:
			if err := s.consumer.HandleMessage(ev.Data); err != nil {
				s.logger.Debug().Err(err).Msg("message dropped")
			}
		}
	}

	if behind := now.Sub(s.nextTick); behind > 10*s.tickDelay {
		s.nextTick = now
	}
	if !now.Before(s.nextTick) {
		s.consumer.Tick(s.tickDelay)
		s.nextTick = s.nextTick.Add(s.tickDelay)
		if s.onFrame != nil {
			s.onFrame(s.consumer.View())
		}
	}

	for _, out := range s.consumer.DrainOutgoing() {
		if err := s.transport.Send(serverPeer, out.Data, out.Reliable); err != nil {
			s.logger.Warn().Err(err).Msg("send failed")
		}
	}
	return nil
}
