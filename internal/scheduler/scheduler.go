// Package scheduler runs the server's background housekeeping: the daily
// results prune and periodic stats logging.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/config"
	"github.com/networkbrawler/brawler/internal/server"
)

// Pruner deletes stored results older than a cutoff.
type Pruner interface {
	PruneOlderThan(cutoff time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	storage config.StorageConfig
	timers  config.TimerConfig
	store   Pruner
	board   *server.StatusBoard
	now     func() time.Time

	lastTicks uint64
}

// NewScheduler creates a task scheduler. store and board may be nil, which
// disables the prune and stats tasks respectively.
func NewScheduler(storage config.StorageConfig, timers config.TimerConfig, store Pruner, board *server.StatusBoard) *Scheduler {
	return &Scheduler{
		storage: storage,
		timers:  timers,
		store:   store,
		board:   board,
		now:     time.Now,
	}
}

// Start runs every enabled task and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.store != nil {
		go s.runPruneLoop(ctx)
	}
	if s.board != nil && s.timers.StatsInterval > 0 {
		go s.runStatsLoop(ctx, time.Duration(s.timers.StatsInterval)*time.Second)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runPruneLoop(ctx context.Context) {
	for {
		nextRun, err := NextRun(s.now(), s.storage.PruneTime)
		if err != nil {
			log.Warn().Err(err).Msg("bad prune time, using 04:00")
			nextRun, _ = NextRun(s.now(), "04:00")
		}

		log.Info().
			Time("next_run", nextRun).
			Msg("results prune scheduled")

		timer := time.NewTimer(nextRun.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.prune()
		}
	}
}

// prune removes results past the retention window.
func (s *Scheduler) prune() (int64, error) {
	days := s.storage.RetentionDays
	if days < 1 {
		days = 1
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	removed, err := s.store.PruneOlderThan(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("results prune failed")
		return 0, err
	}
	log.Info().
		Int64("removed", removed).
		Int("retention_days", days).
		Msg("results prune completed")
	return removed, nil
}

func (s *Scheduler) runStatsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logStats(interval)
		}
	}
}

// logStats logs one line describing the loop since the previous call.
func (s *Scheduler) logStats(interval time.Duration) float64 {
	snap := s.board.Snapshot()
	ticks := snap.Ticks - s.lastTicks
	if snap.Ticks < s.lastTicks {
		ticks = snap.Ticks
	}
	s.lastTicks = snap.Ticks
	rate := float64(ticks) / interval.Seconds()

	log.Info().
		Str("phase", snap.Match.Phase.String()).
		Int("peers", snap.Peers).
		Int("alive", snap.Match.Alive).
		Int("objects", snap.Match.Objects).
		Float64("ticks_per_sec", rate).
		Uint64("creates_sent", snap.Replication.Creates).
		Uint64("deletes_sent", snap.Replication.Deletes).
		Uint64("snapshots_sent", snap.Replication.Snapshots).
		Dur("uptime", snap.Uptime()).
		Msg("server stats")
	return rate
}

// NextRun returns the first time at hh:mm (local to now) strictly after now.
func NextRun(now time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", hhmm, err)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}
