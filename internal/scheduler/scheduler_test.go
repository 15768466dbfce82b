package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/networkbrawler/brawler/internal/config"
	"github.com/networkbrawler/brawler/internal/server"
)

type fakePruner struct {
	cutoffs []time.Time
	err     error
}

func (f *fakePruner) PruneOlderThan(cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 3, f.err
}

func TestNextRun(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 1, h, m, 0, 0, time.UTC) }

	tests := []struct {
		now  time.Time
		hhmm string
		want time.Time
	}{
		{at(1, 0), "04:00", at(4, 0)},
		{at(4, 0), "04:00", at(4, 0).AddDate(0, 0, 1)},
		{at(23, 59), "00:30", time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := NextRun(tt.now, tt.hhmm)
		if err != nil {
			t.Fatalf("NextRun(%v, %q): %v", tt.now, tt.hhmm, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("NextRun(%v, %q) = %v, want %v", tt.now, tt.hhmm, got, tt.want)
		}
	}

	if _, err := NextRun(at(0, 0), "4am"); err == nil {
		t.Fatal("bad time accepted")
	}
}

func TestPruneUsesRetention(t *testing.T) {
	now := time.Date(2026, 3, 31, 4, 0, 0, 0, time.UTC)
	store := &fakePruner{}
	s := NewScheduler(config.StorageConfig{RetentionDays: 30, PruneTime: "04:00"}, config.TimerConfig{}, store, nil)
	s.now = func() time.Time { return now }

	removed, err := s.prune()
	if err != nil || removed != 3 {
		t.Fatalf("prune = %d, %v", removed, err)
	}
	want := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	if len(store.cutoffs) != 1 || !store.cutoffs[0].Equal(want) {
		t.Fatalf("cutoffs = %v, want %v", store.cutoffs, want)
	}

	store.err = errors.New("disk full")
	if _, err := s.prune(); err == nil {
		t.Fatal("prune error swallowed")
	}
}

func TestLogStatsTickRate(t *testing.T) {
	board := server.NewStatusBoard()
	s := NewScheduler(config.StorageConfig{}, config.TimerConfig{StatsInterval: 10}, nil, board)

	board.Publish(server.Snapshot{Ticks: 300, UpdatedAt: time.Now()})
	if rate := s.logStats(10 * time.Second); rate != 30 {
		t.Fatalf("rate = %v, want 30", rate)
	}
	board.Publish(server.Snapshot{Ticks: 450, UpdatedAt: time.Now()})
	if rate := s.logStats(10 * time.Second); rate != 15 {
		t.Fatalf("rate = %v, want 15", rate)
	}
}
