// Package health runs periodic checks on the host and the game loop and
// publishes the server heartbeat.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/networkbrawler/brawler/internal/config"
	"github.com/networkbrawler/brawler/internal/events"
	"github.com/networkbrawler/brawler/internal/server"
	"github.com/networkbrawler/brawler/internal/util"
)

// Manager runs periodic health checks.
type Manager struct {
	timers   config.TimerConfig
	eventBus *events.EventBus
	board    *server.StatusBoard
	lag      *server.LagMonitor
	diskPath string

	diskUsage func(path string) (*util.DiskUsage, error)
	localIP   func() (string, error)

	logger zerolog.Logger

	lastIP        string
	lastDiskLevel string
	lastTicks     uint64
	stalls        int
}

// NewManager creates a health check manager. diskPath is any path on the
// volume holding the results database.
func NewManager(timers config.TimerConfig, eventBus *events.EventBus, board *server.StatusBoard, lag *server.LagMonitor, diskPath string) *Manager {
	if diskPath == "" {
		diskPath = "."
	}
	return &Manager{
		timers:    timers,
		eventBus:  eventBus,
		board:     board,
		lag:       lag,
		diskPath:  filepath.Dir(diskPath),
		diskUsage: util.GetDiskUsage,
		localIP:   util.GetLocalIP,
		logger:    util.ComponentLogger("health"),
	}
}

// Start launches all health checks and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"general_health", m.timers.HealthInterval, m.checkGeneralHealth},
		{"disk_utilization", m.timers.HealthInterval, m.checkDiskUtilization},
		{"local_ip", m.timers.HealthInterval, m.checkLocalIP},
		{"heartbeat", m.timers.HeartbeatInterval, m.heartbeat},
	}

	// Checks share Manager fields, so they run on one goroutine.
	type due struct {
		next     time.Time
		interval time.Duration
		fn       func(context.Context)
	}
	var schedule []*due
	now := time.Now()
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		m.logger.Debug().Str("check", check.name).Msg("running initial health check")
		check.fn(ctx)
		interval := time.Duration(check.interval) * time.Second
		schedule = append(schedule, &due{next: now.Add(interval), interval: interval, fn: check.fn})
	}

	m.logger.Info().Int("checks", len(schedule)).Msg("health check manager started")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health check manager stopped")
			return
		case now := <-ticker.C:
			for _, d := range schedule {
				if !now.Before(d.next) {
					d.fn(ctx)
					d.next = now.Add(d.interval)
				}
			}
		}
	}
}

// checkGeneralHealth watches for a stalled loop and reports process usage.
func (m *Manager) checkGeneralHealth(ctx context.Context) {
	snap := m.board.Snapshot()
	if snap.Ticks == m.lastTicks && !snap.UpdatedAt.IsZero() {
		m.stalls++
		m.logger.Warn().Uint64("ticks", snap.Ticks).Int("checks", m.stalls).Msg("game loop has not ticked since last check")
		if m.stalls == 2 {
			m.notify(ctx, "Game Loop Stalled", "the game loop has stopped publishing ticks", "error")
		}
	} else {
		m.stalls = 0
	}
	m.lastTicks = snap.Ticks

	if usage, err := util.GetProcessUsage(); err == nil {
		m.logger.Debug().
			Uint64("rss_mb", usage.RSSMB).
			Float64("cpu_percent", usage.CPUPercent).
			Int("goroutines", usage.Goroutines).
			Msg("process usage")
	}

	if m.lag != nil {
		if alert, ok := m.lag.CheckThresholds(); ok {
			m.logger.Warn().Str("level", alert.Level).Int("events", alert.Events).Msg(alert.Message)
		}
	}
}

// diskLevel maps used percent to an alert level, "" for none.
func diskLevel(usedPercent float64) string {
	switch {
	case usedPercent >= 100:
		return "critical"
	case usedPercent >= 95:
		return "error"
	case usedPercent >= 90:
		return "warning"
	case usedPercent >= 80:
		return "info"
	default:
		return ""
	}
}

// checkDiskUtilization alerts once each time the level changes.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	usage, err := m.diskUsage(m.diskPath)
	if err != nil {
		m.logger.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	m.logger.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	level := diskLevel(usage.UsedPercent)
	if level == m.lastDiskLevel {
		return
	}
	m.lastDiskLevel = level
	if level == "" {
		return
	}

	message := fmt.Sprintf("Disk usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total)
	m.logger.Warn().Str("level", level).Msg(message)
	m.notify(ctx, "Disk Space Alert", message, level)
}

// checkLocalIP reports a change of the address discovery advertises.
func (m *Manager) checkLocalIP(ctx context.Context) {
	ip, err := m.localIP()
	if err != nil {
		m.logger.Warn().Err(err).Msg("local IP check failed")
		return
	}
	if m.lastIP != "" && m.lastIP != ip {
		m.logger.Warn().
			Str("old_ip", m.lastIP).
			Str("new_ip", ip).
			Msg("local IP changed")
		m.notify(ctx, "Local IP Changed", fmt.Sprintf("Local IP changed from %s to %s", m.lastIP, ip), "warning")
	}
	m.lastIP = ip
}

// heartbeat publishes uptime and player count.
func (m *Manager) heartbeat(ctx context.Context) {
	snap := m.board.Snapshot()
	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventHeartbeat,
		Source: "health_check",
		Payload: events.HeartbeatPayload{
			Uptime:  snap.Uptime(),
			Players: len(snap.Match.Players),
			Phase:   snap.Match.Phase.String(),
		},
	})
}

func (m *Manager) notify(ctx context.Context, title, message, level string) {
	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotifyAdmin,
		Source: "health_check",
		Payload: events.NotifyAdminPayload{
			Title:   title,
			Message: message,
			Level:   level,
		},
	})
}
