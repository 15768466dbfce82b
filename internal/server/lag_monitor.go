package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/events"
)

const (
	// LagWarningThreshold is the number of long frames per hour before warning.
	LagWarningThreshold = 10
	// LagCriticalThreshold is the number of long frames per hour before notifying admin.
	LagCriticalThreshold = 30

	lagHistoryLimit = 1000
)

// LagMonitor aggregates long frame events from the server loop.
type LagMonitor struct {
	mu       sync.Mutex
	eventBus *events.EventBus
	now      func() time.Time

	data LagData

	warningThreshold  int
	criticalThreshold int
}

// LagData summarizes the loop falling behind its tick schedule.
type LagData struct {
	TotalEvents       int         `json:"total_events"`
	EventsThisHour    int         `json:"events_this_hour"`
	TotalSkippedTicks int         `json:"total_skipped_ticks"`
	LastEventTime     time.Time   `json:"last_event_time"`
	MaxBehindMs       int64       `json:"max_behind_ms"`
	AvgBehindMs       float64     `json:"avg_behind_ms"`
	History           []LagEvent  `json:"history"`
	HourlyBuckets     map[int]int `json:"hourly_buckets"`
}

// LagEvent is a single long frame.
type LagEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	BehindMs     int64     `json:"behind_ms"`
	SkippedTicks int       `json:"skipped_ticks"`
}

// LagAlert is a threshold crossing.
type LagAlert struct {
	Level   string `json:"level"`
	Events  int    `json:"events"`
	Message string `json:"message"`
}

// NewLagMonitor creates a lag monitor subscribed to long frame events.
func NewLagMonitor(eventBus *events.EventBus) *LagMonitor {
	lm := &LagMonitor{
		eventBus:          eventBus,
		now:               time.Now,
		data:              LagData{HourlyBuckets: make(map[int]int)},
		warningThreshold:  LagWarningThreshold,
		criticalThreshold: LagCriticalThreshold,
	}
	if eventBus != nil {
		eventBus.Subscribe(events.EventLongFrame, "lag_monitor", lm.handleLagEvent)
	}
	return lm
}

func (lm *LagMonitor) handleLagEvent(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.LongFramePayload)
	if !ok {
		return nil
	}
	lm.Record(payload.Behind, payload.SkippedTicks)
	return nil
}

// Record adds one long frame.
func (lm *LagMonitor) Record(behind time.Duration, skipped int) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	data := &lm.data
	ms := behind.Milliseconds()

	data.TotalEvents++
	data.TotalSkippedTicks += skipped
	data.LastEventTime = now
	data.History = append(data.History, LagEvent{Timestamp: now, BehindMs: ms, SkippedTicks: skipped})
	if ms > data.MaxBehindMs {
		data.MaxBehindMs = ms
	}
	if len(data.History) > lagHistoryLimit {
		data.History = data.History[len(data.History)-lagHistoryLimit:]
	}

	var total int64
	for _, e := range data.History {
		total += e.BehindMs
	}
	data.AvgBehindMs = float64(total) / float64(len(data.History))
	data.HourlyBuckets[now.Hour()]++
	lm.recount(now)
}

func (lm *LagMonitor) recount(now time.Time) {
	oneHourAgo := now.Add(-time.Hour)
	n := 0
	for _, e := range lm.data.History {
		if e.Timestamp.After(oneHourAgo) {
			n++
		}
	}
	lm.data.EventsThisHour = n
}

// Data returns a copy of the lag summary.
func (lm *LagMonitor) Data() LagData {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.recount(lm.now())

	out := lm.data
	out.History = append([]LagEvent(nil), lm.data.History...)
	out.HourlyBuckets = make(map[int]int, len(lm.data.HourlyBuckets))
	for k, v := range lm.data.HourlyBuckets {
		out.HourlyBuckets[k] = v
	}
	return out
}

// CheckThresholds evaluates the last hour against the thresholds.
func (lm *LagMonitor) CheckThresholds() (LagAlert, bool) {
	data := lm.Data()
	msg := fmt.Sprintf("%d long frames in the last hour", data.EventsThisHour)
	switch {
	case data.EventsThisHour >= lm.criticalThreshold:
		return LagAlert{Level: "critical", Events: data.EventsThisHour, Message: msg}, true
	case data.EventsThisHour >= lm.warningThreshold:
		return LagAlert{Level: "warning", Events: data.EventsThisHour, Message: msg}, true
	}
	return LagAlert{}, false
}

// Start runs periodic threshold checks until ctx is cancelled.
func (lm *LagMonitor) Start(ctx context.Context, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alert, ok := lm.CheckThresholds()
			if !ok {
				continue
			}
			log.Warn().
				Str("level", alert.Level).
				Int("events", alert.Events).
				Msg("lag threshold alert")

			if alert.Level == "critical" {
				lm.eventBus.Emit(ctx, events.Event{
					Type:   events.EventNotifyAdmin,
					Source: "lag_monitor",
					Payload: events.NotifyAdminPayload{
						Title:   "Lag Alert - Critical",
						Message: alert.Message,
						Level:   "error",
					},
				})
			}
		}
	}
}
