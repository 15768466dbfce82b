// Package connector delivers operator notifications to external services.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/config"
	"github.com/networkbrawler/brawler/internal/events"
)

const lagSource = "lag_monitor"

// WebhookNotifier posts embeds to a Discord-compatible webhook.
type WebhookNotifier struct {
	cfg      config.WebhookConfig
	server   string
	eventBus *events.EventBus
	client   *http.Client
}

// NewWebhookNotifier creates a notifier. It sends nothing if cfg.URL is empty.
func NewWebhookNotifier(cfg config.WebhookConfig, serverName string, eventBus *events.EventBus) *WebhookNotifier {
	return &WebhookNotifier{
		cfg:      cfg,
		server:   serverName,
		eventBus: eventBus,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a webhook URL is configured.
func (w *WebhookNotifier) Enabled() bool {
	return w.cfg.URL != ""
}

// Subscribe registers the notifier's bus handlers.
func (w *WebhookNotifier) Subscribe() {
	w.eventBus.Subscribe(events.EventNotifyAdmin, "webhook.notify", w.onNotifyAdmin)
	if w.cfg.NotifyOnMatchEnd {
		w.eventBus.Subscribe(events.EventMatchEnded, "webhook.match", w.onMatchEnded)
	}
}

// Send posts one embed.
func (w *WebhookNotifier) Send(ctx context.Context, title, message, level string) error {
	if !w.Enabled() {
		return nil
	}

	var color int
	switch level {
	case "error", "critical":
		color = 0xFF0000
	case "warning":
		color = 0xFFAA00
	default:
		color = 0x00FF00
	}

	payload := map[string]interface{}{
		"username": w.cfg.Username,
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": message,
				"color":       color,
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
				"footer": map[string]string{
					"text": w.server,
				},
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	log.Debug().Str("title", title).Msg("webhook notification sent")
	return nil
}

func (w *WebhookNotifier) onNotifyAdmin(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.NotifyAdminPayload)
	if !ok {
		return nil
	}
	if event.Source == lagSource && !w.cfg.NotifyOnLag {
		return nil
	}
	return w.Send(ctx, payload.Title, payload.Message, payload.Level)
}

func (w *WebhookNotifier) onMatchEnded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.MatchEndedPayload)
	if !ok {
		return nil
	}
	return w.Send(ctx, "Match Over", MatchSummary(payload), "info")
}

// MatchSummary renders a finished match as a few lines of text.
func MatchSummary(p events.MatchEndedPayload) string {
	var b strings.Builder
	switch {
	case p.Aborted:
		fmt.Fprintf(&b, "Match #%d was reset", p.MatchNumber)
	case p.HasWinner:
		fmt.Fprintf(&b, "%s won match #%d", p.WinnerName, p.MatchNumber)
	default:
		fmt.Fprintf(&b, "Match #%d ended with no winner", p.MatchNumber)
	}
	if !p.StartedAt.IsZero() && !p.EndedAt.IsZero() {
		fmt.Fprintf(&b, " after %s", p.EndedAt.Sub(p.StartedAt).Round(time.Second))
	}
	for _, r := range p.Results {
		fmt.Fprintf(&b, "\n%d. %s (%d)", r.Placement, r.Name, r.Score)
	}
	return b.String()
}
