// Package connector handles outbound notifications from the node:
// Discord-compatible webhook embeds for alerts, peer lifecycle and
// killfeed lines.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/events"
)

// WebhookConnector posts embed notifications to the configured webhook
// URL. All sends run off the bus handler goroutines, never on the sim
// loop.
type WebhookConnector struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   *http.Client
}

// NewWebhookConnector creates a webhook connector and subscribes it to
// the notification events.
func NewWebhookConnector(cfg *config.Config, eventBus *events.EventBus) *WebhookConnector {
	wc := &WebhookConnector{
		cfg:      cfg,
		eventBus: eventBus,
		client:   &http.Client{Timeout: 10 * time.Second},
	}

	eventBus.Subscribe(events.EventNotifyWebhook, "webhook.notify", wc.onNotify)
	eventBus.Subscribe(events.EventPeerJoined, "webhook.peerJoined", wc.onPeerJoined)
	eventBus.Subscribe(events.EventPeerLost, "webhook.peerLost", wc.onPeerLost)
	eventBus.Subscribe(events.EventFeed, "webhook.feed", wc.onFeed)

	return wc
}

// Send posts one embed to the webhook URL. A missing URL is not an
// error; the connector just stays quiet.
func (wc *WebhookConnector) Send(ctx context.Context, title, message, level string) error {
	webhookURL := wc.cfg.GetApplicationData().Webhook.URL
	if webhookURL == "" {
		return nil
	}

	// Color based on level
	var color int
	switch level {
	case "error", "critical":
		color = 0xFF0000 // Red
	case "warning":
		color = 0xFFAA00 // Orange
	default:
		color = 0x00FF00 // Green
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": message,
				"color":       color,
				"timestamp":   time.Now().Format(time.RFC3339),
				"footer": map[string]string{
					"text": "lanlink node",
				},
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := wc.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	log.Debug().Str("title", title).Msg("webhook notification sent")
	return nil
}

// onNotify handles explicit notification requests. The emitters gate
// these on their own config flags, so everything arriving here goes out.
func (wc *WebhookConnector) onNotify(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.NotifyWebhookPayload)
	if !ok {
		return nil
	}
	return wc.Send(ctx, payload.Title, payload.Message, payload.Level)
}

func (wc *WebhookConnector) onPeerJoined(ctx context.Context, event events.Event) error {
	if !wc.cfg.GetApplicationData().Webhook.NotifyOnPeers {
		return nil
	}
	payload, ok := event.Payload.(events.PeerPayload)
	if !ok {
		return nil
	}
	return wc.Send(ctx, "Peer Joined", fmt.Sprintf("%s entered the arena", describePeer(payload)), "info")
}

func (wc *WebhookConnector) onPeerLost(ctx context.Context, event events.Event) error {
	if !wc.cfg.GetApplicationData().Webhook.NotifyOnPeers {
		return nil
	}
	payload, ok := event.Payload.(events.PeerPayload)
	if !ok {
		return nil
	}
	return wc.Send(ctx, "Peer Lost", fmt.Sprintf("%s dropped from the arena", describePeer(payload)), "warning")
}

func (wc *WebhookConnector) onFeed(ctx context.Context, event events.Event) error {
	if !wc.cfg.GetApplicationData().Webhook.NotifyOnFeed {
		return nil
	}
	payload, ok := event.Payload.(events.FeedPayload)
	if !ok {
		return nil
	}

	var line string
	switch payload.Kind {
	case events.FeedKindFrag:
		line = fmt.Sprintf("%s fragged %s", payload.Actor, payload.Target)
	case events.FeedKindAssist:
		line = fmt.Sprintf("%s assisted on %s", payload.Actor, payload.Target)
	default:
		return nil
	}
	return wc.Send(ctx, "Killfeed", line, "info")
}

// describePeer renders a peer for notification text. Joins can arrive
// before the first snapshot carries a callsign.
func describePeer(p events.PeerPayload) string {
	if p.Callsign == "" {
		return p.Addr
	}
	return fmt.Sprintf("%s (%s)", p.Callsign, p.Addr)
}
