package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/events"
)

type webhookEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type webhookBody struct {
	Embeds []webhookEmbed `json:"embeds"`
}

// capture collects every embed posted to the fake webhook endpoint.
type capture struct {
	mu     sync.Mutex
	bodies []webhookBody
	status int
}

func (c *capture) handler(w http.ResponseWriter, r *http.Request) {
	var body webhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
	}
	status := c.status
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (c *capture) embeds() []webhookEmbed {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []webhookEmbed
	for _, b := range c.bodies {
		out = append(out, b.Embeds...)
	}
	return out
}

func newTestConnector(t *testing.T) (*WebhookConnector, *config.Config, *events.EventBus, *capture) {
	t.Helper()

	rec := &capture{}
	server := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(server.Close)

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	app := cfg.GetApplicationData()
	app.Webhook.URL = server.URL
	cfg.SetApplicationData(app)

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	return NewWebhookConnector(cfg, bus), cfg, bus, rec
}

func TestSendPostsEmbed(t *testing.T) {
	wc, _, _, rec := newTestConnector(t)

	err := wc.Send(context.Background(), "Disk Space Alert", "Disk usage at 91.0%", "warning")
	require.NoError(t, err)

	embeds := rec.embeds()
	require.Len(t, embeds, 1)
	require.Equal(t, "Disk Space Alert", embeds[0].Title)
	require.Equal(t, "Disk usage at 91.0%", embeds[0].Description)
	require.Equal(t, 0xFFAA00, embeds[0].Color)
}

func TestSendWithoutURLIsQuiet(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	wc := NewWebhookConnector(cfg, bus)
	require.NoError(t, wc.Send(context.Background(), "title", "message", "info"))
}

func TestSendReportsErrorStatus(t *testing.T) {
	wc, _, _, rec := newTestConnector(t)
	rec.status = http.StatusInternalServerError

	err := wc.Send(context.Background(), "title", "message", "error")
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestNotifyEventForwarded(t *testing.T) {
	_, _, bus, rec := newTestConnector(t)

	err := bus.EmitSync(context.Background(), events.Event{
		Type:   events.EventNotifyWebhook,
		Source: "health_check",
		Payload: events.NotifyWebhookPayload{
			Title:   "Peer Link Alert",
			Message: "frequent stalls from Crash",
			Level:   "error",
		},
	})
	require.NoError(t, err)

	embeds := rec.embeds()
	require.Len(t, embeds, 1)
	require.Equal(t, "Peer Link Alert", embeds[0].Title)
	require.Equal(t, 0xFF0000, embeds[0].Color)
}

func TestPeerNotificationsGated(t *testing.T) {
	_, cfg, bus, rec := newTestConnector(t)

	joined := events.Event{
		Type:    events.EventPeerJoined,
		Source:  "session",
		Payload: events.PeerPayload{Addr: "192.168.0.20:27015", Callsign: "Crash", Team: 1},
	}

	// Disabled by default: nothing goes out.
	require.NoError(t, bus.EmitSync(context.Background(), joined))
	require.Empty(t, rec.embeds())

	app := cfg.GetApplicationData()
	app.Webhook.NotifyOnPeers = true
	cfg.SetApplicationData(app)

	require.NoError(t, bus.EmitSync(context.Background(), joined))
	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventPeerLost,
		Source:  "session",
		Payload: events.PeerPayload{Addr: "192.168.0.20:27015", Callsign: "Crash", Team: 1},
	}))

	embeds := rec.embeds()
	require.Len(t, embeds, 2)
	require.Equal(t, "Peer Joined", embeds[0].Title)
	require.Contains(t, embeds[0].Description, "Crash (192.168.0.20:27015) entered the arena")
	require.Equal(t, "Peer Lost", embeds[1].Title)
	require.Contains(t, embeds[1].Description, "dropped from the arena")
}

func TestKillfeedLines(t *testing.T) {
	_, cfg, bus, rec := newTestConnector(t)

	app := cfg.GetApplicationData()
	app.Webhook.NotifyOnFeed = true
	cfg.SetApplicationData(app)

	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventFeed,
		Source:  "session",
		Payload: events.FeedPayload{Kind: events.FeedKindFrag, Actor: "Vex", Target: "Crash", Team: 0},
	}))
	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventFeed,
		Source:  "session",
		Payload: events.FeedPayload{Kind: events.FeedKindAssist, Actor: "Nyx", Target: "Crash", Team: 0},
	}))

	embeds := rec.embeds()
	require.Len(t, embeds, 2)
	require.Equal(t, "Killfeed", embeds[0].Title)
	require.Equal(t, "Vex fragged Crash", embeds[0].Description)
	require.Equal(t, "Nyx assisted on Crash", embeds[1].Description)
}

func TestPeerWithoutCallsignUsesAddr(t *testing.T) {
	require.Equal(t, "10.0.0.5:27015", describePeer(events.PeerPayload{Addr: "10.0.0.5:27015"}))
	require.Equal(t, "Vex (10.0.0.5:27015)", describePeer(events.PeerPayload{Addr: "10.0.0.5:27015", Callsign: "Vex"}))
}
