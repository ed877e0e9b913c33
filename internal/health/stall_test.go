package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanlink-project/lanlink/internal/events"
)

func reportStalls(t *testing.T, bus *events.EventBus, addr, callsign string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := bus.EmitSync(context.Background(), events.Event{
			Type:   events.EventPeerStall,
			Source: "session",
			Payload: events.StallPayload{
				Addr:     addr,
				Callsign: callsign,
				Gap:      0.7 + float64(i)*0.1,
			},
		})
		require.NoError(t, err)
	}
}

func TestStallMonitorAggregatesPerPeer(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	sm := NewStallMonitor(bus)

	reportStalls(t, bus, "192.168.0.20:27015", "Crash", 3)
	reportStalls(t, bus, "192.168.0.21:27015", "Nova", 1)

	data := sm.Data()
	require.Len(t, data, 2)

	d := data["192.168.0.20:27015"]
	require.Equal(t, "Crash", d.Callsign)
	require.Equal(t, 3, d.TotalStalls)
	require.Equal(t, 3, d.StallsThisHour)
	require.InDelta(t, 0.9, d.MaxGap, 0.001)
	require.InDelta(t, 0.8, d.AvgGap, 0.001)
	require.Len(t, d.History, 3)
}

func TestStallMonitorThresholds(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	sm := NewStallMonitor(bus)

	require.Empty(t, sm.CheckThresholds())

	reportStalls(t, bus, "192.168.0.20:27015", "Crash", stallWarningThreshold)
	alerts := sm.CheckThresholds()
	require.Len(t, alerts, 1)
	require.Equal(t, "warning", alerts[0].Level)

	reportStalls(t, bus, "192.168.0.20:27015", "Crash", stallCriticalThreshold-stallWarningThreshold)
	alerts = sm.CheckThresholds()
	require.Len(t, alerts, 1)
	require.Equal(t, "critical", alerts[0].Level)
	require.Equal(t, stallCriticalThreshold, alerts[0].Stalls)
}

func TestStallMonitorForgetsDepartedPeer(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	sm := NewStallMonitor(bus)

	reportStalls(t, bus, "192.168.0.20:27015", "Crash", 2)
	require.Len(t, sm.Data(), 1)

	err := bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventPeerLost,
		Source:  "session",
		Payload: events.PeerPayload{Addr: "192.168.0.20:27015", Callsign: "Crash"},
	})
	require.NoError(t, err)
	require.Empty(t, sm.Data())
}
