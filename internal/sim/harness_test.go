package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/events"
	"github.com/lanlink-project/lanlink/internal/geom"
	"github.com/lanlink-project/lanlink/internal/lan"
)

func idlePilot() config.Pilot {
	return config.Pilot{Mode: ModeIdle}
}

// fireAt aims a scripted shot from the shooter's eye at the target's
// ground position, the way rays are resolved on the victim side.
func fireAt(t *testing.T, shooter *Node, target geom.Vec3) {
	t.Helper()
	view := shooter.Session.View()
	eye := view.Self.Pos.Add(geom.Vec3{Y: lan.EyeHeight})
	ok := shooter.Session.Enqueue(lan.Command{
		Type: lan.CommandFire,
		Fire: &lan.FireCommand{Dir: target.Sub(eye)},
	})
	require.True(t, ok)
}

func TestTwoNodesConvergeAndExchangeCatchUp(t *testing.T) {
	h := NewHarness(60, 1)
	defer h.Close()

	a := h.AddNode("Vex", 0, false, idlePilot())
	b := h.AddNode("Crash", 0, false, idlePilot())

	h.RunFor(1.0)

	va, vb := a.Session.View(), b.Session.View()

	require.Len(t, va.Peers, 1)
	require.Equal(t, "Crash", va.Peers[0].Callsign)
	require.Len(t, vb.Peers, 1)
	require.Equal(t, "Vex", vb.Peers[0].Callsign)

	// Teams fall out of the address octets in free-for-all mode.
	require.Equal(t, uint8(0), va.Self.Team)
	require.Equal(t, uint8(1), vb.Self.Team)
	require.Equal(t, uint8(1), va.Peers[0].Team)

	// Each side granted the other the one-time catch-up bonus.
	require.Equal(t, 520, va.Self.Cash)
	require.Equal(t, 20, va.Self.Score)
	require.Equal(t, 520, vb.Self.Cash)
	require.Equal(t, 20, vb.Self.Score)
	require.Equal(t, uint64(1), va.Counters.CatchUpBonuses)
	require.Equal(t, uint64(1), vb.Counters.CatchUpBonuses)

	// The bonus surfaces as an incoming share pip.
	require.NotNil(t, va.SharePip)
	require.Equal(t, "Crash", va.SharePip.From)

	// Broadcasts flowed both ways, and each node dropped its own
	// loopbacks.
	require.GreaterOrEqual(t, va.Counters.PacketsSent, uint64(4))
	require.GreaterOrEqual(t, va.Counters.PacketsReceived, uint64(8))
	require.GreaterOrEqual(t, va.Counters.DroppedSelf, uint64(4))
	require.Zero(t, va.Counters.DroppedChecksum)
	require.Zero(t, vb.Counters.DroppedChecksum)
}

func TestScriptedCombatAndShareExchange(t *testing.T) {
	h := NewHarness(60, 1)
	defer h.Close()

	a := h.AddNode("Vex", 0, false, idlePilot())
	b := h.AddNode("Crash", 0, false, idlePilot())

	h.RunFor(1.0)
	targetPos := a.Session.View().Peers[0].Pos

	// First hit: weapon 1 deals 34, leaving the victim at 66. The
	// shooter predicts a non-lethal hit and pends an assist notice.
	fireAt(t, a, targetPos)
	h.RunFor(1.0)

	vb := b.Session.View()
	require.InDelta(t, 66.0, vb.Self.Health, 0.001)
	require.False(t, vb.Self.Downed)
	require.NotEmpty(t, vb.Feed)
	require.Equal(t, events.FeedKindAssist, vb.Feed[0].Kind)
	require.Equal(t, "Vex", vb.Feed[0].Actor)
	require.Equal(t, "Crash", vb.Feed[0].Target)

	// The victim's wire health comes back quantized to the 0..255 byte.
	require.InDelta(t, 66.0, a.Session.View().Peers[0].Health, 0.5)

	// Two more spaced hits down the victim; the third is predicted
	// lethal and scores the frag.
	fireAt(t, a, targetPos)
	h.RunFor(1.0)
	require.InDelta(t, 32.0, b.Session.View().Self.Health, 0.001)

	fireAt(t, a, targetPos)
	h.RunFor(1.0)

	va, vb := a.Session.View(), b.Session.View()
	require.True(t, vb.Self.Downed)
	require.Equal(t, 20+lan.FragScore, va.Self.Score)
	require.Equal(t, events.FeedKindFrag, vb.Feed[len(vb.Feed)-1].Kind)
	require.Equal(t, 117, va.Self.Ammo)

	// The victim respawns on its own timer and comes back at full
	// health, which the shooter's mirror picks up from the wire.
	h.RunFor(3.0)
	vb = b.Session.View()
	require.False(t, vb.Self.Downed)
	require.InDelta(t, float64(lan.MaxHealth), vb.Self.Health, 0.001)
	require.InDelta(t, float64(lan.MaxHealth), a.Session.View().Peers[0].Health, 0.5)

	// A scripted share rides the next snapshot's deltas.
	require.True(t, a.Session.Enqueue(lan.Command{
		Type:  lan.CommandShare,
		Share: &lan.ShareCommand{Cash: 50},
	}))
	h.RunFor(0.5)

	va, vb = a.Session.View(), b.Session.View()
	require.Equal(t, 470, va.Self.Cash)
	require.Equal(t, 570, vb.Self.Cash)
	require.NotNil(t, vb.SharePip)
	require.Equal(t, "Vex", vb.SharePip.From)
	require.Zero(t, vb.Counters.DuplicateDamage)
}

func TestBotsExchangeSharesOnSchedule(t *testing.T) {
	h := NewHarness(60, 7)
	defer h.Close()

	b1 := h.AddBot("Jinx")
	b2 := h.AddBot("Reaper")

	h.RunFor(10.0)

	// Three shares out, three in, one catch-up bonus each: the cash
	// books balance regardless of how the shooting went.
	v1, v2 := b1.Session.View(), b2.Session.View()
	require.Equal(t, 520, v1.Self.Cash)
	require.Equal(t, 520, v2.Self.Cash)
	require.GreaterOrEqual(t, v1.Self.Score, 20)
	require.GreaterOrEqual(t, v2.Self.Score, 20)

	require.Len(t, v1.Peers, 1)
	require.Equal(t, "Reaper", v1.Peers[0].Callsign)
	require.Greater(t, v1.Counters.PacketsReceived, uint64(20))

	// Orbiting pilots spend ammo on the fire cadence.
	require.Less(t, v1.Self.Ammo, 120)
	require.Less(t, v2.Self.Ammo, 120)
}

func TestLiveRehearsalRuns(t *testing.T) {
	h := NewHarness(60, 3)
	h.AddBot("Jinx")
	h.AddBot("Reaper")

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	time.Sleep(500 * time.Millisecond)
	cancel()
	// Give the frame loops a beat to observe the cancel.
	time.Sleep(50 * time.Millisecond)
	h.Close()

	for _, n := range h.Nodes() {
		view := n.Session.View()
		require.Greater(t, view.Counters.PacketsSent, uint64(0))
		require.Len(t, view.Peers, 1)
	}
}

func TestJoinLinkGivesDistinctAddresses(t *testing.T) {
	h := NewHarness(60, 1)
	defer h.Close()

	link := h.JoinLink()
	n := h.AddNode("Vex", 0, false, idlePilot())
	require.NotEqual(t, link.LocalAddr(), n.Addr)
}
