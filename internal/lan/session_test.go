package lan

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanlink-project/lanlink/internal/geom"
	"github.com/lanlink-project/lanlink/internal/network"
	"github.com/lanlink-project/lanlink/internal/protocol"
)

func testAddr(octet byte) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{192, 168, 0, octet}), protocol.Port)
}

// newTestSession wires a session to the hub. Tests drive it by calling
// Advance directly; the ticker loop never runs.
func newTestSession(hub *network.MemHub, octet byte, callsign string) *Session {
	return NewSession(Options{
		Callsign:    callsign,
		UseChecksum: true,
		Enabled:     true,
		Link:        hub.Join(testAddr(octet)),
	})
}

// peerSnap is a plain live-peer snapshot: full health, no deltas, no
// overlays, session age old enough to skip the catch-up bonus.
func peerSnap(name string) protocol.Snapshot {
	return protocol.Snapshot{
		Pos:         [3]float32{5, 0, 5},
		Weapon:      1,
		Ammo:        60,
		Health:      255,
		Cash:        100,
		Score:       50,
		Name:        name,
		JoinSeconds: 100,
	}
}

func sendSnap(t *testing.T, tx *network.MemLink, snap protocol.Snapshot) {
	t.Helper()
	require.NoError(t, tx.Broadcast(protocol.Encode(&snap, true)))
}

// recvFrom drains tx's inbox and returns the last decoded snapshot.
func recvFrom(t *testing.T, tx *network.MemLink) protocol.Snapshot {
	t.Helper()
	buf := make([]byte, protocol.MaxDatagramSize)
	var last protocol.Snapshot
	var seen bool
	for {
		n, _, ok, err := tx.TryRecv(buf)
		require.NoError(t, err)
		if !ok {
			break
		}
		snap, err := protocol.Decode(buf[:n], true)
		require.NoError(t, err)
		last = snap
		seen = true
	}
	require.True(t, seen, "no datagram waiting")
	return last
}

func TestPeerRegistrationAndTimeout(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	sendSnap(t, tx, peerSnap("Crash"))
	s.Advance(0.01)

	view := s.View()
	require.Len(t, view.Peers, 1)
	require.Equal(t, "Crash", view.Peers[0].Callsign)
	require.InDelta(t, 100.0, view.Peers[0].Health, 0.5)

	// Silent for 2.99s: still in the table.
	s.Advance(2.99)
	require.Len(t, s.View().Peers, 1)

	// Past 3s of silence: gone.
	s.Advance(0.02)
	require.Empty(t, s.View().Peers)
}

func TestOwnBroadcastIsFiltered(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")

	// The first frame crosses the broadcast interval; the hub loops the
	// datagram back, so it waits in the session's own inbox.
	s.Advance(0.19)
	s.Advance(0.01)

	view := s.View()
	require.Empty(t, view.Peers)
	require.GreaterOrEqual(t, view.Counters.DroppedSelf, uint64(1))
}

func TestCorruptAndShortDatagramsAreDropped(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	snap := peerSnap("Crash")
	buf := protocol.Encode(&snap, true)
	buf[3] ^= 0xFF
	require.NoError(t, tx.Broadcast(buf))
	require.NoError(t, tx.Broadcast(buf[:10]))
	s.Advance(0.01)

	view := s.View()
	require.Empty(t, view.Peers)
	require.Equal(t, uint64(1), view.Counters.DroppedChecksum)
	require.Equal(t, uint64(1), view.Counters.DroppedShort)
}

func TestNinthPeerIsDropped(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")

	for octet := byte(20); octet < 28; octet++ {
		tx := hub.Join(testAddr(octet))
		sendSnap(t, tx, peerSnap(""))
		s.Advance(0.001)
	}
	require.Len(t, s.View().Peers, MaxPeers)

	tx := hub.Join(testAddr(40))
	sendSnap(t, tx, peerSnap("Late"))
	s.Advance(0.001)

	view := s.View()
	require.Len(t, view.Peers, MaxPeers)
	require.Equal(t, uint64(1), view.Counters.DroppedTableFull)

	// A freed slot admits the latecomer.
	s.Advance(3.1)
	sendSnap(t, tx, peerSnap("Late"))
	s.Advance(0.001)
	require.Len(t, s.View().Peers, 1)
	require.Equal(t, "Late", s.View().Peers[0].Callsign)
}

func TestEmptyNameGetsOctetCallsign(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(42))

	sendSnap(t, tx, peerSnap(""))
	s.Advance(0.01)

	require.Equal(t, "P-42", s.View().Peers[0].Callsign)
}

func TestShareDeltasApplyPerDatagram(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	require.Equal(t, startingCash, s.View().Self.Cash)

	snap := peerSnap("Crash")
	snap.CashDelta = 25
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	require.Equal(t, 525, s.View().Self.Cash)

	// Deltas carry no dedup id: a duplicated datagram pays out again.
	snap.CashDelta = 20
	snap.ScoreDelta = 3
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	sendSnap(t, tx, snap)
	s.Advance(0.01)

	view := s.View()
	require.Equal(t, 565, view.Self.Cash)
	require.Equal(t, 6, view.Self.Score)
	require.NotNil(t, view.SharePip)
	require.Equal(t, "Crash", view.SharePip.From)
}

func TestShareClampsAtEconomyBounds(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	s.local.cash = protocol.MaxEconomy - 5
	snap := peerSnap("Crash")
	snap.CashDelta = 120
	snap.ScoreDelta = -120
	sendSnap(t, tx, snap)
	s.Advance(0.01)

	view := s.View()
	require.Equal(t, protocol.MaxEconomy, view.Self.Cash)
	require.Equal(t, 0, view.Self.Score)
}

func TestEventOverlayDedupAndCreateSwallow(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	// The first snapshot from a new peer carries an event: recorded,
	// never surfaced, so pre-join history cannot replay.
	snap := peerSnap("Crash")
	snap.EventKind = protocol.EventFrag
	snap.EventID = 9
	snap.EventTarget = "Nova"
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	require.Empty(t, s.View().Feed)

	// Same id again: still swallowed.
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	require.Empty(t, s.View().Feed)
	require.Equal(t, uint64(1), s.View().Counters.DuplicateEvents)

	// A fresh id surfaces exactly once.
	snap.EventID = 10
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	sendSnap(t, tx, snap)
	s.Advance(0.01)

	view := s.View()
	require.Len(t, view.Feed, 1)
	require.Equal(t, "Crash", view.Feed[0].Actor)
	require.Equal(t, "Nova", view.Feed[0].Target)
	require.Equal(t, uint64(2), view.Counters.DuplicateEvents)
}

func TestTeamScoreCreditsFragOverlay(t *testing.T) {
	hub := network.NewMemHub()
	link := hub.Join(testAddr(10))
	s := NewSession(Options{
		Callsign: "Vex", Team: 0, TeamMode: true,
		UseChecksum: true, Enabled: true, Link: link,
	})
	tx := hub.Join(testAddr(21))

	snap := peerSnap("Rival")
	snap.Flags = protocol.FlagTeamMode | protocol.FlagTeamOne
	sendSnap(t, tx, snap)
	s.Advance(0.01)

	kill := snap
	kill.EventKind = protocol.EventFrag
	kill.EventID = 1
	kill.EventTarget = "Vex"
	sendSnap(t, tx, kill)
	s.Advance(0.01)

	view := s.View()
	require.Equal(t, [2]int{0, 1}, view.TeamScores)
	require.Len(t, view.Feed, 1)
	require.Equal(t, uint8(1), view.Feed[0].Team)
}

func TestCatchUpBonusOncePerAppearance(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	snap := peerSnap("Crash")
	snap.JoinSeconds = 2
	sendSnap(t, tx, snap)
	s.Advance(0.01)

	view := s.View()
	require.Equal(t, CatchUpBonus, view.Self.Pending.Cash)
	require.Equal(t, CatchUpBonus, view.Self.Pending.Score)

	// Latched: further fresh-age snapshots grant nothing.
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	require.Equal(t, CatchUpBonus, s.View().Self.Pending.Cash)

	// After a timeout the peer re-registers and qualifies again.
	s.Advance(3.1)
	require.Empty(t, s.View().Peers)
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	require.Equal(t, CatchUpBonus, s.View().Self.Pending.Cash)
	require.Equal(t, uint64(2), s.View().Counters.CatchUpBonuses)
}

func TestNewcomerGetsUnicastCatchUp(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	// Cross one broadcast interval so the session retains a packet.
	s.Advance(0.19)

	sendSnap(t, tx, peerSnap("Crash"))
	s.Advance(0.01)

	// tx sees the broadcast plus a unicast aimed straight at it.
	buf := make([]byte, protocol.MaxDatagramSize)
	var got int
	for {
		n, _, ok, err := tx.TryRecv(buf)
		require.NoError(t, err)
		if !ok {
			break
		}
		snap, err := protocol.Decode(buf[:n], true)
		require.NoError(t, err)
		require.Equal(t, "Vex", snap.Name)
		got++
	}
	require.GreaterOrEqual(t, got, 2)
	require.Equal(t, uint64(1), s.View().Counters.CatchUpsSent)
}

func TestDamageRayHitsAndDedups(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	s.local.pos = geom.Vec3{}
	s.Advance(1.0) // clear the startup damage cooldown

	snap := peerSnap("Crash")
	snap.RayOrigin = [3]float32{0, 0, -5}
	snap.RayDir = [3]float32{0, 0, 1}
	snap.RayDamage = 34
	snap.DamageID = 1
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	require.InDelta(t, 66.0, s.View().Self.Health, 0.01)

	// Duplicate id: no further damage.
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	require.InDelta(t, 66.0, s.View().Self.Health, 0.01)
	require.Equal(t, uint64(1), s.View().Counters.DuplicateDamage)

	// New id inside the cooldown window: id recorded, damage swallowed.
	snap.DamageID = 2
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	require.InDelta(t, 66.0, s.View().Self.Health, 0.01)

	// Past the cooldown a new id lands.
	s.Advance(DamageCooldown)
	snap.DamageID = 3
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	require.InDelta(t, 32.0, s.View().Self.Health, 0.01)
}

func TestDamageRayMissRecordsId(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	s.local.pos = geom.Vec3{}
	s.Advance(1.0)

	snap := peerSnap("Crash")
	snap.RayOrigin = [3]float32{10, 0, -5}
	snap.RayDir = [3]float32{0, 0, 1}
	snap.RayDamage = 34
	snap.DamageID = 7
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	require.InDelta(t, 100.0, s.View().Self.Health, 0.01)

	// The missed ray's id was recorded: replaying it on target changes
	// nothing.
	snap.RayOrigin = [3]float32{0, 0, -5}
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	require.InDelta(t, 100.0, s.View().Self.Health, 0.01)
	require.Equal(t, uint64(1), s.View().Counters.DuplicateDamage)
}

func TestLethalRayDownsAndRespawns(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	s.local.pos = geom.Vec3{}
	s.Advance(1.0)
	s.local.health = 30

	snap := peerSnap("Crash")
	snap.RayOrigin = [3]float32{0, 0, -5}
	snap.RayDir = [3]float32{0, 0, 1}
	snap.RayDamage = 50
	snap.DamageID = 1
	sendSnap(t, tx, snap)
	s.Advance(0.01)

	view := s.View()
	require.True(t, view.Self.Downed)
	require.Equal(t, float32(0), view.Self.Health)

	// Held down until the respawn delay elapses.
	s.Advance(LocalRespawnDelay - 0.1)
	require.True(t, s.View().Self.Downed)

	s.Advance(0.2)
	view = s.View()
	require.False(t, view.Self.Downed)
	require.Equal(t, float32(MaxHealth), view.Self.Health)
}

func TestPeerRespawnPrediction(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	sendSnap(t, tx, peerSnap("Crash"))
	s.Advance(0.01)

	down := peerSnap("Crash")
	down.Health = 0
	down.Flags |= protocol.FlagDowned
	sendSnap(t, tx, down)
	s.Advance(0.01)
	require.True(t, s.View().Peers[0].Downed)

	// Without another snapshot the peer is predicted back up after the
	// respawn delay.
	s.Advance(PeerRespawnDelay + 0.1)
	view := s.View()
	require.False(t, view.Peers[0].Downed)
	require.InDelta(t, 100.0, view.Peers[0].Health, 0.5)
}

func TestBroadcastClearsPendingExactlyOnce(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	s.Enqueue(Command{Type: CommandShare, Share: &ShareCommand{Cash: 30}})
	s.Advance(0.19)

	first := recvFrom(t, tx)
	require.Equal(t, int8(30), first.CashDelta)
	require.Equal(t, 470, s.View().Self.Cash)

	s.Advance(0.19)
	second := recvFrom(t, tx)
	require.Equal(t, int8(0), second.CashDelta)
}

func TestFireArmsRayAndPredictsFrag(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	s.local.pos = geom.Vec3{}

	// A full-health peer straight ahead: hit, not lethal, so the shot
	// pends an assist.
	snap := peerSnap("Crash")
	snap.Pos = [3]float32{0, EyeHeight, 10}
	sendSnap(t, tx, snap)
	s.Advance(0.01)

	ammoBefore := s.View().Self.Ammo
	s.Enqueue(Command{Type: CommandFire, Fire: &FireCommand{Dir: geom.Vec3{Z: 1}}})
	s.Advance(0.001)

	view := s.View()
	require.Equal(t, ammoBefore-1, view.Self.Ammo)
	require.True(t, view.Self.Pending.HasRay)
	require.True(t, view.Self.Pending.HasEvent)
	require.Equal(t, 0, view.Self.Score)

	// Weaken the peer below rifle damage: the next shot predicts a
	// frag and scores.
	weak := snap
	weak.Health = 25
	sendSnap(t, tx, weak)
	s.Advance(0.01)

	s.Enqueue(Command{Type: CommandFire, Fire: &FireCommand{Dir: geom.Vec3{Z: 1}}})
	s.Advance(0.001)

	view = s.View()
	require.Equal(t, FragScore, view.Self.Score)
	require.Len(t, view.Feed, 1)
	require.Equal(t, "Vex", view.Feed[0].Actor)
	require.Equal(t, "Crash", view.Feed[0].Target)

	// The armed ray and event ride the next broadcast, then clear.
	s.Advance(0.19)
	out := recvFrom(t, tx)
	require.Equal(t, uint8(2), out.DamageID)
	require.NotZero(t, out.RayDamage)
	require.Equal(t, protocol.EventFrag, out.EventKind)
	require.Equal(t, uint8(1), out.EventID)
	require.Equal(t, "Crash", out.EventTarget)
	require.False(t, s.View().Self.Pending.HasRay)
	require.False(t, s.View().Self.Pending.HasEvent)
}

func TestFireSkipsFriendliesInTeamMode(t *testing.T) {
	hub := network.NewMemHub()
	link := hub.Join(testAddr(10))
	s := NewSession(Options{
		Callsign: "Vex", Team: 1, TeamMode: true,
		UseChecksum: true, Enabled: true, Link: link,
	})
	tx := hub.Join(testAddr(20))

	s.local.pos = geom.Vec3{}

	snap := peerSnap("Ally")
	snap.Pos = [3]float32{0, EyeHeight, 10}
	snap.Flags = protocol.FlagTeamMode | protocol.FlagTeamOne
	sendSnap(t, tx, snap)
	s.Advance(0.01)
	require.Equal(t, uint8(1), s.View().Peers[0].Team)

	// Ammo is spent but no ray arms against a friendly.
	s.Enqueue(Command{Type: CommandFire, Fire: &FireCommand{Dir: geom.Vec3{Z: 1}}})
	s.Advance(0.001)

	view := s.View()
	require.False(t, view.Self.Pending.HasRay)
	require.Equal(t, startingAmmo-1, view.Self.Ammo)
}

func TestDegradedModeKeepsLocalLoopAlive(t *testing.T) {
	s := NewSession(Options{Callsign: "Solo", Enabled: true, UseChecksum: true})
	require.Equal(t, "degraded", s.View().Status.String())

	s.Enqueue(Command{Type: CommandMove, Move: &MoveCommand{Dir: geom.Vec3{X: 1}}})
	before := s.View().Self.Pos
	s.Advance(1.0)
	after := s.View().Self.Pos
	require.Greater(t, after.X, before.X)
}

func TestDisableStopsTraffic(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	s.Enqueue(Command{Type: CommandSetEnabled, Toggle: &ToggleCommand{On: false}})
	s.Advance(0.19)
	require.Equal(t, "disabled", s.View().Status.String())

	buf := make([]byte, protocol.MaxDatagramSize)
	_, _, ok, err := tx.TryRecv(buf)
	require.NoError(t, err)
	require.False(t, ok)

	// Re-enabling resumes broadcasting.
	s.Enqueue(Command{Type: CommandSetEnabled, Toggle: &ToggleCommand{On: true}})
	s.Advance(0.01)
	s.Advance(0.19)
	_, _, ok, err = tx.TryRecv(buf)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDisabledStretchDoesNotExpirePeers(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	sendSnap(t, tx, peerSnap("Crash"))
	s.Advance(0.01)
	require.Len(t, s.View().Peers, 1)

	s.Enqueue(Command{Type: CommandSetEnabled, Toggle: &ToggleCommand{On: false}})
	s.Advance(0.01)
	s.Advance(10.0)
	require.Len(t, s.View().Peers, 1)

	// Re-enabling restarts every slot's timeout window instead of
	// expiring the whole frozen table at once.
	s.Enqueue(Command{Type: CommandSetEnabled, Toggle: &ToggleCommand{On: true}})
	s.Advance(0.01)
	s.Advance(2.0)
	require.Len(t, s.View().Peers, 1)
	s.Advance(1.2)
	require.Empty(t, s.View().Peers)
}

func TestChecksumTogglePropagates(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	s.Enqueue(Command{Type: CommandSetChecksum, Toggle: &ToggleCommand{On: false}})
	s.Advance(0.19)

	buf := make([]byte, protocol.MaxDatagramSize)
	n, _, ok, err := tx.TryRecv(buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, protocol.PacketSize, n)
	require.Equal(t, []byte{0, 0}, buf[protocol.PayloadSize:n])
}

func TestRenderPositionLerpsTowardTarget(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	snap := peerSnap("Crash")
	snap.Pos = [3]float32{0, 0, 0}
	sendSnap(t, tx, snap)
	s.Advance(0.01)

	moved := snap
	moved.Pos = [3]float32{10, 0, 0}
	sendSnap(t, tx, moved)
	s.Advance(0.05)

	view := s.View()
	p := view.Peers[0]
	require.InDelta(t, 10.0, p.Pos.X, 0.01)
	require.Greater(t, p.RenderPos.X, float32(0))
	require.Less(t, p.RenderPos.X, float32(10))

	// Convergence after enough frames.
	for i := 0; i < 120; i++ {
		s.Advance(0.016)
	}
	require.InDelta(t, 10.0, s.View().Peers[0].RenderPos.X, 0.1)
}

func TestCommandQueueOverflowDropsAndCounts(t *testing.T) {
	s := NewSession(Options{Callsign: "Vex", Enabled: true})

	for i := 0; i < commandQueueDepth; i++ {
		require.True(t, s.Enqueue(Command{Type: CommandMove, Move: &MoveCommand{}}))
	}
	require.False(t, s.Enqueue(Command{Type: CommandMove, Move: &MoveCommand{}}))

	s.Advance(0.01)
	require.Equal(t, uint64(1), s.View().Counters.CommandsDropped)
}

func TestStallSurfacesOnResumingPacket(t *testing.T) {
	hub := network.NewMemHub()
	s := newTestSession(hub, 10, "Vex")
	tx := hub.Join(testAddr(20))

	sendSnap(t, tx, peerSnap("Crash"))
	s.Advance(0.01)

	// Quiet for several broadcast intervals, then resume inside the
	// timeout window.
	s.Advance(1.0)
	sendSnap(t, tx, peerSnap("Crash"))
	s.Advance(0.01)

	rec := s.peers.find(testAddr(20))
	require.NotNil(t, rec)
	require.Greater(t, rec.lastGap, float64(stallFactor*protocol.BroadcastInterval))
	require.Len(t, s.View().Peers, 1)
}
