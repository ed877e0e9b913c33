package lan

import (
	"errors"
	"net/netip"

	"github.com/lanlink-project/lanlink/internal/events"
	"github.com/lanlink-project/lanlink/internal/geom"
	"github.com/lanlink-project/lanlink/internal/protocol"
)

// stallFactor times the broadcast interval is the inter-arrival gap
// beyond which a peer's silence is reported as a stall.
const stallFactor = 3

// receive drains every waiting datagram. TryRecv never blocks, so the
// loop costs one syscall past the last queued packet.
func (s *Session) receive() {
	for {
		n, from, ok, err := s.link.TryRecv(s.recvBuf[:])
		if err != nil {
			s.log.Warn().Err(err).Msg("link receive error")
			return
		}
		if !ok {
			return
		}
		s.handleDatagram(s.recvBuf[:n], from)
	}
}

func (s *Session) handleDatagram(buf []byte, from netip.AddrPort) {
	snap, err := protocol.Decode(buf, s.useChecksum)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrShortPacket):
			s.counters.DroppedShort++
		case errors.Is(err, protocol.ErrChecksumMismatch):
			s.counters.DroppedChecksum++
		}
		return
	}

	s.counters.PacketsReceived++
	s.counters.BytesReceived += uint64(len(buf))

	// Broadcast loops back to the sender's own port; the node must not
	// become its own peer.
	if from == s.selfAddr {
		s.counters.DroppedSelf++
		return
	}

	if rec := s.peers.find(from); rec != nil {
		s.updatePeer(rec, &snap)
		return
	}
	s.registerPeer(from, &snap)
}

// registerPeer admits a previously unseen sender. With the table full
// the registration is dropped silently; the sender keeps broadcasting
// and takes the next free slot.
func (s *Session) registerPeer(from netip.AddrPort, snap *protocol.Snapshot) {
	rec := s.peers.create(from, s.clock)
	if rec == nil {
		s.counters.DroppedTableFull++
		return
	}

	s.mirror(rec, snap)
	rec.renderPos = rec.pos

	// The snapshot may replay an event that predates this node's join.
	// Record the cursor without surfacing anything.
	rec.lastEventID = snap.EventID

	if rec.callsign == "" {
		rec.callsign = defaultCallsign(from)
	}

	s.applyShares(rec, snap)
	s.applyDamageRay(rec, snap)
	s.maybeCatchUp(rec, snap)

	// Unicast our latest snapshot so the newcomer sees this node
	// without waiting out a broadcast interval. This is also what makes
	// statically configured peers beyond the broadcast domain converge.
	if s.lastPacket != nil {
		if err := s.link.SendTo(from, s.lastPacket); err == nil {
			s.counters.CatchUpsSent++
		}
	}

	s.log.Info().
		Str("peer", rec.callsign).
		Str("addr", from.String()).
		Uint8("team", rec.team).
		Msg("peer joined")
	s.queue(events.EventPeerJoined, events.PeerPayload{
		Addr: from.String(), Callsign: rec.callsign, Team: rec.team,
	})
}

func (s *Session) updatePeer(rec *peerRecord, snap *protocol.Snapshot) {
	// lastSeen resets on every datagram, so a stall surfaces exactly
	// once, on the packet that ends it.
	gap := s.clock - rec.lastSeen
	if gap > stallFactor*protocol.BroadcastInterval {
		rec.lastGap = gap
		s.queue(events.EventPeerStall, events.StallPayload{
			Addr: rec.addr.String(), Callsign: rec.callsign, Gap: gap,
		})
	}
	rec.lastSeen = s.clock

	wasDowned := rec.downed
	s.mirror(rec, snap)

	if rec.downed && !wasDowned {
		rec.respawnIn = PeerRespawnDelay
	}

	s.applyShares(rec, snap)
	s.applyDamageRay(rec, snap)
	s.applyEventOverlay(rec, snap)
	s.maybeCatchUp(rec, snap)
}

// mirror copies the plainly replicated fields of a snapshot into the
// record. Render interpolation, dedup cursors, and timers are handled
// by the callers.
func (s *Session) mirror(rec *peerRecord, snap *protocol.Snapshot) {
	rec.pos = geom.FromArray(snap.Pos)
	rec.weapon = snap.Weapon
	rec.ammo = int(snap.Ammo)
	rec.health = healthFromWire(snap.Health)
	rec.cash = int(snap.Cash)
	rec.score = int(snap.Score)
	rec.flags = snap.Flags
	rec.downed = snap.Flags&protocol.FlagDowned != 0
	rec.teamMode = snap.Flags&protocol.FlagTeamMode != 0
	rec.team = teamFor(rec.addr, snap.Flags, rec.teamMode)
	rec.joinSeconds = snap.JoinSeconds
	if snap.Name != "" {
		rec.callsign = snap.Name
	}
}

// applyShares credits the sender's cash/score deltas to the local
// avatar. Deltas carry no dedup id: a duplicated datagram pays out
// twice. The truncated window is the wire contract's price for keeping
// the packet a single fixed layout.
func (s *Session) applyShares(rec *peerRecord, snap *protocol.Snapshot) {
	if snap.CashDelta == 0 && snap.ScoreDelta == 0 {
		return
	}

	cash := int(snap.CashDelta)
	score := int(snap.ScoreDelta)
	s.local.cash = clampInt(s.local.cash+cash, 0, protocol.MaxEconomy)
	s.local.score = clampInt(s.local.score+score, 0, protocol.MaxEconomy)

	s.sharePip = &SharePipView{
		Cash:  cash,
		Score: score,
		From:  rec.callsign,
		Until: s.clock + SharePipDuration,
	}

	s.queue(events.EventShareReceived, events.SharePayload{
		Peer: rec.callsign, Cash: cash, Score: score,
	})
}

// applyDamageRay resolves a replicated hitscan against the local
// avatar. The id is recorded even when the ray misses or the cooldown
// swallows it, so a repeated datagram can never land the same hit
// twice.
func (s *Session) applyDamageRay(rec *peerRecord, snap *protocol.Snapshot) {
	if snap.RayDamage == 0 {
		return
	}
	if snap.DamageID == rec.lastDamageID {
		s.counters.DuplicateDamage++
		return
	}
	rec.lastDamageID = snap.DamageID

	if s.local.downed {
		return
	}
	if s.clock-s.local.lastDamageAt < DamageCooldown {
		return
	}

	dir := geom.FromArray(snap.RayDir).Normalize()
	if dir == (geom.Vec3{}) {
		return
	}
	origin := geom.FromArray(snap.RayOrigin)
	if _, hit := geom.HitscanSphere(origin, dir, s.local.pos, HitscanRadius); !hit {
		return
	}

	damage := int(snap.RayDamage)
	s.local.health -= float32(damage)
	s.local.lastDamageAt = s.clock

	if s.local.health <= 0 {
		s.local.health = 0
		s.local.downed = true
		s.local.respawnIn = LocalRespawnDelay
		s.log.Info().Str("attacker", rec.callsign).Msg("you were fragged")
		s.queue(events.EventLocalDowned, events.DamagePayload{
			Attacker: rec.callsign, Damage: damage, Health: 0,
		})
		return
	}

	s.queue(events.EventDamageTaken, events.DamagePayload{
		Attacker: rec.callsign,
		Damage:   damage,
		Health:   int(s.local.health),
	})
}

// applyEventOverlay surfaces a frag/assist notice exactly once per
// event id. The feed credits the team from the peer record, not the
// wire, so a forged team byte cannot misattribute a team point.
func (s *Session) applyEventOverlay(rec *peerRecord, snap *protocol.Snapshot) {
	if snap.EventKind == protocol.EventNone {
		return
	}
	if snap.EventID == rec.lastEventID {
		s.counters.DuplicateEvents++
		return
	}
	rec.lastEventID = snap.EventID

	var kind events.FeedKind
	switch snap.EventKind {
	case protocol.EventFrag:
		kind = events.FeedKindFrag
	case protocol.EventAssist:
		kind = events.FeedKindAssist
	default:
		return
	}

	if kind == events.FeedKindFrag && rec.teamMode {
		s.teamScores[rec.team]++
	}

	s.pushFeed(FeedEntry{
		Clock:  s.clock,
		Kind:   kind,
		Actor:  rec.callsign,
		Target: snap.EventTarget,
		Team:   rec.team,
	})
	s.queue(events.EventFeed, events.FeedPayload{
		Kind: kind, Actor: rec.callsign, Target: snap.EventTarget, Team: rec.team,
	})
}

// maybeCatchUp grants the one-time share bonus to a peer whose reported
// session age marks it as a fresh joiner. The latch lives on the slot,
// so a peer that times out and returns qualifies again.
func (s *Session) maybeCatchUp(rec *peerRecord, snap *protocol.Snapshot) {
	if rec.catchupSent {
		return
	}
	if float64(snap.JoinSeconds) >= CatchUpWindow {
		return
	}
	rec.catchupSent = true

	s.local.pendingCash += CatchUpBonus
	s.local.pendingScore += CatchUpBonus
	s.counters.CatchUpBonuses++

	s.log.Debug().
		Str("peer", rec.callsign).
		Uint16("joinSeconds", snap.JoinSeconds).
		Msg("queueing catch-up bonus for fresh joiner")
	s.queue(events.EventCatchUpSent, events.SharePayload{
		Peer: rec.callsign, Cash: CatchUpBonus, Score: CatchUpBonus, CatchUp: true,
	})
}
