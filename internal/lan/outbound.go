package lan

import "github.com/lanlink-project/lanlink/internal/protocol"

// buildSnapshot assembles the wire view of the local avatar. Pending
// shares, the armed ray, and the pending event ride along; the caller
// clears them once the datagram is out.
func (s *Session) buildSnapshot() protocol.Snapshot {
	snap := protocol.Snapshot{
		Pos:         s.local.pos.Array(),
		Weapon:      s.local.weapon,
		Ammo:        protocol.ClampEconomy(s.local.ammo),
		Health:      wireHealth(s.local.health),
		CashDelta:   protocol.ClampDelta(s.local.pendingCash),
		ScoreDelta:  protocol.ClampDelta(s.local.pendingScore),
		Cash:        protocol.ClampEconomy(s.local.cash),
		Score:       protocol.ClampEconomy(s.local.score),
		Flags:       s.local.flags(),
		Name:        s.local.callsign,
		JoinSeconds: protocol.ClampJoinSeconds(int(s.clock)),
	}

	if r := s.local.ray; r != nil {
		snap.RayOrigin = r.origin.Array()
		snap.RayDir = r.dir.Array()
		snap.RayDamage = r.damage
		snap.DamageID = r.id
	}

	if e := s.local.event; e != nil {
		snap.EventKind = e.kind
		snap.EventTeam = s.local.team
		snap.EventID = s.eventCounter
		snap.EventTarget = e.target
	}

	return snap
}

// broadcastSnapshot sends the avatar's state to the arena and clears
// everything that must transmit exactly once. The encoded packet is
// retained for unicast catch-up replies to newcomers.
func (s *Session) broadcastSnapshot() {
	snap := s.buildSnapshot()
	buf := protocol.Encode(&snap, s.useChecksum)

	if err := s.link.Broadcast(buf); err != nil {
		s.counters.SendErrors++
		s.log.Warn().Err(err).Msg("broadcast failed")
	}
	s.counters.PacketsSent++
	s.counters.BytesSent += uint64(len(buf))
	s.lastPacket = buf

	if s.local.event != nil {
		s.eventCounter++
	}
	s.local.pendingCash = 0
	s.local.pendingScore = 0
	s.local.ray = nil
	s.local.event = nil
}
