package lan

import (
	"fmt"
	"net/netip"

	"github.com/lanlink-project/lanlink/internal/geom"
	"github.com/lanlink-project/lanlink/internal/network"
	"github.com/lanlink-project/lanlink/internal/protocol"
)

// peerRecord is one occupied slot of the fixed peer table. Everything
// in it mirrors the peer's last snapshot, plus the bookkeeping this
// node layers on top (interpolation, dedup cursors, timers).
type peerRecord struct {
	active bool

	addr     netip.AddrPort
	callsign string
	team     uint8
	teamMode bool

	pos       geom.Vec3
	renderPos geom.Vec3
	weapon    uint8
	ammo      int
	health    float32
	cash      int
	score     int
	downed    bool
	flags     uint8

	joinSeconds uint16

	firstSeen float64
	lastSeen  float64
	// lastGap is the most recent stall gap reported for this peer.
	lastGap float64

	lastDamageID uint8
	lastEventID  uint8

	// catchupSent latches after the one-time share bonus so a peer
	// qualifies at most once per appearance in the table.
	catchupSent bool

	// respawnIn predicts a downed peer's return between snapshots.
	respawnIn float64
}

// peerTable is the fixed-capacity registry of live peers.
type peerTable struct {
	slots [MaxPeers]peerRecord
}

// find returns the record for addr, or nil.
func (t *peerTable) find(addr netip.AddrPort) *peerRecord {
	for i := range t.slots {
		if t.slots[i].active && t.slots[i].addr == addr {
			return &t.slots[i]
		}
	}
	return nil
}

// create claims a free slot for addr. It returns nil when the table is
// full; the caller drops the registration silently.
func (t *peerTable) create(addr netip.AddrPort, now float64) *peerRecord {
	for i := range t.slots {
		if t.slots[i].active {
			continue
		}
		t.slots[i] = peerRecord{
			active:    true,
			addr:      addr,
			firstSeen: now,
			lastSeen:  now,
		}
		return &t.slots[i]
	}
	return nil
}

// remove frees the slot for addr.
func (t *peerTable) remove(addr netip.AddrPort) {
	for i := range t.slots {
		if t.slots[i].active && t.slots[i].addr == addr {
			t.slots[i] = peerRecord{}
			return
		}
	}
}

// count returns the number of occupied slots.
func (t *peerTable) count() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].active {
			n++
		}
	}
	return n
}

// each invokes fn for every occupied slot.
func (t *peerTable) each(fn func(*peerRecord)) {
	for i := range t.slots {
		if t.slots[i].active {
			fn(&t.slots[i])
		}
	}
}

// expired collects the slots silent for longer than PeerTimeout.
func (t *peerTable) expired(now float64) []*peerRecord {
	var out []*peerRecord
	for i := range t.slots {
		if t.slots[i].active && now-t.slots[i].lastSeen > PeerTimeout {
			out = append(out, &t.slots[i])
		}
	}
	return out
}

// defaultCallsign names a peer that joined without one.
func defaultCallsign(addr netip.AddrPort) string {
	return fmt.Sprintf("P-%02d", network.LastOctet(addr.Addr()))
}

// teamFor derives a peer's team: the flag bit when the peer plays the
// team variant, otherwise a stable free-for-all color from its address.
func teamFor(addr netip.AddrPort, flags uint8, teamMode bool) uint8 {
	if teamMode {
		if flags&protocol.FlagTeamOne != 0 {
			return 1
		}
		return 0
	}
	return network.LastOctet(addr.Addr()) % 2
}
