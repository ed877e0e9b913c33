// Package protocol implements the fixed-layout binary wire format for
// LAN peer state snapshots: quantized positions, economy fields and
// deltas, packed status flags, and the transient combat/social event
// overlay. All multi-byte integers are big-endian. The layout is defined
// once, by an ordered field table consumed by both the encoder and the
// decoder, so the two directions cannot drift apart.
package protocol

// Port is the fixed UDP port every participant binds and broadcasts on.
const Port = 27015

// BroadcastInterval is the outbound snapshot cadence in seconds.
const BroadcastInterval = 0.18

// NameBytes is the fixed width of callsign fields on the wire.
// Names are zero-padded on write and NUL-terminated on read.
const NameBytes = 12

// MaxDatagramSize is the receive buffer size. It leaves slack above
// PacketSize; trailing bytes in an oversized datagram are ignored.
const MaxDatagramSize = 68

// Status flag bits packed into the Flags byte.
const (
	FlagDowned    uint8 = 1 << 0 // player is downed, awaiting revive
	FlagQuickfire uint8 = 1 << 1 // quickfire perk active
	FlagSpeed     uint8 = 1 << 2 // speed perk active
	FlagRevive    uint8 = 1 << 3 // revive perk active
	FlagReviving  uint8 = 1 << 4 // revive in progress
	FlagTeamOne   uint8 = 1 << 5 // player is on team 1 (clear = team 0)
	FlagTeamMode  uint8 = 1 << 6 // sender is playing the team variant
)

// Social event kinds carried in the event overlay.
const (
	EventNone   uint8 = 0
	EventFrag   uint8 = 1
	EventAssist uint8 = 2
)

// Wire-range limits. Values are clamped, never wrapped, before encoding.
const (
	MaxEconomy     = 60000 // ceiling for cash, score, and ammo
	MaxDelta       = 120   // per-emission share delta bounds
	MinDelta       = -120
	MaxJoinSeconds = 65000
)

// Snapshot is one serialized instant of a participant's replicated state.
// Integer fields mirror the wire exactly; position and ray vectors are
// carried as floats and pass through quantization at the wire boundary,
// so they round-trip only to within QuantizeStep/2.
type Snapshot struct {
	Pos    [3]float32
	Weapon uint8
	Ammo   uint16

	// Health is the wire byte: local health 0..100 scaled to 0..255.
	Health uint8

	// CashDelta and ScoreDelta are shares accumulated since the sender's
	// previous emission, not running totals. Receivers add them once per
	// received datagram; duplicate delivery double-applies by contract.
	CashDelta  int8
	ScoreDelta int8

	Cash  uint16
	Score uint16
	Flags uint8
	Name  string

	// JoinSeconds is the sender's session age, used by receivers to spot
	// fresh joiners for the catch-up share bonus.
	JoinSeconds uint16

	// Damage ray overlay: a hitscan fired by the sender, replicated so the
	// victim applies damage to itself from the geometry. DamageID is a
	// wrapping per-sender counter used only for de-duplication.
	RayOrigin [3]float32
	RayDir    [3]float32
	RayDamage uint8
	DamageID  uint8

	// Social event overlay: a one-shot frag/assist notice. EventID is a
	// wrapping per-sender counter used only for de-duplication.
	EventKind   uint8
	EventTeam   uint8
	EventID     uint8
	EventTarget string
}

// ClampEconomy bounds a cash/score/ammo value to its wire range.
func ClampEconomy(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > MaxEconomy {
		return MaxEconomy
	}
	return uint16(v)
}

// ClampDelta bounds a pending share to the signed 8-bit wire range.
func ClampDelta(v int) int8 {
	if v < MinDelta {
		return MinDelta
	}
	if v > MaxDelta {
		return MaxDelta
	}
	return int8(v)
}

// ClampJoinSeconds bounds a session age to its wire range.
func ClampJoinSeconds(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > MaxJoinSeconds {
		return MaxJoinSeconds
	}
	return uint16(v)
}
