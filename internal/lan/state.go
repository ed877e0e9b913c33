package lan

import (
	"math"

	"github.com/lanlink-project/lanlink/internal/geom"
	"github.com/lanlink-project/lanlink/internal/protocol"
)

// Gameplay timing and tuning constants. These govern local simulation
// only; peers never need to agree on them for the wire to work.
const (
	// PeerTimeout is how long a slot survives without a datagram.
	PeerTimeout = 3.0

	// MaxPeers is the fixed size of the peer table.
	MaxPeers = 8

	// DamageCooldown is the invulnerability window after a replicated
	// hit lands. Damage ids are still recorded during the window.
	DamageCooldown = 0.6

	// PeerRespawnDelay predicts a downed peer's return before the wire
	// confirms it.
	PeerRespawnDelay = 1.5

	// LocalRespawnDelay holds the local avatar down before respawn.
	LocalRespawnDelay = 2.5

	// SharePipDuration keeps the incoming-share indicator visible.
	SharePipDuration = 1.6

	// HitscanRadius is the avatar hit sphere used on both ends of a
	// damage ray.
	HitscanRadius = 0.35

	// CatchUpWindow is the reported session age under which a peer
	// still qualifies for the one-time catch-up share bonus.
	CatchUpWindow = 8.0

	// CatchUpBonus is added to both pending shares for a fresh joiner.
	CatchUpBonus = 20

	// Render interpolation rates, per second. The live rate applies
	// while the link is exchanging snapshots, the idle rate while the
	// session runs degraded.
	LerpRateLive = 8.0
	LerpRateIdle = 6.0

	MaxHealth  = 100
	FragScore  = 100
	BaseSpeed  = 3.5
	SpeedBoost = 1.5

	// EyeHeight lifts a damage ray's origin above the avatar's ground
	// position. Rays are checked against the bare ground position, so
	// shooters aim from their eye at the target's feet.
	EyeHeight = 0.6
)

// weaponDamage maps weapon index to hit damage.
var weaponDamage = [4]uint8{18, 34, 12, 50}

// WeaponCount is the number of selectable weapons.
const WeaponCount = len(weaponDamage)

// spawnPoints ring the arena.
var spawnPoints = func() [MaxPeers]geom.Vec3 {
	var pts [MaxPeers]geom.Vec3
	const radius = 20.0
	for i := range pts {
		angle := 2 * math.Pi * float64(i) / MaxPeers
		pts[i] = geom.Vec3{
			X: float32(radius * math.Cos(angle)),
			Z: float32(radius * math.Sin(angle)),
		}
	}
	return pts
}()

// spawnPoint returns the spawn position for a slot or octet index.
func spawnPoint(i int) geom.Vec3 {
	if i < 0 {
		i = -i
	}
	return spawnPoints[i%MaxPeers]
}

// pendingRay is a hitscan waiting to ride the next outbound snapshot.
type pendingRay struct {
	origin geom.Vec3
	dir    geom.Vec3
	damage uint8
	id     uint8
}

// pendingEvent is a frag/assist notice waiting for the next snapshot.
// The id is allocated at send time from the session's event counter.
type pendingEvent struct {
	kind   uint8
	target string
}

// localState is the avatar this node owns and replicates outward.
type localState struct {
	callsign string
	team     uint8
	teamMode bool

	pos        geom.Vec3
	moveIntent geom.Vec3
	weapon     uint8
	ammo       int
	health     float32
	cash       int
	score      int

	downed    bool
	quickfire bool
	speed     bool
	revive    bool
	reviving  bool

	respawnIn    float64
	lastDamageAt float64

	// Shares accrued since the last broadcast. Cleared on send.
	pendingCash  int
	pendingScore int

	ray   *pendingRay
	event *pendingEvent
}

// flags packs the avatar's status bits for the wire.
func (l *localState) flags() uint8 {
	var f uint8
	if l.downed {
		f |= protocol.FlagDowned
	}
	if l.quickfire {
		f |= protocol.FlagQuickfire
	}
	if l.speed {
		f |= protocol.FlagSpeed
	}
	if l.revive {
		f |= protocol.FlagRevive
	}
	if l.reviving {
		f |= protocol.FlagReviving
	}
	if l.team == 1 {
		f |= protocol.FlagTeamOne
	}
	if l.teamMode {
		f |= protocol.FlagTeamMode
	}
	return f
}

// wireHealth scales 0..100 health to the 0..255 wire byte, truncating
// toward zero.
func wireHealth(h float32) uint8 {
	v := int(h / MaxHealth * 255)
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return uint8(v)
}

// healthFromWire undoes wireHealth.
func healthFromWire(b uint8) float32 {
	return float32(b) / 255 * MaxHealth
}

// moveSpeed is the avatar's current speed including the perk bonus.
func (l *localState) moveSpeed() float32 {
	if l.speed {
		return BaseSpeed * SpeedBoost
	}
	return BaseSpeed
}
