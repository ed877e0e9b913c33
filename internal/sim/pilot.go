// Package sim drives the local avatar when no frontend is attached:
// scripted pilots for live nodes, and a rehearsal harness that runs
// several piloted sessions over an in-memory link in lockstep.
package sim

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/geom"
	"github.com/lanlink-project/lanlink/internal/lan"
	"github.com/lanlink-project/lanlink/internal/util"
)

// Pilot modes. Idle parks the avatar; wander roams random waypoints;
// aggressive wanders and engages the nearest hostile; orbit circles
// the arena center while engaging, the movement rehearsal bots use.
const (
	ModeIdle       = "idle"
	ModeWander     = "wander"
	ModeAggressive = "aggressive"
	ModeOrbit      = "orbit"
)

const (
	pilotDecisionHz = 10

	// waypointReach is the arrival distance that retires a waypoint.
	waypointReach = 1.0

	// retargetSlack pads the travel-time estimate before a stuck pilot
	// abandons its waypoint.
	retargetSlack = 2.0

	// orbitLead is how far ahead on the circle, in radians, an orbiting
	// pilot places its moving waypoint.
	orbitLead = 0.45
)

// Pilot steers the session's avatar from a movement script. It talks
// to the session exactly like a frontend would: read the published
// view, enqueue commands.
type Pilot struct {
	session *lan.Session
	cfg     config.Pilot
	rng     *rand.Rand
	log     zerolog.Logger

	target     geom.Vec3
	hasTarget  bool
	retargetAt float64
	nextFireAt float64
}

// NewPilot creates a pilot for the session. Zero or negative tuning
// values fall back to the defaults.
func NewPilot(session *lan.Session, cfg config.Pilot) *Pilot {
	return newSeededPilot(session, cfg, time.Now().UnixNano())
}

func newSeededPilot(session *lan.Session, cfg config.Pilot, seed int64) *Pilot {
	if cfg.MoveSpeed <= 0 {
		cfg.MoveSpeed = lan.BaseSpeed
	}
	if cfg.FireInterval <= 0 {
		cfg.FireInterval = 1.2
	}
	if cfg.ArenaSize <= 0 {
		cfg.ArenaSize = 60
	}
	return &Pilot{
		session: session,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		log:     util.ComponentLogger("pilot"),
	}
}

// Run makes steering decisions until ctx is cancelled. Idle mode has
// no decisions to make and returns immediately.
func (p *Pilot) Run(ctx context.Context) {
	if p.cfg.Mode == ModeIdle || p.cfg.Mode == "" {
		p.log.Info().Msg("pilot idle, avatar parked")
		return
	}

	p.log.Info().
		Str("mode", p.cfg.Mode).
		Float64("arena", p.cfg.ArenaSize).
		Msg("pilot engaged")

	ticker := time.NewTicker(time.Second / pilotDecisionHz)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("pilot disengaged")
			return
		case <-ticker.C:
			p.Step(p.session.View())
		}
	}
}

// Step makes one steering decision against the given view. The
// harness calls this directly to keep rehearsals deterministic.
func (p *Pilot) Step(v *lan.SessionView) {
	switch p.cfg.Mode {
	case ModeWander:
		p.steer(v)
	case ModeAggressive:
		p.steer(v)
		p.engage(v)
	case ModeOrbit:
		p.orbit(v)
		p.engage(v)
	}
}

// steer walks the avatar between random waypoints inside the arena.
func (p *Pilot) steer(v *lan.SessionView) {
	if v.Self.Downed {
		p.hasTarget = false
		return
	}

	pos := v.Self.Pos
	if !p.hasTarget || geom.Distance(pos, p.target) <= waypointReach || v.Clock >= p.retargetAt {
		p.target = p.pickWaypoint()
		p.hasTarget = true
		eta := float64(geom.Distance(pos, p.target)) / p.cfg.MoveSpeed
		p.retargetAt = v.Clock + eta + retargetSlack
	}

	p.enqueue(lan.Command{
		Type: lan.CommandMove,
		Move: &lan.MoveCommand{Dir: p.target.Sub(pos)},
	})
}

// engage fires at the nearest live hostile on the configured cadence.
func (p *Pilot) engage(v *lan.SessionView) {
	if v.Self.Downed || v.Clock < p.nextFireAt {
		return
	}

	target := nearestHostile(v)
	if target == nil {
		return
	}

	// Rays are resolved against the target's ground position, so the
	// aim runs from this avatar's eye down to the target's feet.
	eye := v.Self.Pos.Add(geom.Vec3{Y: lan.EyeHeight})
	p.enqueue(lan.Command{
		Type: lan.CommandFire,
		Fire: &lan.FireCommand{Dir: target.Pos.Sub(eye)},
	})
	p.nextFireAt = v.Clock + p.cfg.FireInterval
}

// orbit circles the arena center by chasing a waypoint a fixed lead
// angle ahead of the avatar's current bearing.
func (p *Pilot) orbit(v *lan.SessionView) {
	if v.Self.Downed {
		return
	}

	pos := v.Self.Pos
	radius := float32(p.cfg.ArenaSize / 3)
	angle := math.Atan2(float64(pos.Z), float64(pos.X)) + orbitLead
	target := geom.Vec3{
		X: radius * float32(math.Cos(angle)),
		Z: radius * float32(math.Sin(angle)),
	}
	p.enqueue(lan.Command{
		Type: lan.CommandMove,
		Move: &lan.MoveCommand{Dir: target.Sub(pos)},
	})
}

// pickWaypoint returns a random point on the arena floor.
func (p *Pilot) pickWaypoint() geom.Vec3 {
	half := float32(p.cfg.ArenaSize / 2)
	return geom.Vec3{
		X: (p.rng.Float32()*2 - 1) * half,
		Z: (p.rng.Float32()*2 - 1) * half,
	}
}

func (p *Pilot) enqueue(cmd lan.Command) {
	if !p.session.Enqueue(cmd) {
		p.log.Debug().Str("type", string(cmd.Type)).Msg("command dropped, queue full")
	}
}

// nearestHostile returns the closest peer the avatar may shoot, or nil.
func nearestHostile(v *lan.SessionView) *lan.PeerView {
	var best *lan.PeerView
	var bestDist float32
	for i := range v.Peers {
		peer := &v.Peers[i]
		if peer.Downed {
			continue
		}
		if v.Self.TeamMode && peer.Team == v.Self.Team {
			continue
		}
		d := geom.Distance(v.Self.Pos, peer.Pos)
		if best == nil || d < bestDist {
			best = peer
			bestDist = d
		}
	}
	return best
}
