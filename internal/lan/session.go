// Package lan implements the peer-to-peer state synchronization session:
// a fixed-slot peer table fed by UDP broadcast snapshots, reconciliation
// of replicated combat and economy state, and the frame-driven loop that
// owns all of it. The session runs on a single goroutine; the outside
// world talks to it through a bounded command queue and reads the
// immutable view it publishes every frame.
package lan

import (
	"context"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanlink-project/lanlink/internal/events"
	"github.com/lanlink-project/lanlink/internal/geom"
	"github.com/lanlink-project/lanlink/internal/network"
	"github.com/lanlink-project/lanlink/internal/protocol"
	"github.com/lanlink-project/lanlink/internal/util"
)

const (
	commandQueueDepth = 128
	maxFrameDelta     = 0.25
	startingCash      = 500
	startingAmmo      = 120
)

// Options configures a new session.
type Options struct {
	Callsign    string
	Team        uint8
	TeamMode    bool
	UseChecksum bool
	Enabled     bool
	TickHz      int

	// Link carries snapshots to and from peers. A nil link starts the
	// session degraded: the local loop still runs, nothing replicates.
	Link Link

	Bus *events.EventBus
}

// Session owns the local avatar, the peer table, and the link. All
// mutation happens on the frame goroutine via Advance; concurrent
// callers interact only through Enqueue and View.
type Session struct {
	log zerolog.Logger
	bus *events.EventBus

	link     Link
	selfAddr netip.AddrPort

	enabled     bool
	useChecksum bool
	status      events.LinkStatus

	clock float64
	local localState
	peers peerTable

	teamScores [2]int
	feed       []FeedEntry
	sharePip   *SharePipView

	sendAcc    float64
	lastPacket []byte

	// damageCounter ids the next armed ray, eventCounter the next
	// emitted feed notice. Both start at 1 and wrap with their uint8.
	damageCounter uint8
	eventCounter  uint8

	counters        Counters
	droppedCommands atomic.Uint64

	recvBuf [protocol.MaxDatagramSize]byte
	queued  []events.Event

	tickHz   int
	commands chan Command
	view     atomic.Pointer[SessionView]
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSession builds a session in its pre-start state. The first frame
// runs when Start's loop ticks, or when a test calls Advance directly.
func NewSession(opts Options) *Session {
	s := &Session{
		log:           util.ComponentLogger("session"),
		bus:           opts.Bus,
		link:          opts.Link,
		enabled:       opts.Enabled,
		useChecksum:   opts.UseChecksum,
		tickHz:        opts.TickHz,
		damageCounter: 1,
		eventCounter:  1,
		commands:      make(chan Command, commandQueueDepth),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	if s.tickHz <= 0 {
		s.tickHz = 60
	}
	if s.link != nil {
		s.selfAddr = s.link.LocalAddr()
	}

	s.local = localState{
		callsign: sanitizeCallsign(opts.Callsign),
		teamMode: opts.TeamMode,
		weapon:   1,
		ammo:     startingAmmo,
		health:   MaxHealth,
		cash:     startingCash,
	}
	if opts.TeamMode {
		if opts.Team == 1 {
			s.local.team = 1
		}
	} else {
		s.local.team = network.LastOctet(s.selfAddr.Addr()) % 2
	}
	if s.local.callsign == "" {
		s.local.callsign = defaultCallsign(s.selfAddr)
	}
	s.local.pos = spawnPoint(int(network.LastOctet(s.selfAddr.Addr())))

	s.refreshStatus("startup")
	s.publishView()
	return s
}

// Start runs the frame loop until ctx is cancelled or Stop is called.
func (s *Session) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop halts the frame loop and waits for it to exit.
func (s *Session) Stop() {
	close(s.stopCh)
	<-s.doneCh
	if s.link != nil {
		s.link.Close()
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.doneCh)

	interval := time.Second / time.Duration(s.tickHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().
		Int("tickHz", s.tickHz).
		Str("callsign", s.local.callsign).
		Str("status", s.status.String()).
		Msg("session started")

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("session stopping")
			return
		case <-s.stopCh:
			s.log.Info().Msg("session stopping")
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if dt > maxFrameDelta {
				// After a scheduler stall, advance one clamped frame
				// instead of fast-forwarding gameplay timers.
				dt = maxFrameDelta
			}
			s.Advance(dt)
		}
	}
}

// Advance runs one frame: apply queued commands, drain the link,
// advance local simulation, broadcast on schedule, publish the view.
// It must only ever run on one goroutine.
func (s *Session) Advance(dt float64) {
	s.clock += dt

	s.drainCommands()

	linked := s.enabled && s.link != nil
	if linked {
		s.receive()
	}

	s.advanceLocal(dt)
	s.advancePeers(dt, linked)

	if linked {
		s.sendAcc += dt
		if s.sendAcc >= protocol.BroadcastInterval {
			s.sendAcc = 0
			s.broadcastSnapshot()
		}
	}

	if s.sharePip != nil && s.clock >= s.sharePip.Until {
		s.sharePip = nil
	}

	s.publishView()
	s.flushEvents()
}

// Enqueue queues a command for the next frame. It never blocks; when
// the queue is full the command is dropped and counted.
func (s *Session) Enqueue(cmd Command) bool {
	select {
	case s.commands <- cmd:
		return true
	default:
		s.droppedCommands.Add(1)
		return false
	}
}

// View returns the most recently published state snapshot.
func (s *Session) View() *SessionView {
	return s.view.Load()
}

func (s *Session) drainCommands() {
	for {
		select {
		case cmd := <-s.commands:
			s.applyCommand(cmd)
		default:
			return
		}
	}
}

func (s *Session) applyCommand(cmd Command) {
	switch cmd.Type {
	case CommandMove:
		if cmd.Move == nil {
			return
		}
		s.local.moveIntent = cmd.Move.Dir.Normalize()

	case CommandFire:
		if cmd.Fire == nil {
			return
		}
		s.fireAt(cmd.Fire.Dir)

	case CommandSelectWeapon:
		if cmd.Weapon == nil || int(cmd.Weapon.Index) >= WeaponCount {
			return
		}
		s.local.weapon = cmd.Weapon.Index

	case CommandShare:
		if cmd.Share == nil {
			return
		}
		s.applyShareCommand(cmd.Share)

	case CommandSetCallsign:
		if cmd.Callsign == nil {
			return
		}
		name := sanitizeCallsign(cmd.Callsign.Name)
		if name == "" || name == s.local.callsign {
			return
		}
		old := s.local.callsign
		s.local.callsign = name
		s.log.Info().Str("from", old).Str("to", name).Msg("callsign changed")
		s.queue(events.EventCallsignChanged, events.PeerPayload{
			Addr: s.selfAddr.String(), Callsign: name, Team: s.local.team,
		})

	case CommandSetTeam:
		if cmd.Team == nil {
			return
		}
		s.local.teamMode = cmd.Team.TeamMode
		if cmd.Team.TeamMode {
			s.local.team = cmd.Team.Team & 1
		} else {
			s.local.team = network.LastOctet(s.selfAddr.Addr()) % 2
		}

	case CommandSetPerk:
		if cmd.Perk == nil {
			return
		}
		switch cmd.Perk.Perk {
		case PerkQuickfire:
			s.local.quickfire = cmd.Perk.On
		case PerkSpeed:
			s.local.speed = cmd.Perk.On
		case PerkRevive:
			s.local.revive = cmd.Perk.On
		}

	case CommandSetChecksum:
		if cmd.Toggle == nil || cmd.Toggle.On == s.useChecksum {
			return
		}
		s.useChecksum = cmd.Toggle.On
		s.log.Info().Bool("on", s.useChecksum).Msg("checksum mode toggled")
		s.queue(events.EventChecksumToggled, cmd.Toggle.On)

	case CommandSetEnabled:
		if cmd.Toggle == nil || cmd.Toggle.On == s.enabled {
			return
		}
		s.setEnabled(cmd.Toggle.On)

	case CommandRespawn:
		if !s.local.downed {
			return
		}
		// Skip the rest of the countdown; advanceLocal completes the
		// respawn this frame.
		s.local.respawnIn = 0
	}
}

func (s *Session) applyShareCommand(share *ShareCommand) {
	cash := clampInt(share.Cash, 0, s.local.cash)
	score := clampInt(share.Score, 0, s.local.score)
	if cash == 0 && score == 0 {
		return
	}
	s.local.cash -= cash
	s.local.score -= score
	s.local.pendingCash += cash
	s.local.pendingScore += score
	s.queue(events.EventShareSent, events.SharePayload{Cash: cash, Score: score})
	s.log.Debug().Int("cash", cash).Int("score", score).Msg("share queued")
}

func (s *Session) setEnabled(on bool) {
	s.enabled = on
	if on {
		// Peers were frozen while disabled; give every slot a fresh
		// timeout window instead of expiring the whole table at once.
		s.peers.each(func(rec *peerRecord) {
			rec.lastSeen = s.clock
		})
		s.sendAcc = 0
	}
	s.refreshStatus("operator toggle")
}

func (s *Session) refreshStatus(reason string) {
	prev := s.status
	switch {
	case !s.enabled:
		s.status = events.LinkStatusDisabled
	case s.link == nil:
		s.status = events.LinkStatusDegraded
	default:
		s.status = events.LinkStatusUp
	}
	if s.status != prev {
		s.log.Info().
			Str("from", prev.String()).
			Str("to", s.status.String()).
			Str("reason", reason).
			Msg("link state changed")
		s.queue(events.EventLinkState, events.LinkStatePayload{Status: s.status, Reason: reason})
	}
}

// advanceLocal moves the avatar and runs its respawn timer.
func (s *Session) advanceLocal(dt float64) {
	if s.local.downed {
		s.local.respawnIn -= dt
		if s.local.respawnIn <= 0 {
			s.local.downed = false
			s.local.health = MaxHealth
			s.local.respawnIn = 0
			s.local.pos = spawnPoint(int(network.LastOctet(s.selfAddr.Addr())))
			s.log.Info().Msg("back in the arena")
			s.queue(events.EventLocalRespawned, events.PeerPayload{
				Addr: s.selfAddr.String(), Callsign: s.local.callsign, Team: s.local.team,
			})
		}
		return
	}

	if s.local.moveIntent != (geom.Vec3{}) {
		step := s.local.moveIntent.Scale(s.local.moveSpeed() * float32(dt))
		s.local.pos = s.local.pos.Add(step)
	}
}

// advancePeers interpolates render positions, predicts respawns, and
// expires silent slots.
func (s *Session) advancePeers(dt float64, linked bool) {
	rate := LerpRateIdle
	if linked {
		rate = LerpRateLive
	}

	for i := range s.peers.slots {
		rec := &s.peers.slots[i]
		if !rec.active {
			continue
		}

		rec.renderPos = rec.renderPos.Lerp(rec.pos, float32(rate*dt))

		if rec.downed && rec.respawnIn > 0 {
			rec.respawnIn -= dt
			if rec.respawnIn <= 0 {
				rec.respawnIn = 0
				rec.downed = false
				rec.health = MaxHealth
				rec.pos = spawnPoint(i)
				rec.renderPos = rec.pos
				s.queue(events.EventPeerRespawned, events.PeerPayload{
					Addr: rec.addr.String(), Callsign: rec.callsign, Team: rec.team,
				})
			}
		}
	}

	if !linked {
		return
	}

	for _, rec := range s.peers.expired(s.clock) {
		s.log.Info().
			Str("peer", rec.callsign).
			Str("addr", rec.addr.String()).
			Msg("peer timed out")
		s.queue(events.EventPeerLost, events.PeerPayload{
			Addr: rec.addr.String(), Callsign: rec.callsign, Team: rec.team,
		})
		s.peers.remove(rec.addr)
	}
}

// fireAt performs the shooter half of a damage ray: a predictive
// hitscan against peer render positions, arming the replicated ray the
// victim will resolve authoritatively against its own state.
func (s *Session) fireAt(dir geom.Vec3) {
	if s.local.downed {
		return
	}
	aim := dir.Normalize()
	if aim == (geom.Vec3{}) {
		return
	}
	if s.local.ammo <= 0 {
		return
	}
	s.local.ammo--

	origin := s.local.pos.Add(geom.Vec3{Y: EyeHeight})

	var target *peerRecord
	var bestDist float32
	s.peers.each(func(rec *peerRecord) {
		if rec.downed {
			return
		}
		if s.local.teamMode && rec.team == s.local.team {
			return
		}
		if dist, hit := geom.HitscanSphere(origin, aim, rec.renderPos, HitscanRadius); hit {
			if target == nil || dist < bestDist {
				target = rec
				bestDist = dist
			}
		}
	})

	if target == nil {
		return
	}

	damage := weaponDamage[s.local.weapon]

	// Later shots replace an unsent ray; only the newest survives to
	// the next broadcast.
	s.local.ray = &pendingRay{
		origin: origin,
		dir:    aim,
		damage: damage,
		id:     s.damageCounter,
	}
	s.damageCounter++

	if float32(damage) >= target.health {
		s.local.score = clampInt(s.local.score+FragScore, 0, protocol.MaxEconomy)
		if s.local.teamMode {
			s.teamScores[s.local.team]++
		}
		s.local.event = &pendingEvent{kind: protocol.EventFrag, target: target.callsign}
		s.pushFeed(FeedEntry{
			Clock:  s.clock,
			Kind:   events.FeedKindFrag,
			Actor:  s.local.callsign,
			Target: target.callsign,
			Team:   s.local.team,
		})
		s.queue(events.EventFeed, events.FeedPayload{
			Kind: events.FeedKindFrag, Actor: s.local.callsign,
			Target: target.callsign, Team: s.local.team,
		})
		s.log.Info().Str("target", target.callsign).Msg("frag")
	} else if s.local.event == nil {
		s.local.event = &pendingEvent{kind: protocol.EventAssist, target: target.callsign}
	}
}

func (s *Session) pushFeed(entry FeedEntry) {
	s.feed = append(s.feed, entry)
	if len(s.feed) > feedRingSize {
		s.feed = s.feed[len(s.feed)-feedRingSize:]
	}
}

// queue stages a bus event for emission after the frame's state
// mutation completes.
func (s *Session) queue(t events.EventType, payload interface{}) {
	s.queued = append(s.queued, events.Event{Type: t, Source: "session", Payload: payload})
}

func (s *Session) flushEvents() {
	if s.bus == nil || len(s.queued) == 0 {
		s.queued = s.queued[:0]
		return
	}
	for _, ev := range s.queued {
		s.bus.Emit(context.Background(), ev)
	}
	s.queued = s.queued[:0]
}

func (s *Session) publishView() {
	v := &SessionView{
		Clock:      s.clock,
		Status:     s.status,
		TeamScores: s.teamScores,
		Self: SelfView{
			Addr:      addrString(s.selfAddr),
			Callsign:  s.local.callsign,
			Team:      s.local.team,
			TeamMode:  s.local.teamMode,
			Pos:       s.local.pos,
			Weapon:    s.local.weapon,
			Ammo:      s.local.ammo,
			Health:    s.local.health,
			Cash:      s.local.cash,
			Score:     s.local.score,
			Downed:    s.local.downed,
			RespawnIn: s.local.respawnIn,
			JoinAge:   s.clock,
			Pending: PendingView{
				Cash:     s.local.pendingCash,
				Score:    s.local.pendingScore,
				HasRay:   s.local.ray != nil,
				HasEvent: s.local.event != nil,
			},
		},
		Counters: s.counters,
	}
	v.Counters.CommandsDropped = s.droppedCommands.Load()

	s.peers.each(func(rec *peerRecord) {
		v.Peers = append(v.Peers, PeerView{
			Addr:        rec.addr.String(),
			Callsign:    rec.callsign,
			Team:        rec.team,
			Pos:         rec.pos,
			RenderPos:   rec.renderPos,
			Weapon:      rec.weapon,
			Ammo:        rec.ammo,
			Health:      rec.health,
			Cash:        rec.cash,
			Score:       rec.score,
			Downed:      rec.downed,
			JoinSeconds: rec.joinSeconds,
			SeenAge:     s.clock - rec.lastSeen,
		})
	})

	if s.sharePip != nil && s.clock < s.sharePip.Until {
		pip := *s.sharePip
		v.SharePip = &pip
	}
	if len(s.feed) > 0 {
		v.Feed = append([]FeedEntry(nil), s.feed...)
	}

	s.view.Store(v)
}

func sanitizeCallsign(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= protocol.NameBytes {
		name = name[:protocol.NameBytes-1]
	}
	return name
}

func addrString(ap netip.AddrPort) string {
	if !ap.IsValid() {
		return ""
	}
	return ap.String()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
