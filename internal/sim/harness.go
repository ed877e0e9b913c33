package sim

import (
	"context"
	"math/rand"
	"net/netip"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/lan"
	"github.com/lanlink-project/lanlink/internal/network"
)

const (
	// harnessSubnetOctet keys the fake addresses handed to members:
	// 192.168.77.10, .11, .12 and so on.
	harnessSubnetOctet = 10

	// botShareInterval is how often a scripted bot gifts a small share
	// to the arena.
	botShareInterval = 3.0

	botShareCash  = 10
	botShareScore = 5
)

// Node is one scripted participant: its session, its pilot, and the
// fake address it joined with.
type Node struct {
	Session *lan.Session
	Pilot   *Pilot
	Addr    netip.AddrPort

	link        *network.MemLink
	shareEvery  float64
	nextShareAt float64
}

// Harness runs sessions over one in-memory broadcast hub. Tests drive
// it in lockstep with Step/RunFor for deterministic exchanges; the
// node's rehearsal mode drives it live with Start, bots running on
// real goroutines against the real session.
type Harness struct {
	hub    *network.MemHub
	step   float64
	tick   int
	rng    *rand.Rand
	nodes  []*Node
	joined int
}

// NewHarness creates an empty rehearsal arena.
func NewHarness(tickHz int, seed int64) *Harness {
	if tickHz <= 0 {
		tickHz = config.DefaultSimHz
	}
	return &Harness{
		hub:  network.NewMemHub(),
		step: 1 / float64(tickHz),
		tick: tickHz,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// JoinLink attaches one more member address to the hub and returns its
// link, for wiring an externally managed session (the real node with
// its full shell) into the fake arena.
func (h *Harness) JoinLink() *network.MemLink {
	return h.hub.Join(h.nextAddr())
}

// AddNode joins a new piloted session to the arena.
func (h *Harness) AddNode(callsign string, team uint8, teamMode bool, pilot config.Pilot) *Node {
	addr := h.nextAddr()
	link := h.hub.Join(addr)

	session := lan.NewSession(lan.Options{
		Callsign:    callsign,
		Team:        team,
		TeamMode:    teamMode,
		UseChecksum: true,
		Enabled:     true,
		TickHz:      h.tick,
		Link:        link,
	})

	node := &Node{
		Session: session,
		Pilot:   newSeededPilot(session, pilot, h.rng.Int63()),
		Addr:    addr,
		link:    link,
	}
	h.nodes = append(h.nodes, node)
	return node
}

// AddBot joins a scripted opponent: orbiting movement, periodic fire,
// and a small periodic share.
func (h *Harness) AddBot(callsign string) *Node {
	node := h.AddNode(callsign, 0, false, config.Pilot{
		Mode:         ModeOrbit,
		FireInterval: 1.5,
		ArenaSize:    40,
	})
	node.shareEvery = botShareInterval
	node.nextShareAt = botShareInterval
	return node
}

// Nodes returns the joined participants in join order.
func (h *Harness) Nodes() []*Node {
	return h.nodes
}

// Step advances every node one frame: pilot decision, scripted share,
// one session frame. Deterministic given the harness seed.
func (h *Harness) Step() {
	for _, n := range h.nodes {
		view := n.Session.View()
		n.Pilot.Step(view)
		h.stepShare(n, view.Clock)
		n.Session.Advance(h.step)
	}
}

// RunFor advances the arena by the given amount of simulated time.
func (h *Harness) RunFor(seconds float64) {
	steps := int(seconds/h.step + 0.5)
	for i := 0; i < steps; i++ {
		h.Step()
	}
}

// Start runs every node live: session frame loops and pilots on their
// own goroutines, until ctx is cancelled.
func (h *Harness) Start(ctx context.Context) {
	log.Info().Int("bots", len(h.nodes)).Msg("rehearsal arena started")
	for _, n := range h.nodes {
		n.Session.Start(ctx)
		go n.Pilot.Run(ctx)
		if n.shareEvery > 0 {
			go h.runLiveShares(ctx, n)
		}
	}
}

// Close detaches every node from the hub. Live sessions are stopped by
// cancelling the Start context before closing.
func (h *Harness) Close() {
	for _, n := range h.nodes {
		n.link.Close()
	}
}

func (h *Harness) stepShare(n *Node, clock float64) {
	if n.shareEvery <= 0 || clock < n.nextShareAt {
		return
	}
	n.nextShareAt = clock + n.shareEvery
	n.Session.Enqueue(lan.Command{
		Type:  lan.CommandShare,
		Share: &lan.ShareCommand{Cash: botShareCash, Score: botShareScore},
	})
}

func (h *Harness) runLiveShares(ctx context.Context, n *Node) {
	ticker := time.NewTicker(time.Duration(n.shareEvery * float64(time.Second)))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Session.Enqueue(lan.Command{
				Type:  lan.CommandShare,
				Share: &lan.ShareCommand{Cash: botShareCash, Score: botShareScore},
			})
		}
	}
}

func (h *Harness) nextAddr() netip.AddrPort {
	octet := byte(harnessSubnetOctet + h.joined)
	h.joined++
	addr := netip.AddrFrom4([4]byte{192, 168, 77, octet})
	return netip.AddrPortFrom(addr, uint16(config.DefaultLinkPort))
}
