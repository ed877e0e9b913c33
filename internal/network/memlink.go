package network

import (
	"math/rand"
	"net"
	"net/netip"
	"sync"
)

const memInboxDepth = 64

type memDatagram struct {
	payload []byte
	from    netip.AddrPort
}

// MemHub is an in-memory broadcast domain. Links joined to the same hub
// see each other's broadcasts exactly like sockets sharing a subnet,
// including their own (real broadcast loops back to the sender's port).
// It backs the rehearsal harness and the session tests.
type MemHub struct {
	mu      sync.Mutex
	members map[netip.AddrPort]*MemLink
	rng     *rand.Rand
	loss    float64
	dup     float64
}

// NewMemHub creates an empty broadcast domain with a perfect medium.
func NewMemHub() *MemHub {
	return &MemHub{members: make(map[netip.AddrPort]*MemLink)}
}

// Impair makes the medium lossy: each delivery is independently dropped
// with probability lossRate, or duplicated with probability dupRate.
// The seed keeps a run reproducible. Zero rates restore the perfect hub.
func (h *MemHub) Impair(lossRate, dupRate float64, seed int64) {
	h.mu.Lock()
	h.loss = lossRate
	h.dup = dupRate
	h.rng = rand.New(rand.NewSource(seed))
	h.mu.Unlock()
}

// Join attaches a new link with the given fake address. Joining an
// address twice replaces the earlier member, like rebinding a port.
func (h *MemHub) Join(addr netip.AddrPort) *MemLink {
	l := &MemLink{
		hub:   h,
		addr:  addr,
		inbox: make(chan memDatagram, memInboxDepth),
	}
	h.mu.Lock()
	h.members[addr] = l
	h.mu.Unlock()
	return l
}

func (h *MemHub) leave(addr netip.AddrPort) {
	h.mu.Lock()
	delete(h.members, addr)
	h.mu.Unlock()
}

func (h *MemHub) deliver(to *MemLink, payload []byte, from netip.AddrPort) {
	copies := 1
	h.mu.Lock()
	if h.rng != nil {
		if h.rng.Float64() < h.loss {
			copies = 0
		} else if h.rng.Float64() < h.dup {
			copies = 2
		}
	}
	h.mu.Unlock()

	for i := 0; i < copies; i++ {
		copied := make([]byte, len(payload))
		copy(copied, payload)
		select {
		case to.inbox <- memDatagram{payload: copied, from: from}:
		default:
			// Inbox full: dropped, same as a full socket buffer.
		}
	}
}

// MemLink is one endpoint on a MemHub.
type MemLink struct {
	hub  *MemHub
	addr netip.AddrPort

	mu     sync.Mutex
	inbox  chan memDatagram
	closed bool
}

// Broadcast delivers the datagram to every member of the hub, the
// sender included.
func (l *MemLink) Broadcast(buf []byte) error {
	if l.isClosed() {
		return net.ErrClosed
	}
	l.hub.mu.Lock()
	members := make([]*MemLink, 0, len(l.hub.members))
	for _, m := range l.hub.members {
		members = append(members, m)
	}
	l.hub.mu.Unlock()

	for _, m := range members {
		l.hub.deliver(m, buf, l.addr)
	}
	return nil
}

// SendTo delivers the datagram to a single member. Sending to an
// address nobody holds succeeds silently, matching UDP.
func (l *MemLink) SendTo(to netip.AddrPort, buf []byte) error {
	if l.isClosed() {
		return net.ErrClosed
	}
	l.hub.mu.Lock()
	target := l.hub.members[to]
	l.hub.mu.Unlock()

	if target != nil {
		l.hub.deliver(target, buf, l.addr)
	}
	return nil
}

// TryRecv performs a non-blocking read of the next queued datagram.
func (l *MemLink) TryRecv(buf []byte) (int, netip.AddrPort, bool, error) {
	if l.isClosed() {
		return 0, netip.AddrPort{}, false, net.ErrClosed
	}
	select {
	case d := <-l.inbox:
		return copy(buf, d.payload), d.from, true, nil
	default:
		return 0, netip.AddrPort{}, false, nil
	}
}

// LocalAddr returns the fake address this link joined with.
func (l *MemLink) LocalAddr() netip.AddrPort {
	return l.addr
}

// Close detaches the link from the hub.
func (l *MemLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.hub.leave(l.addr)
	return nil
}

func (l *MemLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
