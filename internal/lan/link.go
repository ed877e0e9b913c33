package lan

import "net/netip"

// Link is the transport the session exchanges snapshots over. The UDP
// implementation lives in internal/network; tests and the rehearsal
// harness substitute an in-memory hub. All calls happen on the session
// goroutine, so implementations need no locking on behalf of the
// session.
type Link interface {
	// Broadcast sends one datagram to every reachable peer.
	Broadcast(buf []byte) error

	// SendTo sends one datagram to a single peer.
	SendTo(to netip.AddrPort, buf []byte) error

	// TryRecv performs a non-blocking read into buf. ok=false means no
	// datagram was waiting.
	TryRecv(buf []byte) (n int, from netip.AddrPort, ok bool, err error)

	// LocalAddr returns the address peers see this node send from.
	LocalAddr() netip.AddrPort

	Close() error
}
