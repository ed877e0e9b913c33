// Package network provides the UDP transport for the LAN link: a
// broadcast-capable socket with non-blocking receive, plus an in-memory
// substitute used by tests and the rehearsal harness.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// UDPLink is a bound UDP socket that reaches peers by subnet broadcast
// and, optionally, by unicast to statically configured addresses outside
// the broadcast domain. All methods are called from the session
// goroutine; UDPLink does no locking of its own.
type UDPLink struct {
	conn        *net.UDPConn
	local       netip.AddrPort
	broadcast   netip.AddrPort
	staticPeers []netip.AddrPort
}

// NewUDPLink binds port on all IPv4 interfaces with SO_REUSEADDR and
// SO_BROADCAST set, so several nodes on one host can share the port and
// the socket may send to the broadcast address.
func NewUDPLink(ctx context.Context, port int, broadcastAddr string, staticPeers []string) (*UDPLink, error) {
	lc := BroadcastListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind link port %d: %w", port, err)
	}
	conn := pc.(*net.UDPConn)

	bcast, err := netip.ParseAddr(broadcastAddr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("invalid broadcast address %q: %w", broadcastAddr, err)
	}

	var static []netip.AddrPort
	for _, p := range staticPeers {
		ap, err := netip.ParseAddrPort(p)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("invalid static peer %q: %w", p, err)
		}
		static = append(static, ap)
	}

	local := netip.AddrPortFrom(LocalIP(), uint16(port))

	log.Info().
		Str("local", local.String()).
		Str("broadcast", bcast.String()).
		Int("staticPeers", len(static)).
		Msg("LAN link bound")

	return &UDPLink{
		conn:        conn,
		local:       local,
		broadcast:   netip.AddrPortFrom(bcast, uint16(port)),
		staticPeers: static,
	}, nil
}

// Broadcast sends one datagram to the broadcast address and to every
// static peer. Static peer failures are logged and do not mask the
// broadcast result.
func (l *UDPLink) Broadcast(buf []byte) error {
	_, err := l.conn.WriteToUDPAddrPort(buf, l.broadcast)
	for _, peer := range l.staticPeers {
		if _, perr := l.conn.WriteToUDPAddrPort(buf, peer); perr != nil {
			log.Warn().Err(perr).Str("peer", peer.String()).Msg("static peer send failed")
		}
	}
	return err
}

// SendTo sends one datagram to a single peer.
func (l *UDPLink) SendTo(to netip.AddrPort, buf []byte) error {
	_, err := l.conn.WriteToUDPAddrPort(buf, to)
	return err
}

// TryRecv performs a non-blocking read. It reports ok=false when no
// datagram is waiting, so the caller can drain the socket inside a
// frame without ever stalling on it.
func (l *UDPLink) TryRecv(buf []byte) (int, netip.AddrPort, bool, error) {
	if err := l.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, netip.AddrPort{}, false, err
	}
	n, from, err := l.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, netip.AddrPort{}, false, nil
		}
		return 0, netip.AddrPort{}, false, err
	}
	// A udp4 socket can still report v4-mapped v6 sources; unmap so
	// address equality works for the self filter.
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), true, nil
}

// LocalAddr returns the address peers will see this node send from.
func (l *UDPLink) LocalAddr() netip.AddrPort {
	return l.local
}

// Close releases the socket.
func (l *UDPLink) Close() error {
	return l.conn.Close()
}
