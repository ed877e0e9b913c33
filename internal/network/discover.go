package network

import (
	"net"
	"net/netip"
	"time"

	"github.com/rs/zerolog/log"
)

// LocalIP returns the IPv4 address this machine sends LAN traffic from.
// It uses a connected UDP socket to ask the routing table (no packet is
// sent), falling back to an interface scan, then to loopback.
func LocalIP() netip.Addr {
	if conn, err := net.DialTimeout("udp4", "8.8.8.8:80", 5*time.Second); err == nil {
		defer conn.Close()
		if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			if addr, ok := netip.AddrFromSlice(ua.IP.To4()); ok && !addr.IsLoopback() && !addr.IsUnspecified() {
				return addr
			}
		}
	}

	if addr := scanInterfaceIP(); addr.IsValid() {
		return addr
	}

	log.Debug().Msg("local IP detection failed, using loopback")
	return netip.AddrFrom4([4]byte{127, 0, 0, 1})
}

// scanInterfaceIP returns the first non-loopback IPv4 interface address.
// Used as a fallback when route-based detection fails.
func scanInterfaceIP() netip.Addr {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		log.Debug().Err(err).Msg("failed to enumerate network interfaces")
		return netip.Addr{}
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			if addr, ok := netip.AddrFromSlice(v4); ok {
				return addr
			}
		}
	}
	return netip.Addr{}
}

// SubnetBroadcastAddr derives the directed broadcast address of the
// interface owning the local IP (address | ^mask). It is offered during
// setup for networks that filter the limited broadcast 255.255.255.255.
func SubnetBroadcastAddr() netip.Addr {
	local := LocalIP()
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return netip.Addr{}
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		v4 := ipnet.IP.To4()
		mask := ipnet.Mask
		if v4 == nil || len(mask) != 4 {
			continue
		}
		addr, ok := netip.AddrFromSlice(v4)
		if !ok || addr != local {
			continue
		}
		var bcast [4]byte
		for i := 0; i < 4; i++ {
			bcast[i] = v4[i] | ^mask[i]
		}
		return netip.AddrFrom4(bcast)
	}
	return netip.Addr{}
}

// LastOctet extracts the final byte of an IPv4 address. The session uses
// it for default callsigns and free-for-all team coloring.
func LastOctet(addr netip.Addr) uint8 {
	if !addr.Is4() {
		addr = addr.Unmap()
	}
	if !addr.Is4() {
		return 0
	}
	a4 := addr.As4()
	return a4[3]
}
