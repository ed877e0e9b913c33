//go:build linux

package network

import (
	"net"
	"syscall"
)

// BroadcastListenConfig returns a net.ListenConfig that sets SO_REUSEADDR
// and SO_BROADCAST on the socket before binding. SO_REUSEADDR allows
// immediate rebinding after a previous process was killed, and lets
// several nodes on one host share the link port. SO_BROADCAST permits
// sending to the subnet broadcast address.
func BroadcastListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				if opErr != nil {
					return
				}
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
