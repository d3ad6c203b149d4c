//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package impl

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// manetReuse lets several daemons (or a daemon and a capture tool) share the
// MANET port.
func manetReuse(network string, address string, c syscall.RawConn) error {
	var reuseaddr, reuseport error
	control := c.Control(func(fd uintptr) {
		reuseaddr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		reuseport = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	switch {
	case reuseaddr != nil:
		return reuseaddr
	case reuseport != nil:
		return reuseport
	default:
		return control
	}
}
