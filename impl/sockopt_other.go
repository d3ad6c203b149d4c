//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package impl

import "syscall"

func manetReuse(network string, address string, c syscall.RawConn) error {
	return nil
}
