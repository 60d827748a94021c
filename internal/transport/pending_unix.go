//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func socketPending(raw syscall.RawConn) (int, error) {
	var (
		n    int
		ierr error
	)
	if err := raw.Control(func(fd uintptr) {
		n, ierr = unix.IoctlGetInt(int(fd), fionread)
	}); err != nil {
		return 0, err
	}
	return n, ierr
}
