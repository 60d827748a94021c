//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package transport

import "syscall"

// socketPending has no portable implementation here; callers fall back to
// the read buffer alone.
func socketPending(syscall.RawConn) (int, error) {
	return 0, nil
}
