//go:build linux

package transport

import "golang.org/x/sys/unix"

// TIOCINQ shares its value with SIOCINQ: unread bytes in the socket receive
// queue.
const fionread = unix.TIOCINQ
