//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package transport

// _IOR('f', 127, int)
const fionread = 0x4004667f
