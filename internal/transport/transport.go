// Package transport provides the byte stream a router session runs over.
//
// Conn buffers reads and reports how many bytes are ready without blocking,
// which the word reader uses to decide a reply is complete.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

const readBufferSize = 64 * 1024

var ErrAddressRequired = errors.New("transport: address required")

// Options configure Dial. A nil TLS dials plain TCP.
type Options struct {
	Address string
	Timeout time.Duration
	TLS     *tls.Config
}

// Conn is a buffered connection with a pending-bytes query.
type Conn struct {
	conn net.Conn
	raw  syscall.RawConn
	br   *bufio.Reader
}

// Dial opens a TCP connection and, when opts.TLS is set, completes the TLS
// handshake. Timeout bounds both steps.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	if strings.TrimSpace(opts.Address) == "" {
		return nil, ErrAddressRequired
	}
	dialer := net.Dialer{Timeout: opts.Timeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, err
	}
	raw := rawSyscallConn(rawConn)
	if opts.TLS == nil {
		return newConn(rawConn, raw), nil
	}

	conn := tls.Client(rawConn, opts.TLS)
	handshakeCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		handshakeCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return newConn(conn, raw), nil
}

// Wrap adapts an established connection. Pending reports only buffered bytes
// unless conn exposes its socket.
func Wrap(conn net.Conn) *Conn {
	return newConn(conn, rawSyscallConn(conn))
}

func newConn(conn net.Conn, raw syscall.RawConn) *Conn {
	return &Conn{
		conn: conn,
		raw:  raw,
		br:   bufio.NewReaderSize(conn, readBufferSize),
	}
}

func rawSyscallConn(conn net.Conn) syscall.RawConn {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil
	}
	return raw
}

func (c *Conn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

func (c *Conn) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Pending returns the bytes readable without blocking: whatever sits in the
// read buffer plus what the kernel holds for the socket.
func (c *Conn) Pending() (int, error) {
	n := c.br.Buffered()
	if c.raw == nil {
		return n, nil
	}
	sock, err := socketPending(c.raw)
	if err != nil {
		return n, err
	}
	return n + sock, nil
}
