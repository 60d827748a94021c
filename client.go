package mikrolink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/mikrolink/internal/observability"
	"github.com/danmuck/mikrolink/internal/protocol"
	"github.com/danmuck/mikrolink/internal/protocol/frame"
	"github.com/danmuck/mikrolink/internal/protocol/reply"
	"github.com/danmuck/mikrolink/internal/protocol/session"
	"github.com/danmuck/mikrolink/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Conn is the transport a Client runs a session over.
type Conn interface {
	frame.Transport
	io.Closer
	SetDeadline(t time.Time) error
}

// Dialer opens a Conn.
type Dialer func(ctx context.Context, opts transport.Options) (Conn, error)

func dialTransport(ctx context.Context, opts transport.Options) (Conn, error) {
	c, err := transport.Dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type Option func(*Client)

// WithLogger sets the session logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is one router API session.
type Client struct {
	id      string
	cfg     session.Config
	log     zerolog.Logger
	dial    Dialer
	metrics *observability.Metrics
	rng     *rand.Rand

	mu        sync.Mutex
	conn      Conn
	frames    *frame.Conn
	connected bool
	method    session.LoginMethod
}

func New(cfg session.Config, opts ...Option) *Client {
	c := &Client{
		id:   uuid.NewString(),
		cfg:  cfg.WithDefaults(),
		log:  zerolog.Nop(),
		dial: dialTransport,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("client", c.id).Logger()
	return c
}

// ID identifies the client in logs.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LoginMethod reports the handshake the router accepted.
func (c *Client) LoginMethod() session.LoginMethod {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.method
}

// Connect dials host:port and logs in, retrying up to cfg.Attempts times
// with the configured delay between attempts.
//
// When every attempt fails, the error wraps ErrAuthenticationFailed if the
// router was reached at least once and ErrConnect otherwise. A login that
// broke off on the wire (dropped stream, malformed reply) also wraps
// ErrProtocol; rejected credentials wrap session.ErrLoginRejected. An
// existing session is closed first.
//
// With useTLS the router certificate is verified against the system roots
// or cfg.TLS.CAFile. Routers usually present self-signed certificates, so
// set cfg.TLS.CAFile or cfg.TLS.InsecureSkipVerify accordingly.
func (c *Client) Connect(ctx context.Context, host, user, password string, port int, useTLS bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()

	address := net.JoinHostPort(host, strconv.Itoa(port))
	var tlsCfg *tls.Config
	if useTLS {
		var err error
		if tlsCfg, err = c.cfg.TLS.ClientConfig(address); err != nil {
			return fmt.Errorf("%w: %w", ErrConnect, err)
		}
	}

	var (
		lastErr error
		reached bool
	)
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		c.log.Debug().Msgf("mikrolink.Client.Connect attempt=%d addr=%q tls=%v", attempt, address, useTLS)
		conn, err := c.dial(ctx, transport.Options{Address: address, Timeout: c.cfg.Timeout, TLS: tlsCfg})
		if err != nil {
			lastErr = err
			c.metrics.RecordConnectAttempt("dial_error")
			c.log.Warn().Msgf("mikrolink.Client.Connect dial attempt=%d addr=%q err=%v", attempt, address, err)
		} else {
			reached = true
			method, err := c.login(conn, user, password)
			if err == nil {
				c.conn = conn
				c.frames = frame.NewConn(conn, c.cfg.Limits, c.log)
				c.connected = true
				c.method = method
				c.metrics.RecordConnectAttempt("ok")
				c.metrics.RecordLogin(method.String())
				c.log.Info().Msgf("mikrolink.Client.Connect connected addr=%q login=%s", address, method)
				return nil
			}
			if !errors.Is(err, session.ErrLoginRejected) {
				err = fmt.Errorf("%w: %w", ErrProtocol, err)
			}
			lastErr = err
			c.metrics.RecordConnectAttempt("login_error")
			c.log.Warn().Msgf("mikrolink.Client.Connect login attempt=%d addr=%q err=%v", attempt, address, err)
			if cerr := conn.Close(); cerr != nil {
				c.log.Error().Msgf("mikrolink.Client.Connect close err=%v", cerr)
			}
		}
		if attempt < c.cfg.Attempts {
			if err := c.sleepBackoff(ctx, attempt); err != nil {
				return fmt.Errorf("%w: %w", ErrConnect, err)
			}
		}
	}

	kind := ErrConnect
	if reached {
		kind = ErrAuthenticationFailed
	}
	c.log.Error().Msgf("mikrolink.Client.Connect giving up addr=%q attempts=%d err=%v", address, c.cfg.Attempts, lastErr)
	return fmt.Errorf("%w: %s after %d attempts: %w", kind, address, c.cfg.Attempts, lastErr)
}

func (c *Client) login(conn Conn, user, password string) (session.LoginMethod, error) {
	if c.cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}
	return session.Login(frame.NewConn(conn, c.cfg.Limits, c.log), user, password)
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := session.NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Exec runs command and parses the reply. A nil params map sends the bare
// command; otherwise parameters are sent in key order, encoded by key
// prefix: "?key" query, "~key" regex match, anything else "=key=value".
func (c *Client) Exec(command string, params map[string]string) (reply.Reply, error) {
	return c.ExecParams(command, protocol.SortedParams(params)...)
}

// ExecParams is Exec with caller-ordered parameters.
func (c *Client) ExecParams(command string, params ...protocol.Param) (reply.Reply, error) {
	return c.execParsed(command, params, frame.Close)
}

// ExecTagged is ExecParams with a ".tag" word closing the command.
func (c *Client) ExecTagged(tag int, command string, params ...protocol.Param) (reply.Reply, error) {
	return c.execParsed(command, params, frame.Tagged(tag))
}

// ExecRaw runs command and returns the reply words unparsed.
func (c *Client) ExecRaw(command string, params ...protocol.Param) ([]string, error) {
	return c.roundTrip(command, params, frame.Close)
}

func (c *Client) execParsed(command string, params []protocol.Param, end frame.Terminator) (reply.Reply, error) {
	start := time.Now()
	words, err := c.roundTrip(command, params, end)
	if err != nil {
		return reply.Reply{}, err
	}
	r := reply.Parse(words)
	elapsed := time.Since(start)
	c.metrics.RecordExec(command, r.Kind().String(), elapsed)
	c.log.Debug().Msgf("mikrolink.Client.Exec command=%q kind=%s rows=%d took=%s", command, r.Kind(), len(r.Rows), elapsed)
	return r, nil
}

func (c *Client) roundTrip(command string, params []protocol.Param, end frame.Terminator) ([]string, error) {
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptyCommand
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, ErrNotConnected
	}

	words := make([]string, 0, 1+len(params))
	words = append(words, command)
	for _, p := range params {
		words = append(words, protocol.ParamWord(p))
	}

	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.cfg.ReadTimeout))
		defer func() {
			if c.conn != nil {
				_ = c.conn.SetDeadline(time.Time{})
			}
		}()
	}
	if err := c.frames.WriteSentence(words, end); err != nil {
		return nil, c.failLocked(command, err)
	}
	resp, err := c.frames.ReadSentence(true)
	if err != nil {
		return nil, c.failLocked(command, err)
	}
	return resp, nil
}

// failLocked drops a session whose stream can no longer be trusted.
func (c *Client) failLocked(command string, err error) error {
	c.log.Error().Msgf("mikrolink.Client.Exec command=%q err=%v", command, err)
	c.disconnectLocked()
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}

// Disconnect closes the session. It is safe to call at any time; close
// failures are logged.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

// Close is Disconnect for io.Closer users. It always returns nil.
func (c *Client) Close() error {
	c.Disconnect()
	return nil
}

func (c *Client) disconnectLocked() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Error().Msgf("mikrolink.Client.Disconnect close err=%v", err)
		}
		c.log.Debug().Msg("mikrolink.Client.Disconnect disconnected")
	}
	c.conn = nil
	c.frames = nil
	c.connected = false
	c.method = session.LoginNone
}
