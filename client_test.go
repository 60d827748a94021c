package mikrolink

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/mikrolink/internal/observability"
	"github.com/danmuck/mikrolink/internal/protocol"
	"github.com/danmuck/mikrolink/internal/protocol/reply"
	"github.com/danmuck/mikrolink/internal/protocol/session"
	"github.com/danmuck/mikrolink/internal/testutil/fakerouter"
	"github.com/danmuck/mikrolink/internal/testutil/testlog"
	"github.com/danmuck/mikrolink/internal/testutil/tlstest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.Attempts = 1
	return cfg
}

func connect(t *testing.T, r *fakerouter.Router, cfg session.Config, password string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(testlog.Start(t))}, opts...)
	c := New(cfg, opts...)
	t.Cleanup(c.Disconnect)
	if err := c.Connect(context.Background(), r.Host(), "admin", password, r.Port(), false); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestConnectModernLogin(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{User: "admin", Password: "secret"})
	c := connect(t, r, testConfig(), "secret")

	if !c.Connected() {
		t.Fatalf("expected connected")
	}
	if got := c.LoginMethod(); got != session.LoginModern {
		t.Fatalf("unexpected login method: got=%s", got)
	}
	if r.Logins() != 1 {
		t.Fatalf("unexpected login count: got=%d", r.Logins())
	}
	if c.ID() == "" {
		t.Fatalf("expected client id")
	}
}

func TestConnectLegacyLogin(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{User: "admin", Password: "secret", Legacy: true})
	c := connect(t, r, testConfig(), "secret")

	if got := c.LoginMethod(); got != session.LoginLegacy {
		t.Fatalf("unexpected login method: got=%s", got)
	}
}

func TestConnectWrongPasswordExhaustsAttempts(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{User: "admin", Password: "secret"})
	cfg := testConfig()
	cfg.Attempts = 3
	c := New(cfg, WithLogger(testlog.Start(t)))

	err := c.Connect(context.Background(), r.Host(), "admin", "wrong", r.Port(), false)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got=%v", err)
	}
	if !errors.Is(err, session.ErrLoginRejected) {
		t.Fatalf("expected wrapped ErrLoginRejected, got=%v", err)
	}
	if errors.Is(err, ErrProtocol) {
		t.Fatalf("rejected credentials must not report a protocol error: %v", err)
	}
	if !strings.Contains(err.Error(), "invalid user name or password") {
		t.Fatalf("expected router message in error, got=%v", err)
	}
	if got := r.FailedLogins(); got != 3 {
		t.Fatalf("unexpected failed login count: got=%d want=3", got)
	}
	if c.Connected() {
		t.Fatalf("expected disconnected")
	}
}

func TestConnectRefused(t *testing.T) {
	c := New(testConfig(), WithLogger(testlog.Start(t)))
	err := c.Connect(context.Background(), "127.0.0.1", "admin", "", closedPort(t), false)
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got=%v", err)
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("refused dial must not report authentication failure: %v", err)
	}
}

func TestConnectWaitsDelayBetweenAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.Attempts = 3
	cfg.Delay = 40 * time.Millisecond
	c := New(cfg, WithLogger(testlog.Start(t)))

	start := time.Now()
	err := c.Connect(context.Background(), "127.0.0.1", "admin", "", closedPort(t), false)
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got=%v", err)
	}
	if elapsed := time.Since(start); elapsed < 2*cfg.Delay {
		t.Fatalf("expected two delays between three attempts, elapsed=%s", elapsed)
	}
}

func TestConnectCanceledDuringDelay(t *testing.T) {
	cfg := testConfig()
	cfg.Attempts = 5
	cfg.Delay = time.Hour
	c := New(cfg, WithLogger(testlog.Start(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Connect(ctx, "127.0.0.1", "admin", "", closedPort(t), false)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got=%v", err)
	}
}

func TestConnectRetriesDroppedConnection(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{User: "admin", Password: "secret", DropFirst: 1})
	cfg := testConfig()
	cfg.Attempts = 2
	c := connect(t, r, cfg, "secret")

	if !c.Connected() {
		t.Fatalf("expected connected on second attempt")
	}
	if got := r.Accepted(); got != 2 {
		t.Fatalf("unexpected accepted count: got=%d want=2", got)
	}
}

func TestConnectDroppedLoginIsProtocolError(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{User: "admin", Password: "secret", DropFirst: 2})
	cfg := testConfig()
	cfg.Attempts = 2
	c := New(cfg, WithLogger(testlog.Start(t)))

	err := c.Connect(context.Background(), r.Host(), "admin", "secret", r.Port(), false)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got=%v", err)
	}
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected broken login stream as ErrProtocol, got=%v", err)
	}
	if errors.Is(err, session.ErrLoginRejected) {
		t.Fatalf("dropped stream must not look like rejected credentials: %v", err)
	}
	if got := r.Accepted(); got != 2 {
		t.Fatalf("unexpected accepted count: got=%d want=2", got)
	}
}

func TestConnectTLSSkipVerify(t *testing.T) {
	ca := tlstest.NewAuthority(t, "mikrolink-test-ca")
	r := fakerouter.Start(t, fakerouter.Options{
		User:     "admin",
		Password: "secret",
		TLS:      ca.ServerConfig(t, "router"),
	})
	cfg := testConfig()
	cfg.TLS.InsecureSkipVerify = true
	c := New(cfg, WithLogger(testlog.Start(t)))
	t.Cleanup(c.Disconnect)

	if err := c.Connect(context.Background(), r.Host(), "admin", "secret", r.Port(), true); err != nil {
		t.Fatalf("connect tls without verification: %v", err)
	}
}

func TestConnectTLS(t *testing.T) {
	ca := tlstest.NewAuthority(t, "mikrolink-test-ca")
	r := fakerouter.Start(t, fakerouter.Options{
		User:     "admin",
		Password: "secret",
		TLS:      ca.ServerConfig(t, "router"),
	})
	cfg := testConfig()
	cfg.TLS.CAFile = ca.WriteCAFile(t, t.TempDir())
	c := New(cfg, WithLogger(testlog.Start(t)))
	t.Cleanup(c.Disconnect)

	if err := c.Connect(context.Background(), r.Host(), "admin", "secret", r.Port(), true); err != nil {
		t.Fatalf("connect tls: %v", err)
	}
	res, err := c.Exec("/system/identity/print", nil)
	if err != nil {
		t.Fatalf("exec over tls: %v", err)
	}
	if res.Kind() != reply.KindEmpty {
		t.Fatalf("unexpected reply kind: got=%s", res.Kind())
	}
}

func TestConnectTLSUnknownAuthority(t *testing.T) {
	ca := tlstest.NewAuthority(t, "mikrolink-test-ca")
	r := fakerouter.Start(t, fakerouter.Options{TLS: ca.ServerConfig(t, "router")})
	c := New(testConfig(), WithLogger(testlog.Start(t)))

	err := c.Connect(context.Background(), r.Host(), "admin", "", r.Port(), true)
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect for untrusted certificate, got=%v", err)
	}
}

func TestExecSendsOneSentenceInParamOrder(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{
		User:     "admin",
		Password: "secret",
		Handler: func(words []string) [][]string {
			return fakerouter.Rows(
				map[string]string{".id": "*1", "name": "ether1"},
				map[string]string{".id": "*2", "name": "ether2"},
			)
		},
	})
	c := connect(t, r, testConfig(), "secret")

	res, err := c.Exec("/interface/print", map[string]string{
		"?disabled": "false",
		"comment":   "uplink",
		"~name":     "ether",
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if len(res.Rows) != 2 || res.Rows[1]["name"] != "ether2" {
		t.Fatalf("unexpected rows: %+v", res.Rows)
	}

	got := r.Received()
	if len(got) != 1 {
		t.Fatalf("expected one command sentence, got=%d", len(got))
	}
	want := []string{"/interface/print", "?disabled=false", "=comment=uplink", "~name~ether"}
	if strings.Join(got[0], "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected sentence: got=%q want=%q", got[0], want)
	}
}

func TestExecTrapIsAReply(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{
		User:     "admin",
		Password: "secret",
		Handler: func([]string) [][]string {
			return fakerouter.Trap("no such command")
		},
	})
	c := connect(t, r, testConfig(), "secret")

	res, err := c.Exec("/bogus", nil)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	var cmdErr *reply.CommandError
	if !errors.As(res.Err(), &cmdErr) {
		t.Fatalf("expected command error, got=%v", res.Err())
	}
	if cmdErr.Message() != "no such command" {
		t.Fatalf("unexpected trap message: got=%q", cmdErr.Message())
	}
	if !c.Connected() {
		t.Fatalf("a trap must not drop the session")
	}
}

func TestExecTaggedAndRaw(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{
		User:     "admin",
		Password: "secret",
		Handler: func(words []string) [][]string {
			return [][]string{{protocol.WordDone, "=ret=*7"}}
		},
	})
	c := connect(t, r, testConfig(), "secret")

	res, err := c.ExecTagged(4, "/ip/address/add", protocol.Param{Key: "address", Value: "10.0.0.1/24"})
	if err != nil {
		t.Fatalf("exec tagged: %v", err)
	}
	if !res.IsScalar || res.Scalar != "*7" {
		t.Fatalf("unexpected scalar reply: %+v", res)
	}
	words, err := c.ExecRaw("/ip/address/print")
	if err != nil {
		t.Fatalf("exec raw: %v", err)
	}
	if len(words) != 2 || words[1] != "=ret=*7" {
		t.Fatalf("unexpected raw words: %q", words)
	}

	got := r.Received()
	if len(got) != 2 {
		t.Fatalf("unexpected sentence count: got=%d", len(got))
	}
	if last := got[0][len(got[0])-1]; last != ".tag=4" {
		t.Fatalf("expected tag word last, got=%q", last)
	}
}

func TestExecNotConnected(t *testing.T) {
	c := New(testConfig())
	if _, err := c.Exec("/system/resource/print", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got=%v", err)
	}
}

func TestExecEmptyCommand(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{User: "admin", Password: "secret"})
	c := connect(t, r, testConfig(), "secret")
	if _, err := c.Exec("  ", nil); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got=%v", err)
	}
	if len(r.Received()) != 0 {
		t.Fatalf("empty command must not reach the router")
	}
}

func TestExecReadTimeoutDropsSession(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{
		User:     "admin",
		Password: "secret",
		Handler:  func([]string) [][]string { return nil },
	})
	cfg := testConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	c := connect(t, r, cfg, "secret")

	if _, err := c.Exec("/tool/ping", nil); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got=%v", err)
	}
	if c.Connected() {
		t.Fatalf("expected session dropped after read failure")
	}
	if _, err := c.Exec("/tool/ping", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after drop, got=%v", err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{User: "admin", Password: "secret"})
	c := connect(t, r, testConfig(), "secret")

	c.Disconnect()
	c.Disconnect()
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.Connected() || c.LoginMethod() != session.LoginNone {
		t.Fatalf("expected reset session state")
	}
}

func TestReconnectReplacesSession(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{User: "admin", Password: "secret"})
	c := connect(t, r, testConfig(), "secret")

	if err := c.Connect(context.Background(), r.Host(), "admin", "secret", r.Port(), false); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if r.Logins() != 2 || !c.Connected() {
		t.Fatalf("unexpected state after reconnect: logins=%d connected=%v", r.Logins(), c.Connected())
	}
}

func TestClientRecordsMetrics(t *testing.T) {
	r := fakerouter.Start(t, fakerouter.Options{User: "admin", Password: "secret"})
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	c := connect(t, r, testConfig(), "secret", WithMetrics(m))

	if _, err := c.Exec("/system/resource/print", nil); err != nil {
		t.Fatalf("exec: %v", err)
	}
	for _, name := range []string{
		"mikrolink_connect_attempts_total",
		"mikrolink_logins_total",
		"mikrolink_exec_total",
	} {
		got, err := testutil.GatherAndCount(reg, name)
		if err != nil {
			t.Fatalf("gather %s: %v", name, err)
		}
		if got != 1 {
			t.Fatalf("unexpected series count for %s: got=%d", name, got)
		}
	}
}
