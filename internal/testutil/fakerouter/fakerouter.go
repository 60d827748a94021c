// Package fakerouter runs a scripted router API endpoint on loopback.
package fakerouter

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/mikrolink/internal/protocol"
	"github.com/danmuck/mikrolink/internal/protocol/session"
)

// Handler answers one command sentence with reply sentences.
type Handler func(words []string) [][]string

// Options configure the router.
//
// Legacy selects the challenge-response login. DropFirst closes that many
// connections right after accept, before any login.
type Options struct {
	User      string
	Password  string
	Legacy    bool
	Nonce     string
	DropFirst int
	TLS       *tls.Config
	Handler   Handler
}

type Router struct {
	opts Options
	ln   net.Listener
	wg   sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	accepted int
	logins   int
	failed   int
	received [][]string
}

const defaultNonce = "0123456789abcdef0123456789abcdef"

func Start(t testing.TB, opts Options) *Router {
	t.Helper()
	if opts.Nonce == "" {
		opts.Nonce = defaultNonce
	}
	if opts.Handler == nil {
		opts.Handler = func([]string) [][]string { return [][]string{{protocol.WordDone}} }
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakerouter listen: %v", err)
	}
	if opts.TLS != nil {
		ln = tls.NewListener(ln, opts.TLS)
	}
	r := &Router{opts: opts, ln: ln, conns: map[net.Conn]struct{}{}}
	r.wg.Add(1)
	go r.acceptLoop()
	t.Cleanup(r.Close)
	return r
}

// Host and Port split the listen address for Client.Connect.
func (r *Router) Host() string {
	return r.ln.Addr().(*net.TCPAddr).IP.String()
}

func (r *Router) Port() int {
	return r.ln.Addr().(*net.TCPAddr).Port
}

func (r *Router) Close() {
	_ = r.ln.Close()
	r.mu.Lock()
	for c := range r.conns {
		_ = c.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Accepted is the number of TCP connections accepted.
func (r *Router) Accepted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepted
}

// Logins is the number of successful logins.
func (r *Router) Logins() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logins
}

// FailedLogins is the number of rejected logins.
func (r *Router) FailedLogins() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Received returns the command sentences seen after login.
func (r *Router) Received() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.received))
	copy(out, r.received)
	return out
}

func (r *Router) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		r.mu.Lock()
		r.accepted++
		drop := r.accepted <= r.opts.DropFirst
		r.conns[conn] = struct{}{}
		r.mu.Unlock()
		if drop {
			r.forget(conn)
			continue
		}
		r.wg.Add(1)
		go r.serve(conn)
	}
}

func (r *Router) forget(conn net.Conn) {
	_ = conn.Close()
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
}

func (r *Router) serve(conn net.Conn) {
	defer r.wg.Done()
	defer r.forget(conn)
	br := bufio.NewReader(conn)

	if !r.login(br, conn) {
		return
	}
	for {
		words, err := readSentence(br)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.received = append(r.received, words)
		r.mu.Unlock()
		if err := writeReply(conn, r.opts.Handler(words)); err != nil {
			return
		}
	}
}

func (r *Router) login(br *bufio.Reader, conn net.Conn) bool {
	words, err := readSentence(br)
	if err != nil || len(words) == 0 || words[0] != "/login" {
		return false
	}
	attrs := attributes(words)
	if r.opts.Legacy {
		if err := writeReply(conn, [][]string{{protocol.WordDone, "=ret=" + r.opts.Nonce}}); err != nil {
			return false
		}
		if words, err = readSentence(br); err != nil {
			return false
		}
		attrs = attributes(words)
		want, _ := session.ChallengeResponse(r.opts.Password, r.opts.Nonce)
		return r.finishLogin(conn, attrs["name"] == r.opts.User && attrs["response"] == want)
	}
	return r.finishLogin(conn, attrs["name"] == r.opts.User && attrs["password"] == r.opts.Password)
}

func (r *Router) finishLogin(conn net.Conn, ok bool) bool {
	r.mu.Lock()
	if ok {
		r.logins++
	} else {
		r.failed++
	}
	r.mu.Unlock()
	if !ok {
		_ = writeReply(conn, [][]string{
			{protocol.WordTrap, "=message=invalid user name or password (6)"},
			{protocol.WordDone},
		})
		return false
	}
	return writeReply(conn, [][]string{{protocol.WordDone}}) == nil
}

func attributes(words []string) map[string]string {
	out := map[string]string{}
	for _, w := range words[1:] {
		k, v := protocol.SplitAttribute(w)
		out[k] = v
	}
	return out
}

func readSentence(br *bufio.Reader) ([]string, error) {
	var words []string
	for {
		n, err := protocol.DecodeLength(br)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return words, nil
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, err
		}
		words = append(words, string(buf))
	}
}

// writeReply sends every sentence in a single write so the client sees the
// whole reply as pending at once.
func writeReply(w io.Writer, sentences [][]string) error {
	var buf []byte
	for _, s := range sentences {
		for _, word := range s {
			buf, _ = protocol.AppendLength(buf, len(word))
			buf = append(buf, word...)
		}
		buf = append(buf, 0)
	}
	_, err := w.Write(buf)
	return err
}

// Rows builds a "!re" reply with one sentence per row plus "!done".
func Rows(rows ...map[string]string) [][]string {
	out := make([][]string, 0, len(rows)+1)
	for _, row := range rows {
		s := []string{protocol.WordRe}
		for _, p := range protocol.SortedParams(row) {
			s = append(s, protocol.AttributeWord(p.Key, p.Value))
		}
		out = append(out, s)
	}
	return append(out, []string{protocol.WordDone})
}

// Trap builds a "!trap" reply carrying message.
func Trap(message string) [][]string {
	return [][]string{
		{protocol.WordTrap, protocol.AttributeWord(protocol.AttrMessage, message)},
		{protocol.WordDone},
	}
}

// Command returns the command word of a sentence.
func Command(words []string) string {
	if len(words) == 0 {
		return ""
	}
	return strings.TrimSpace(words[0])
}
