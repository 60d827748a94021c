package frame

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/danmuck/mikrolink/internal/protocol"
	"github.com/danmuck/mikrolink/internal/testutil/testlog"
)

// chunkTransport delivers reads one chunk at a time and reports only the
// rest of the current chunk as pending, like a socket whose next packet has
// not arrived yet.
type chunkTransport struct {
	chunks [][]byte
	out    bytes.Buffer
}

func (c *chunkTransport) Read(p []byte) (int, error) {
	for len(c.chunks) > 0 && len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	return n, nil
}

func (c *chunkTransport) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

func (c *chunkTransport) Pending() (int, error) {
	if len(c.chunks) == 0 {
		return 0, nil
	}
	return len(c.chunks[0]), nil
}

func sentence(words ...string) []byte {
	var buf []byte
	for _, w := range words {
		buf, _ = protocol.AppendLength(buf, len(w))
		buf = append(buf, w...)
	}
	return append(buf, 0)
}

func TestWriteWordSplitsLines(t *testing.T) {
	tr := &chunkTransport{}
	c := NewConn(tr, DefaultLimits(), testlog.Start(t))
	if err := c.WriteWord("/ip/address/add\n  =address=10.0.0.1/24 "); err != nil {
		t.Fatalf("write word: %v", err)
	}
	want := []byte("\x0f/ip/address/add\x14=address=10.0.0.1/24")
	if !bytes.Equal(tr.out.Bytes(), want) {
		t.Fatalf("unexpected bytes: got=%q want=%q", tr.out.Bytes(), want)
	}
}

func TestWriteWordEmpty(t *testing.T) {
	c := NewConn(&chunkTransport{}, DefaultLimits(), testlog.Start(t))
	if err := c.WriteWord(""); !errors.Is(err, ErrEmptyWord) {
		t.Fatalf("expected ErrEmptyWord, got %v", err)
	}
}

func TestWriteSentenceTerminators(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		end  Terminator
		want []byte
	}{
		{"open", Open, []byte("\x06/login")},
		{"close", Close, []byte("\x06/login\x00")},
		{"tagged", Tagged(3), []byte("\x06/login\x06.tag=3\x00")},
	}
	for _, tc := range cases {
		tr := &chunkTransport{}
		c := NewConn(tr, Limits{}, testlog.Start(t))
		if err := c.WriteSentence([]string{"/login"}, tc.end); err != nil {
			t.Fatalf("%s: write sentence: %v", tc.name, err)
		}
		if !bytes.Equal(tr.out.Bytes(), tc.want) {
			t.Fatalf("%s: got=%q want=%q", tc.name, tr.out.Bytes(), tc.want)
		}
	}
}

func TestReadSentenceUnauthenticatedStopsWhenDrained(t *testing.T) {
	tr := &chunkTransport{chunks: [][]byte{
		sentence("!done", "=ret=0123456789abcdef0123456789abcdef"),
		sentence("!re", "=late=1"),
	}}
	c := NewConn(tr, DefaultLimits(), testlog.Start(t))
	got, err := c.ReadSentence(false)
	if err != nil {
		t.Fatalf("read sentence: %v", err)
	}
	want := []string{"!done", "=ret=0123456789abcdef0123456789abcdef"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%q want=%q", got, want)
	}
}

func TestReadSentenceUnauthenticatedWithoutDone(t *testing.T) {
	tr := &chunkTransport{chunks: [][]byte{sentence("!trap", "=message=cannot log in")}}
	c := NewConn(tr, DefaultLimits(), testlog.Start(t))
	got, err := c.ReadSentence(false)
	if err != nil {
		t.Fatalf("read sentence: %v", err)
	}
	if len(got) != 2 || got[0] != "!trap" {
		t.Fatalf("unexpected words: %q", got)
	}
}

func TestReadSentenceAuthenticatedWaitsForDone(t *testing.T) {
	tr := &chunkTransport{chunks: [][]byte{
		sentence("!re", "=name=ether1"),
		sentence("!re", "=name=ether2"),
		sentence("!done"),
	}}
	c := NewConn(tr, DefaultLimits(), testlog.Start(t))
	got, err := c.ReadSentence(true)
	if err != nil {
		t.Fatalf("read sentence: %v", err)
	}
	want := []string{"!re", "=name=ether1", "!re", "=name=ether2", "!done"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%q want=%q", got, want)
	}
}

func TestReadSentenceSkipsEmptyFrames(t *testing.T) {
	tr := &chunkTransport{chunks: [][]byte{{0x00}, sentence("!done")}}
	c := NewConn(tr, DefaultLimits(), testlog.Start(t))
	got, err := c.ReadSentence(true)
	if err != nil {
		t.Fatalf("read sentence: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"!done"}) {
		t.Fatalf("got=%q", got)
	}
}

func TestReadSentenceTruncatedWord(t *testing.T) {
	tr := &chunkTransport{chunks: [][]byte{[]byte("\x05!do")}}
	c := NewConn(tr, DefaultLimits(), testlog.Start(t))
	_, err := c.ReadSentence(true)
	if !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReadSentenceEOFBeforeReply(t *testing.T) {
	c := NewConn(&chunkTransport{}, DefaultLimits(), testlog.Start(t))
	_, err := c.ReadSentence(true)
	if !errors.Is(err, protocol.ErrTruncated) || !errors.Is(err, io.EOF) {
		t.Fatalf("expected truncated EOF, got %v", err)
	}
}

func TestReadSentenceWordTooLarge(t *testing.T) {
	tr := &chunkTransport{chunks: [][]byte{sentence("!done")}}
	c := NewConn(tr, Limits{MaxWordBytes: 3}, testlog.Start(t))
	_, err := c.ReadSentence(true)
	if !errors.Is(err, ErrWordTooLarge) {
		t.Fatalf("expected ErrWordTooLarge, got %v", err)
	}
}

func TestReadSentenceFiveBytePrefixOverLimit(t *testing.T) {
	tr := &chunkTransport{chunks: [][]byte{{0xF0, 0x80, 0x00, 0x00, 0x00, '!'}}}
	c := NewConn(tr, DefaultLimits(), testlog.Start(t))
	words, err := c.ReadSentence(true)
	if !errors.Is(err, ErrWordTooLarge) && !errors.Is(err, protocol.ErrInvalidLength) {
		t.Fatalf("expected oversized word to be rejected, got words=%q err=%v", words, err)
	}
	if len(words) != 0 {
		t.Fatalf("expected no words, got=%q", words)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	w := &chunkTransport{}
	c := NewConn(w, DefaultLimits(), testlog.Start(t))
	if err := c.WriteSentence([]string{"!re", "=name=bridge", "!done"}, Close); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := &chunkTransport{chunks: [][]byte{w.out.Bytes()}}
	got, err := NewConn(r, DefaultLimits(), testlog.Start(t)).ReadSentence(true)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"!re", "=name=bridge", "!done"}) {
		t.Fatalf("got=%q", got)
	}
}
