package frame

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/mikrolink/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	ErrWordTooLarge = errors.New("frame: word too large")
	ErrEmptyWord    = errors.New("frame: empty word")
)

// Transport is the byte stream a Conn frames words over.
//
// Pending reports how many bytes can be read without blocking. ReadSentence
// uses it as the end-of-sentence signal.
type Transport interface {
	io.Reader
	io.Writer
	Pending() (int, error)
}

// Limits constrains word decode memory use.
type Limits struct {
	MaxWordBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxWordBytes: 16 * 1024 * 1024,
	}
}

type terminatorKind uint8

const (
	termOpen terminatorKind = iota
	termClose
	termTagged
)

// Terminator selects what WriteSentence emits after the words.
type Terminator struct {
	kind terminatorKind
	tag  int
}

var (
	// Open leaves the sentence unterminated so more words can follow.
	Open = Terminator{kind: termOpen}
	// Close ends the sentence with a zero-length word.
	Close = Terminator{kind: termClose}
)

// Tagged ends the sentence with a ".tag=<n>" word and a zero-length word.
func Tagged(tag int) Terminator {
	return Terminator{kind: termTagged, tag: tag}
}

func (t Terminator) String() string {
	switch t.kind {
	case termClose:
		return "close"
	case termTagged:
		return fmt.Sprintf("tag=%d", t.tag)
	default:
		return "open"
	}
}

// Conn reads and writes words over one Transport. It is not safe for
// concurrent use.
type Conn struct {
	t      Transport
	limits Limits
	log    zerolog.Logger
}

func NewConn(t Transport, limits Limits, log zerolog.Logger) *Conn {
	if limits.MaxWordBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Conn{t: t, limits: limits, log: log}
}

// WriteWord writes word as one length-prefixed word per line. Lines are split
// on '\n' and trimmed, so multi-line text becomes several words.
func (c *Conn) WriteWord(word string) error {
	buf, err := c.appendWord(nil, word)
	if err != nil {
		return err
	}
	_, err = c.t.Write(buf)
	return err
}

// WriteSentence writes words in order followed by the terminator.
func (c *Conn) WriteSentence(words []string, end Terminator) error {
	var (
		buf []byte
		err error
	)
	for _, w := range words {
		if buf, err = c.appendWord(buf, w); err != nil {
			return err
		}
	}
	switch end.kind {
	case termTagged:
		tag := protocol.TagWord(end.tag)
		if buf, err = protocol.AppendLength(buf, len(tag)); err != nil {
			return err
		}
		buf = append(buf, tag...)
		buf = append(buf, 0)
		c.log.Debug().Msgf("<<< [%d] %s", len(tag), tag)
	case termClose:
		buf = append(buf, 0)
	}
	if len(buf) == 0 {
		return nil
	}
	_, err = c.t.Write(buf)
	return err
}

func (c *Conn) appendWord(dst []byte, word string) ([]byte, error) {
	if word == "" {
		return dst, ErrEmptyWord
	}
	for _, line := range strings.Split(word, "\n") {
		line = strings.TrimSpace(line)
		var err error
		if dst, err = protocol.AppendLength(dst, len(line)); err != nil {
			return dst, err
		}
		dst = append(dst, line...)
		c.log.Debug().Msgf("<<< [%d] %s", len(line), redact(line))
	}
	return dst, nil
}

// ReadSentence reads words until the reply is complete.
//
// Before login completes the loop ends as soon as no bytes are pending, even
// without a "!done" word: some router versions end the first login reply
// that way. Once authenticated it also requires "!done" to have been seen.
// Zero-length words are sentence boundaries and are not returned.
func (c *Conn) ReadSentence(authenticated bool) ([]string, error) {
	var words []string
	sawDone := false
	for {
		n, err := protocol.DecodeLength(c.t)
		if err != nil {
			return words, readErr(err)
		}
		if n < 0 || n > c.limits.MaxWordBytes {
			return words, fmt.Errorf("%w: %d bytes", ErrWordTooLarge, n)
		}

		var word string
		if n > 0 {
			buf := make([]byte, n)
			if _, err := io.ReadFull(c.t, buf); err != nil {
				return words, readErr(err)
			}
			word = string(buf)
			words = append(words, word)
		}
		if word == protocol.WordDone {
			sawDone = true
		}

		pending, err := c.t.Pending()
		if err != nil {
			return words, err
		}
		if n > 0 {
			c.log.Debug().Msgf(">>> [%d, %d] %s", n, pending, word)
		}
		if pending == 0 && (!authenticated || sawDone) {
			return words, nil
		}
	}
}

func readErr(err error) error {
	if errors.Is(err, protocol.ErrTruncated) || errors.Is(err, protocol.ErrInvalidLength) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", protocol.ErrTruncated, err)
	}
	return err
}

func redact(line string) string {
	if strings.HasPrefix(line, "=password=") {
		return "=password=***"
	}
	return line
}
