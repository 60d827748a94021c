// Package reply turns raw reply words into structured results.
package reply

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/mikrolink/internal/protocol"
)

// Row is one attribute map.
type Row map[string]string

type Kind int

const (
	KindEmpty Kind = iota
	KindRows
	KindError
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindRows:
		return "rows"
	case KindError:
		return "error"
	case KindScalar:
		return "scalar"
	default:
		return "empty"
	}
}

// Reply is the parsed result of one command exchange.
//
// Rows holds one Row per "!re" sentence. Errors holds at most one Row per
// "!trap"/"!fatal" marker; a repeated marker keeps writing into the same Row.
// Scalar is only set when neither rows nor errors were produced and a "ret"
// attribute was seen.
type Reply struct {
	Rows     []Row
	Errors   map[string]Row
	Scalar   string
	IsScalar bool
}

func (r Reply) Kind() Kind {
	switch {
	case r.IsScalar:
		return KindScalar
	case len(r.Errors) > 0:
		return KindError
	case len(r.Rows) > 0:
		return KindRows
	default:
		return KindEmpty
	}
}

// Err returns the command error carried by the reply, if any. "!fatal" wins
// over "!trap".
func (r Reply) Err() error {
	for _, marker := range []string{protocol.WordFatal, protocol.WordTrap} {
		if row, ok := r.Errors[marker]; ok {
			return &CommandError{Category: marker, Attrs: row}
		}
	}
	return nil
}

// First returns the first row, or nil.
func (r Reply) First() Row {
	if len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

// Column returns key's value from every row that has it.
func (r Reply) Column(key string) []string {
	var out []string
	for _, row := range r.Rows {
		if v, ok := row[key]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Keys returns the union of row keys in sorted order.
func (r Reply) Keys() []string {
	seen := map[string]struct{}{}
	for _, row := range r.Rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CommandError is a "!trap" or "!fatal" reply.
type CommandError struct {
	Category string
	Attrs    Row
}

func (e *CommandError) Message() string {
	return e.Attrs[protocol.AttrMessage]
}

func (e *CommandError) Error() string {
	msg := e.Message()
	if msg == "" {
		return fmt.Sprintf("reply: %s", strings.TrimPrefix(e.Category, "!"))
	}
	return fmt.Sprintf("reply: %s: %s", strings.TrimPrefix(e.Category, "!"), msg)
}

type slotKind uint8

const (
	slotNone slotKind = iota
	slotRow
	slotError
)

// slot names the map attribute words are currently written into.
type slot struct {
	kind   slotKind
	row    int
	marker string
}

type builder struct {
	reply   Reply
	current slot
	scratch Row
	ret     string
	hasRet  bool
}

func (b *builder) target() Row {
	switch b.current.kind {
	case slotRow:
		return b.reply.Rows[b.current.row]
	case slotError:
		return b.reply.Errors[b.current.marker]
	default:
		if b.scratch == nil {
			b.scratch = Row{}
		}
		return b.scratch
	}
}

func (b *builder) control(word string) {
	if word == protocol.WordRe {
		b.reply.Rows = append(b.reply.Rows, Row{})
		b.current = slot{kind: slotRow, row: len(b.reply.Rows) - 1}
		return
	}
	if b.reply.Errors == nil {
		b.reply.Errors = map[string]Row{}
	}
	if _, ok := b.reply.Errors[word]; !ok {
		b.reply.Errors[word] = Row{}
	}
	b.current = slot{kind: slotError, marker: word}
}

func (b *builder) attribute(word string) {
	key, value := protocol.SplitAttribute(word)
	if key == "" {
		return
	}
	if key == protocol.AttrRet {
		b.ret = value
		b.hasRet = true
	}
	b.target()[key] = value
}

// Parse classifies the words of one command exchange.
func Parse(words []string) Reply {
	var b builder
	for _, w := range words {
		switch w {
		case protocol.WordRe, protocol.WordTrap, protocol.WordFatal:
			b.control(w)
		case protocol.WordDone:
		default:
			b.attribute(w)
		}
	}
	if len(b.reply.Rows) == 0 && len(b.reply.Errors) == 0 && b.hasRet {
		return Reply{Scalar: b.ret, IsScalar: true}
	}
	return b.reply
}
