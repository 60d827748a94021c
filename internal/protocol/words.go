package protocol

import (
	"sort"
	"strconv"
	"strings"
)

// Control words open (or close) a reply sentence.
const (
	WordDone  = "!done"
	WordRe    = "!re"
	WordTrap  = "!trap"
	WordFatal = "!fatal"
)

// Attribute keys with protocol meaning.
const (
	AttrRet     = "ret"
	AttrMessage = "message"
	AttrTag     = ".tag"
)

// IsControl reports whether word is a reply control word.
func IsControl(word string) bool {
	switch word {
	case WordDone, WordRe, WordTrap, WordFatal:
		return true
	}
	return false
}

// SplitAttribute splits an attribute word into key and value.
//
// Both the wire form "=key=value" and the bare form "key=value" are accepted.
// Only the first '=' after the key separates; the value keeps any further '='.
// A word without a separator yields an empty value.
func SplitAttribute(word string) (key, value string) {
	word = strings.TrimPrefix(word, "=")
	key, value, _ = strings.Cut(word, "=")
	return key, value
}

// AttributeWord returns the "=key=value" word.
func AttributeWord(key, value string) string {
	return "=" + key + "=" + value
}

// TagWord returns the ".tag=<n>" word.
func TagWord(tag int) string {
	return AttrTag + "=" + strconv.Itoa(tag)
}

// Param is one command parameter.
type Param struct {
	Key   string
	Value string
}

// ParamWord encodes a parameter by its key prefix:
// "?key" is a query filter, "~key" a regex filter, anything else an
// assignment. A key already carrying the leading '=' is not prefixed twice.
func ParamWord(p Param) string {
	switch {
	case strings.HasPrefix(p.Key, "?"):
		return p.Key + "=" + p.Value
	case strings.HasPrefix(p.Key, "~"):
		return p.Key + "~" + p.Value
	case strings.HasPrefix(p.Key, "="):
		return p.Key + "=" + p.Value
	default:
		return AttributeWord(p.Key, p.Value)
	}
}

// SortedParams returns the map's entries ordered by key.
func SortedParams(params map[string]string) []Param {
	out := make([]Param, 0, len(params))
	for k, v := range params {
		out = append(out, Param{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})
	return out
}
