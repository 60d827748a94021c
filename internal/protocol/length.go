package protocol

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxLength is the largest word length the five byte prefix can carry.
const MaxLength = 0xFFFFFFFF

const (
	oneByteLimit   = 0x80
	twoByteLimit   = 0x4000
	threeByteLimit = 0x200000
	fourByteLimit  = 0x10000000

	fiveByteMarker = 0xF0
)

// PrefixLen returns the number of bytes EncodeLength emits for n.
func PrefixLen(n int) int {
	switch {
	case n < oneByteLimit:
		return 1
	case n < twoByteLimit:
		return 2
	case n < threeByteLimit:
		return 3
	case n < fourByteLimit:
		return 4
	default:
		return 5
	}
}

// EncodeLength returns the length prefix for a word of n bytes.
func EncodeLength(n int) ([]byte, error) {
	return AppendLength(make([]byte, 0, 5), n)
}

// AppendLength appends the length prefix for n to dst.
func AppendLength(dst []byte, n int) ([]byte, error) {
	if n < 0 || uint64(n) > MaxLength {
		return dst, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	v := uint32(n)
	switch {
	case n < oneByteLimit:
		return append(dst, byte(v)), nil
	case n < twoByteLimit:
		v |= 0x8000
		return append(dst, byte(v>>8), byte(v)), nil
	case n < threeByteLimit:
		v |= 0xC00000
		return append(dst, byte(v>>16), byte(v>>8), byte(v)), nil
	case n < fourByteLimit:
		v |= 0xE0000000
		return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), nil
	default:
		return append(dst, fiveByteMarker, byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), nil
	}
}

// DecodeLength reads one length prefix from r.
//
// Bytes are consumed one at a time so that nothing past the prefix is taken
// from a live stream. A clean EOF before the first byte is reported as
// io.EOF; EOF anywhere after it is ErrTruncated. A length that does not fit
// in int (five byte prefixes on 32-bit targets) is ErrInvalidLength.
func DecodeLength(r io.Reader) (int, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	first := b[0]

	var extra int
	var n uint32
	switch {
	case first&0x80 == 0x00:
		return int(first), nil
	case first&0xC0 == 0x80:
		extra, n = 1, uint32(first&0x3F)
	case first&0xE0 == 0xC0:
		extra, n = 2, uint32(first&0x1F)
	case first&0xF0 == 0xE0:
		extra, n = 3, uint32(first&0x0F)
	case first == fiveByteMarker:
		extra, n = 4, 0
	default:
		// 0xF1..0xFF are control bytes, never a length.
		return 0, fmt.Errorf("%w: prefix byte 0x%02x", ErrInvalidLength, first)
	}

	for i := 0; i < extra; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, fmt.Errorf("%w: length prefix", ErrTruncated)
			}
			return 0, err
		}
		n = n<<8 | uint32(b[0])
	}
	if uint64(n) > math.MaxInt {
		return 0, fmt.Errorf("%w: %d does not fit in int", ErrInvalidLength, n)
	}
	return int(n), nil
}
