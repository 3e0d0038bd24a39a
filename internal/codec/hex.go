// Package codec converts raw bytecode to and from the space-separated
// "0xHH" text form used to move binary data through text fields.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFormat is returned when a hex sentence contains a malformed token.
var ErrFormat = errors.New("malformed hex sentence")

const hexDigits = "0123456789abcdef"

// EncodeHex renders b as "0xHH" tokens separated by single spaces.
func EncodeHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(5*len(b) - 1)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString("0x")
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0f])
	}
	return sb.String()
}

// DecodeHex parses a whitespace-separated sequence of "0xHH" tokens.
// Empty or whitespace-only input yields an empty slice.
func DecodeHex(s string) ([]byte, error) {
	tokens := strings.Fields(s)
	out := make([]byte, len(tokens))
	for i, tok := range tokens {
		if len(tok) != 4 || !strings.HasPrefix(tok, "0x") {
			return nil, fmt.Errorf("%w: token %d %q", ErrFormat, i, tok)
		}
		hi, ok1 := nibble(tok[2])
		lo, ok2 := nibble(tok[3])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: token %d %q", ErrFormat, i, tok)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
