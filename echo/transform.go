// Package echo holds the transform the echo server applies to every message.
package echo

import (
	"unicode"
	"unicode/utf8"
)

// Transform returns msg with every decodable rune folded to upper case.
// Bytes that are not valid UTF-8 are copied through unchanged, so the
// transform never fails. Applying it twice gives the same result as once.
//
// Parameters:
//   - msg: The received message bytes
//
// Returns:
//   - A new slice holding the reply bytes; msg is not modified
func Transform(msg []byte) []byte {
	out := make([]byte, 0, len(msg))
	for i := 0; i < len(msg); {
		b := msg[i]
		if b < utf8.RuneSelf {
			if 'a' <= b && b <= 'z' {
				b -= 'a' - 'A'
			}

			out = append(out, b)
			i++
			continue
		}

		r, size := utf8.DecodeRune(msg[i:])
		if r == utf8.RuneError && size <= 1 {
			out = append(out, b)
			i++
			continue
		}

		out = utf8.AppendRune(out, unicode.ToUpper(r))
		i += size
	}

	return out
}
