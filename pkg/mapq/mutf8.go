package mapq

import (
	"fmt"
	"unicode/utf16"
)

// Modified UTF-8 as used by Java's DataOutput.writeUTF: the string is taken
// as UTF-16 code units; U+0001..U+007F take one byte, U+0000 and
// U+0080..U+07FF two bytes, everything else (including each half of a
// surrogate pair) three bytes.

// maxMUTF8Len is the largest encoded length a uint16 prefix can carry.
const maxMUTF8Len = 1<<16 - 1

// mutf8Units calls fn with each UTF-16 code unit of s.
func mutf8Units(s string, fn func(u uint16)) {
	for _, r := range s {
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			fn(uint16(hi))
			fn(uint16(lo))

			continue
		}

		fn(uint16(r))
	}
}

// mutf8Len returns the encoded length of s.
func mutf8Len(s string) int {
	n := 0

	mutf8Units(s, func(u uint16) { n += mutf8UnitLen(u) })

	return n
}

func mutf8UnitLen(u uint16) int {
	switch {
	case u >= 0x0001 && u <= 0x007F:
		return 1
	case u <= 0x07FF:
		return 2
	default:
		return 3
	}
}

// encodeMUTF8Unit writes the encoding of u into buf and returns its length.
func encodeMUTF8Unit(buf *[3]byte, u uint16) int {
	switch mutf8UnitLen(u) {
	case 1:
		buf[0] = byte(u)

		return 1
	case 2:
		buf[0] = byte(0xC0 | (u>>6)&0x1F)
		buf[1] = byte(0x80 | u&0x3F)

		return 2
	default:
		buf[0] = byte(0xE0 | (u>>12)&0x0F)
		buf[1] = byte(0x80 | (u>>6)&0x3F)
		buf[2] = byte(0x80 | u&0x3F)

		return 3
	}
}

// decodeMUTF8 decodes modified UTF-8. Unpaired surrogates decode to
// U+FFFD.
func decodeMUTF8(b []byte) (string, error) {
	units := make([]uint16, 0, len(b))

	for i := 0; i < len(b); {
		c := b[i]

		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++

		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", fmt.Errorf("modified utf-8: bad 2-byte sequence at %d: %w", i, ErrFormat)
			}

			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2

		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", fmt.Errorf("modified utf-8: bad 3-byte sequence at %d: %w", i, ErrFormat)
			}

			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3

		default:
			return "", fmt.Errorf("modified utf-8: bad lead byte 0x%02x at %d: %w", c, i, ErrFormat)
		}
	}

	return string(utf16.Decode(units)), nil
}
