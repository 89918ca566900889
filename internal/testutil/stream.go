// Package testutil derives deterministic test inputs from fuzz bytes.
package testutil

import (
	"encoding/binary"
	"math"
)

// ByteStream reads bytes sequentially from a byte slice.
//
// When the stream is exhausted all reads return zero values, so the same
// input always produces the same sequence of values.
type ByteStream struct {
	bytes []byte
	pos   int
}

// NewByteStream creates a stream over b.
func NewByteStream(b []byte) *ByteStream {
	return &ByteStream{bytes: b}
}

// HasMore reports whether unread bytes remain.
func (s *ByteStream) HasMore() bool {
	return s.pos < len(s.bytes)
}

// NextByte returns the next byte, or 0 if exhausted.
func (s *ByteStream) NextByte() byte {
	if s.pos >= len(s.bytes) {
		return 0
	}

	v := s.bytes[s.pos]
	s.pos++

	return v
}

// NextInt returns a value in [0, maxVal) derived from the next byte.
func (s *ByteStream) NextInt(maxVal int) int {
	if maxVal <= 0 {
		return 0
	}

	return int(s.NextByte()) % maxVal
}

// NextUint64 returns the next 8 bytes as a little-endian value, zero padded.
func (s *ByteStream) NextUint64() uint64 {
	var buf [8]byte
	for i := range buf {
		buf[i] = s.NextByte()
	}

	return binary.LittleEndian.Uint64(buf[:])
}

// NextFloat64 returns a float64 that compares equal to itself.
// NaN bit patterns are mapped to zero.
func (s *ByteStream) NextFloat64() float64 {
	f := math.Float64frombits(s.NextUint64())
	if math.IsNaN(f) {
		return 0
	}

	return f
}

var textAlphabet = []rune{0, 'a', 'Z', '7', ' ', 'é', 'ß', 'ÿ', '€', '✓', '語', '😀', '𝄞'}

// NextText returns a string of up to maxLen runes mixing ASCII, Latin-1,
// BMP and supplementary characters, including U+0000.
func (s *ByteStream) NextText(maxLen int) string {
	out := make([]rune, s.NextInt(maxLen+1))

	for i := range out {
		out[i] = textAlphabet[s.NextInt(len(textAlphabet))]
	}

	return string(out)
}
