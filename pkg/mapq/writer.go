package mapq

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// MessageWriter writes the fields of one message.
//
// Methods return the writer for chaining. The first failure is kept and
// turns every later call into a no-op, like [bufio.Writer]; check it with
// Err or when finishing the message.
type MessageWriter interface {
	PutBool(v bool) MessageWriter
	PutInt8(v int8) MessageWriter
	PutInt16(v int16) MessageWriter
	PutInt32(v int32) MessageWriter
	PutInt64(v int64) MessageWriter
	PutFloat32(v float32) MessageWriter
	PutFloat64(v float64) MessageWriter

	// PutChar writes c as one UTF-16 code unit. Runes outside the basic
	// multilingual plane are written as U+FFFD.
	PutChar(c rune) MessageWriter

	// PutCharASCII writes c as one byte, '?' when c is not ASCII.
	PutCharASCII(c rune) MessageWriter

	// PutStringASCII writes an int32 rune count followed by one byte per
	// rune, '?' for runes that are not ASCII.
	PutStringASCII(s string) MessageWriter

	// PutStringUTF8 writes a uint16 byte length followed by s in modified
	// UTF-8. Encodings longer than 65535 bytes fail with [ErrStringTooLong].
	PutStringUTF8(s string) MessageWriter

	// PutText writes an int32 byte length followed by the raw bytes of s.
	PutText(s string) MessageWriter

	Err() error
}

// writer implements MessageWriter on a cursor.
type writer struct {
	cur *cursor
	err error
}

var _ MessageWriter = (*writer)(nil)

func (w *writer) field(n int) []byte {
	if w.err != nil {
		return nil
	}

	buf, err := w.cur.advance(n)
	if err != nil {
		w.err = fmt.Errorf("write at %d: %w", w.cur.Position(), err)

		return nil
	}

	return buf
}

func (w *writer) Err() error { return w.err }

func (w *writer) PutBool(v bool) MessageWriter {
	var b int8
	if v {
		b = 1
	}

	return w.PutInt8(b)
}

func (w *writer) PutInt8(v int8) MessageWriter {
	if buf := w.field(1); buf != nil {
		buf[0] = byte(v)
	}

	return w
}

func (w *writer) PutInt16(v int16) MessageWriter {
	if buf := w.field(2); buf != nil {
		binary.NativeEndian.PutUint16(buf, uint16(v))
	}

	return w
}

func (w *writer) PutInt32(v int32) MessageWriter {
	if buf := w.field(4); buf != nil {
		binary.NativeEndian.PutUint32(buf, uint32(v))
	}

	return w
}

func (w *writer) PutInt64(v int64) MessageWriter {
	if buf := w.field(8); buf != nil {
		binary.NativeEndian.PutUint64(buf, uint64(v))
	}

	return w
}

func (w *writer) PutFloat32(v float32) MessageWriter {
	return w.PutInt32(int32(math.Float32bits(v)))
}

func (w *writer) PutFloat64(v float64) MessageWriter {
	return w.PutInt64(int64(math.Float64bits(v)))
}

func (w *writer) PutChar(c rune) MessageWriter {
	if c < 0 || c > 0xFFFF {
		c = utf8.RuneError
	}

	return w.PutInt16(int16(uint16(c)))
}

func (w *writer) PutCharASCII(c rune) MessageWriter {
	return w.PutInt8(int8(asciiByte(c)))
}

func (w *writer) PutStringASCII(s string) MessageWriter {
	n := utf8.RuneCountInString(s)
	if n > math.MaxInt32 {
		w.fail(fmt.Errorf("ascii string of %d runes: %w", n, ErrStringTooLong))

		return w
	}

	w.PutInt32(int32(n))

	rest, remaining := s, n
	for remaining > 0 && w.err == nil {
		buf := w.bytes(remaining)
		remaining -= len(buf)

		for i := range buf {
			r, size := utf8.DecodeRuneInString(rest)
			buf[i] = asciiByte(r)
			rest = rest[size:]
		}
	}

	return w
}

func (w *writer) PutStringUTF8(s string) MessageWriter {
	n := mutf8Len(s)
	if n > maxMUTF8Len {
		w.fail(fmt.Errorf("modified utf-8 encoding of %d bytes: %w", n, ErrStringTooLong))

		return w
	}

	w.PutInt16(int16(uint16(n)))

	var enc [3]byte

	mutf8Units(s, func(u uint16) {
		k := encodeMUTF8Unit(&enc, u)
		w.write(enc[:k])
	})

	return w
}

func (w *writer) PutText(s string) MessageWriter {
	if len(s) > math.MaxInt32 {
		w.fail(fmt.Errorf("string of %d bytes: %w", len(s), ErrStringTooLong))

		return w
	}

	w.PutInt32(int32(len(s)))

	rest := s
	for rest != "" && w.err == nil {
		buf := w.bytes(len(rest))
		rest = rest[copy(buf, rest):]
	}

	return w
}

// bytes returns the next 1..n bytes of byte-granular data.
func (w *writer) bytes(n int) []byte {
	if w.err != nil {
		return nil
	}

	buf, err := w.cur.advanceUpTo(n)
	if err != nil {
		w.err = fmt.Errorf("write at %d: %w", w.cur.Position(), err)

		return nil
	}

	return buf
}

// write copies p as byte-granular data.
func (w *writer) write(p []byte) {
	for len(p) > 0 && w.err == nil {
		buf := w.bytes(len(p))
		p = p[copy(buf, p):]
	}
}

func (w *writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func asciiByte(r rune) byte {
	if r < 0 || r >= utf8.RuneSelf {
		return '?'
	}

	return byte(r)
}
