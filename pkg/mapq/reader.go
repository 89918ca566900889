package mapq

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// MessageReader reads the fields of one message in the order they were
// written.
//
// The first failure is kept and every later read returns the zero value;
// check it with Err or FinishReadMessage.
type MessageReader interface {
	Bool() bool
	Int8() int8
	Int8AsInt() int
	Int16() int16
	Int16AsInt() int
	Int32() int32
	Int64() int64
	Float32() float32
	Float64() float64
	Char() rune
	CharASCII() byte
	StringASCII() string
	StringUTF8() string

	// Text reads a string written with [MessageWriter.PutText]. It is not
	// named String so readers never satisfy [fmt.Stringer].
	Text() string

	Err() error

	// FinishReadMessage marks the current message as consumed and returns
	// the position of the next one. Callers must call it before reading the
	// next message.
	FinishReadMessage() (Sequencer, error)
}

// reader implements MessageReader on a cursor.
type reader struct {
	cur *cursor
	err error
}

var _ MessageReader = (*reader)(nil)

func (r *reader) field(n int) []byte {
	if r.err != nil {
		return nil
	}

	buf, err := r.cur.advance(n)
	if err != nil {
		r.err = fmt.Errorf("read at %d: %w", r.cur.Position(), err)

		return nil
	}

	return buf
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}

	buf, err := r.cur.advanceUpTo(n)
	if err != nil {
		r.err = fmt.Errorf("read at %d: %w", r.cur.Position(), err)

		return nil
	}

	return buf
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) Err() error { return r.err }

func (r *reader) FinishReadMessage() (Sequencer, error) {
	return r.cur, r.err
}

func (r *reader) Bool() bool { return r.Int8() != 0 }

func (r *reader) Int8() int8 {
	if buf := r.field(1); buf != nil {
		return int8(buf[0])
	}

	return 0
}

func (r *reader) Int8AsInt() int { return int(r.Int8()) }

func (r *reader) Int16() int16 {
	if buf := r.field(2); buf != nil {
		return int16(binary.NativeEndian.Uint16(buf))
	}

	return 0
}

func (r *reader) Int16AsInt() int { return int(r.Int16()) }

func (r *reader) Int32() int32 {
	if buf := r.field(4); buf != nil {
		return int32(binary.NativeEndian.Uint32(buf))
	}

	return 0
}

func (r *reader) Int64() int64 {
	if buf := r.field(8); buf != nil {
		return int64(binary.NativeEndian.Uint64(buf))
	}

	return 0
}

func (r *reader) Float32() float32 { return math.Float32frombits(uint32(r.Int32())) }

func (r *reader) Float64() float64 { return math.Float64frombits(uint64(r.Int64())) }

func (r *reader) Char() rune { return rune(uint16(r.Int16())) }

func (r *reader) CharASCII() byte { return byte(r.Int8()) }

func (r *reader) StringASCII() string {
	n := r.length32("ascii string")

	return r.readString(n)
}

func (r *reader) Text() string {
	n := r.length32("text")

	return r.readString(n)
}

func (r *reader) StringUTF8() string {
	n := int(uint16(r.Int16()))
	if r.err != nil || n == 0 || !r.available(n) {
		return ""
	}

	buf := make([]byte, 0, n)
	for len(buf) < n && r.err == nil {
		buf = append(buf, r.bytes(n-len(buf))...)
	}

	if r.err != nil {
		return ""
	}

	s, err := decodeMUTF8(buf)
	if err != nil {
		r.fail(err)

		return ""
	}

	return s
}

func (r *reader) length32(what string) int {
	n := r.Int32()
	if n < 0 {
		r.fail(fmt.Errorf("%s length %d at %d: %w", what, n, r.cur.Position(), ErrFormat))

		return 0
	}

	return int(n)
}

// available fails the reader unless n more bytes are readable. Length
// prefixes are checked before anything is allocated for them.
func (r *reader) available(n int) bool {
	err := r.cur.check(n)
	if err != nil {
		r.fail(fmt.Errorf("read %d bytes at %d: %w", n, r.cur.Position(), err))

		return false
	}

	return true
}

func (r *reader) readString(n int) string {
	if r.err != nil || n == 0 || !r.available(n) {
		return ""
	}

	var sb strings.Builder

	sb.Grow(n)

	for sb.Len() < n && r.err == nil {
		sb.Write(r.bytes(n - sb.Len()))
	}

	if r.err != nil {
		return ""
	}

	return sb.String()
}
