package testutil

import (
	"math"

	"github.com/calvinalkan/mapq/pkg/mapq"
)

// Kind is the wire type of a generated field.
type Kind int

// Field kinds, one per writer method.
const (
	KindBool Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindChar
	KindCharASCII
	KindStringASCII
	KindStringUTF8
	KindText
	kindCount
)

// Field is one generated value. Only the member matching Kind is used.
type Field struct {
	Kind Kind
	Int  int64
	F64  float64
	Str  string
}

// NextMessage returns a message of 1..maxFields fields.
func (s *ByteStream) NextMessage(maxFields int) []Field {
	fields := make([]Field, 1+s.NextInt(maxFields))

	for i := range fields {
		fields[i] = s.nextField()
	}

	return fields
}

func (s *ByteStream) nextField() Field {
	k := Kind(s.NextInt(int(kindCount)))

	switch k {
	case KindStringASCII:
		b := make([]byte, s.NextInt(40))
		for i := range b {
			b[i] = s.NextByte() & 0x7F
		}

		return Field{Kind: k, Str: string(b)}
	case KindStringUTF8, KindText:
		return Field{Kind: k, Str: s.NextText(40)}
	case KindFloat64:
		return Field{Kind: k, F64: s.NextFloat64()}
	}

	raw := s.NextUint64()

	switch k {
	case KindBool:
		return Field{Kind: k, Int: int64(raw & 1)}
	case KindInt8:
		return Field{Kind: k, Int: int64(int8(raw))}
	case KindInt16:
		return Field{Kind: k, Int: int64(int16(raw))}
	case KindInt32:
		return Field{Kind: k, Int: int64(int32(raw))}
	case KindFloat32:
		f := math.Float32frombits(uint32(raw))
		if math.IsNaN(float64(f)) {
			f = 0
		}

		return Field{Kind: k, F64: float64(f)}
	case KindChar:
		// Surrogate halves are not valid runes.
		c := int64(raw & 0xFFFF)
		if c >= 0xD800 && c <= 0xDFFF {
			c = 'x'
		}

		return Field{Kind: k, Int: c}
	case KindCharASCII:
		return Field{Kind: k, Int: int64(raw & 0x7F)}
	default:
		return Field{Kind: KindInt64, Int: int64(raw)}
	}
}

// Write writes f through w.
func Write(w mapq.MessageWriter, f Field) {
	switch f.Kind {
	case KindBool:
		w.PutBool(f.Int != 0)
	case KindInt8:
		w.PutInt8(int8(f.Int))
	case KindInt16:
		w.PutInt16(int16(f.Int))
	case KindInt32:
		w.PutInt32(int32(f.Int))
	case KindInt64:
		w.PutInt64(f.Int)
	case KindFloat32:
		w.PutFloat32(float32(f.F64))
	case KindFloat64:
		w.PutFloat64(f.F64)
	case KindChar:
		w.PutChar(rune(f.Int))
	case KindCharASCII:
		w.PutCharASCII(rune(f.Int))
	case KindStringASCII:
		w.PutStringASCII(f.Str)
	case KindStringUTF8:
		w.PutStringUTF8(f.Str)
	default:
		w.PutText(f.Str)
	}
}

// Read reads a field of kind k from r.
func Read(r mapq.MessageReader, k Kind) Field {
	switch k {
	case KindBool:
		var v int64
		if r.Bool() {
			v = 1
		}

		return Field{Kind: k, Int: v}
	case KindInt8:
		return Field{Kind: k, Int: int64(r.Int8())}
	case KindInt16:
		return Field{Kind: k, Int: int64(r.Int16())}
	case KindInt32:
		return Field{Kind: k, Int: int64(r.Int32())}
	case KindInt64:
		return Field{Kind: k, Int: r.Int64()}
	case KindFloat32:
		return Field{Kind: k, F64: float64(r.Float32())}
	case KindFloat64:
		return Field{Kind: k, F64: r.Float64()}
	case KindChar:
		return Field{Kind: k, Int: int64(r.Char())}
	case KindCharASCII:
		return Field{Kind: k, Int: int64(r.CharASCII())}
	case KindStringASCII:
		return Field{Kind: k, Str: r.StringASCII()}
	case KindStringUTF8:
		return Field{Kind: k, Str: r.StringUTF8()}
	default:
		return Field{Kind: k, Str: r.Text()}
	}
}
