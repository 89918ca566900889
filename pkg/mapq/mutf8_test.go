package mapq

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func encodeMUTF8(s string) []byte {
	var (
		out []byte
		enc [3]byte
	)

	mutf8Units(s, func(u uint16) {
		k := encodeMUTF8Unit(&enc, u)
		out = append(out, enc[:k]...)
	})

	return out
}

func Test_EncodeMUTF8_Matches_Java_Encoding(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want []byte
	}{
		{"", nil},
		{"abc", []byte("abc")},
		{"\x00", []byte{0xC0, 0x80}},
		{"é", []byte{0xC3, 0xA9}},
		{"€", []byte{0xE2, 0x82, 0xAC}},
		{"😀", []byte{0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80}},
	}

	for _, tc := range cases {
		got := encodeMUTF8(tc.in)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("encode(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}

		if n := mutf8Len(tc.in); n != len(tc.want) {
			t.Fatalf("mutf8Len(%q)=%d, want %d", tc.in, n, len(tc.want))
		}

		back, err := decodeMUTF8(got)
		if err != nil {
			t.Fatalf("decode(%q): %v", tc.in, err)
		}

		if back != tc.in {
			t.Fatalf("decode(encode(%q))=%q", tc.in, back)
		}
	}
}

func Test_DecodeMUTF8_Returns_ErrFormat_When_Sequence_Is_Truncated(t *testing.T) {
	t.Parallel()

	for _, in := range [][]byte{{0xC3}, {0xE2, 0x82}, {0xFF}, {0xC3, 0x41}} {
		_, err := decodeMUTF8(in)
		if !errors.Is(err, ErrFormat) {
			t.Fatalf("decode(% x) error=%v, want ErrFormat", in, err)
		}
	}
}

func FuzzMUTF8_RoundTrip(f *testing.F) {
	f.Add("hello")
	f.Add("\x00߿ࠀ￿")
	f.Add("𝄞 clef")

	f.Fuzz(func(t *testing.T, s string) {
		got, err := decodeMUTF8(encodeMUTF8(s))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}

		// Invalid UTF-8 input bytes become U+FFFD on the way in.
		want := string([]rune(s))
		if got != want {
			t.Fatalf("round trip %q -> %q, want %q", s, got, want)
		}
	})
}
