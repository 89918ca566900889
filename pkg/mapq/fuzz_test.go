package mapq_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/mapq/internal/testutil"
	"github.com/calvinalkan/mapq/pkg/mapq"
)

func FuzzQueue_RoundTrip_Returns_Written_Fields(f *testing.F) {
	f.Add([]byte{0})
	f.Add([]byte{3, 5, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	f.Add([]byte("0123456789abcdefghijklmnopqrstuvwxyz"))
	f.Add([]byte{255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 10, 11, 9, 0x80, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		s := testutil.NewByteStream(data)

		regionSize := int64(8 * (1 + s.NextInt(32)))

		var messages [][]testutil.Field
		for s.HasMore() && len(messages) < 64 {
			messages = append(messages, s.NextMessage(8))
		}

		path := queuePath(t)
		opts := []mapq.Option{mapq.WithRegionSize(regionSize)}

		q, err := mapq.CreateOrReplace(path, opts...)
		if err != nil {
			t.Fatalf("CreateOrReplace: %v", err)
		}

		a, err := q.Appender()
		if err != nil {
			t.Fatalf("Appender: %v", err)
		}

		for _, msg := range messages {
			for _, fld := range msg {
				testutil.Write(a, fld)
			}

			if err := a.FinishWriteMessage(); err != nil {
				t.Fatalf("FinishWriteMessage(region=%d): %v", regionSize, err)
			}
		}

		e, err := q.Enumerator()
		if err != nil {
			t.Fatalf("Enumerator: %v", err)
		}

		var got [][]testutil.Field

		for e.HasNextMessage() {
			want := messages[len(got)]
			msg := make([]testutil.Field, 0, len(want))

			for _, fld := range want {
				msg = append(msg, testutil.Read(e, fld.Kind))
			}

			if _, err := e.FinishReadMessage(); err != nil {
				t.Fatalf("FinishReadMessage(message=%d): %v", len(got), err)
			}

			got = append(got, msg)

			if len(got) == len(messages) {
				break
			}
		}

		if e.HasNextMessage() {
			t.Fatalf("HasNextMessage=true after %d messages", len(got))
		}

		if diff := cmp.Diff(messages, got); diff != "" {
			t.Fatalf("round trip mismatch (region=%d) (-want +got):\n%s", regionSize, diff)
		}

		if got, want := e.Position(), a.Position(); got != want {
			t.Fatalf("enumerator position=%d, want=%d", got, want)
		}

		_ = e.Close()
		_ = a.Close()

		if err := q.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
}
