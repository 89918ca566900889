// Package mapq implements a persistent one-to-many message log on a
// memory-mapped file.
//
// One [Appender] writes messages field by field; any number of
// [Enumerator]s, in the same or other processes, read them back in order.
// Fields go straight into the shared mapping, so reads and writes are plain
// memory accesses without system calls on the steady-state path.
//
// # Usage
//
//	q, err := mapq.CreateOrReplace("/tmp/quotes.mq")
//	if err != nil {
//		return err
//	}
//	defer q.Close()
//
//	app, err := q.Appender()
//	if err != nil {
//		return err
//	}
//	defer app.Close()
//
//	app.PutInt64(time.Now().UnixNano()).PutFloat64(1.0835).PutStringASCII("EURUSD")
//	if err := app.FinishWriteMessage(); err != nil {
//		return err
//	}
//
//	e, err := q.Enumerator()
//	...
//	for e.HasNextMessage() {
//		ts, px, sym := e.Int64(), e.Float64(), e.StringASCII()
//		if _, err := e.FinishReadMessage(); err != nil {
//			return err
//		}
//	}
//
// # File format
//
// The file starts with an 8-byte header holding the end position of the
// last committed message, or -1 when nothing was committed. Messages follow
// back to back from offset 8. Values are stored in native byte order. A
// field never straddles two regions; a field that does not fit into the
// rest of a region starts at the next region boundary. The region size is
// therefore part of the format and must be the same for every opener.
//
// Message framing (lengths, types, trailers) is left to the caller: readers
// must read exactly the fields the writer wrote, in the same order.
//
// # Concurrency
//
// A [Queue] is safe for concurrent use. Each [Appender] and [Enumerator]
// belongs to one goroutine. A queue hands out one appender for its whole
// lifetime; two processes appending to the same file are not coordinated
// and must be prevented by the caller (the mapq CLI uses a lock file).
package mapq
