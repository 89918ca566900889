package mapq

import (
	"errors"

	"github.com/calvinalkan/mapq/pkg/mapped"
)

// Sentinel errors returned by queue operations.
//
// Callers should use [errors.Is] to check error types. Errors from the
// mapping layer ([mapped.ErrIO], [mapped.ErrRegionsInUse], ...) are passed
// through wrapped.
var (
	// ErrFormat indicates the file is not a queue file (shorter than the
	// header) or holds malformed data.
	ErrFormat = errors.New("mapq: invalid file format")

	// ErrReadOnly indicates a write-side operation on a read-only queue.
	ErrReadOnly = errors.New("mapq: queue is read-only")

	// ErrAppenderExists indicates the queue's single appender was already
	// handed out. The permit is never returned, not even by closing the
	// appender.
	ErrAppenderExists = errors.New("mapq: appender already created")

	// ErrClosed indicates the queue, appender or enumerator was closed.
	ErrClosed = mapped.ErrClosed

	// ErrStringTooLong indicates a modified UTF-8 string whose encoding
	// exceeds 65535 bytes.
	ErrStringTooLong = errors.New("mapq: string too long")

	// ErrNoMessage indicates a read beyond the committed end of the log.
	//
	// Check [Enumerator.HasNextMessage] before reading a message.
	ErrNoMessage = errors.New("mapq: no committed data")
)
