package mapq

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/mapq/pkg/mapped"
)

// Appender writes messages to the end of the log.
//
// Fields written through the embedded [MessageWriter] become visible to
// enumerators only after [Appender.FinishWriteMessage]. An Appender is not
// safe for concurrent use; a queue has at most one.
type Appender struct {
	writer

	q      *Queue
	header *mapped.Region
	closed bool
}

var _ MessageWriter = (*Appender)(nil)

func newAppender(q *Queue) (*Appender, error) {
	header, err := q.file.Reserve(0)
	if err != nil {
		return nil, fmt.Errorf("appender: %w", err)
	}

	committed, err := loadCommitted(header)
	if err != nil {
		_ = q.file.Release(header)

		return nil, fmt.Errorf("appender: %w", err)
	}

	return &Appender{
		writer: writer{cur: newCursor(q.file, committed)},
		q:      q,
		header: header,
	}, nil
}

// Position returns the logical offset the next field is written at, before
// any region-boundary relocation.
func (a *Appender) Position() int64 { return a.cur.Position() }

// FinishWriteMessage publishes every field written so far.
//
// The end position is stored atomically into the header; enumerators that
// observe it also observe all bytes before it. If a field failed, nothing is
// published and the failure is returned.
func (a *Appender) FinishWriteMessage() error {
	if a.closed {
		return ErrClosed
	}

	if a.err != nil {
		return a.err
	}

	err := a.header.StoreInt64(0, a.cur.Position())
	if err != nil {
		a.err = err

		return err
	}

	return nil
}

// Flush writes the pinned regions back to the file and fsyncs it.
//
// Only published messages are meaningful after a crash; a flush in the
// middle of a message persists bytes no reader will consider committed.
func (a *Appender) Flush() error {
	if a.closed {
		return ErrClosed
	}

	err := a.cur.flush()
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	err = a.header.Flush()
	if err != nil {
		return fmt.Errorf("flush header: %w", err)
	}

	err = a.q.file.Sync()
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return nil
}

// Close releases the appender's regions. Unpublished fields are left behind
// and overwritten by the next appender. Closing does not allow the queue to
// hand out another appender.
func (a *Appender) Close() error {
	if a.closed {
		return nil
	}

	a.closed = true
	a.err = ErrClosed

	return errors.Join(a.cur.close(), a.q.file.Release(a.header))
}
