package mapq

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/mapq/pkg/mapped"
)

// Enumerator reads committed messages from the start of the log.
//
// Typical use:
//
//	for e.HasNextMessage() {
//		id := e.Int64()
//		name := e.StringASCII()
//		if _, err := e.FinishReadMessage(); err != nil {
//			return err
//		}
//	}
//
// Each goroutine needs its own Enumerator; an Enumerator is not safe for
// concurrent use.
type Enumerator struct {
	reader

	q         *Queue
	header    *mapped.Region
	committed int64
	closed    bool
}

var _ MessageReader = (*Enumerator)(nil)

func newEnumerator(q *Queue) (*Enumerator, error) {
	header, err := q.file.Reserve(0)
	if err != nil {
		return nil, fmt.Errorf("enumerator: %w", err)
	}

	e := &Enumerator{
		q:         q,
		header:    header,
		committed: HeaderSize,
	}
	e.cur = newCursor(q.file, HeaderSize)
	e.cur.limit = e.checkCommitted

	return e, nil
}

// HasNextMessage reports whether a committed message starts at the current
// position. It returns false once the enumerator failed or was closed.
func (e *Enumerator) HasNextMessage() bool {
	if e.closed || e.err != nil {
		return false
	}

	err := e.refresh()
	if err != nil {
		e.fail(err)

		return false
	}

	return e.cur.Position() < e.committed
}

// Position returns the logical offset of the next field.
func (e *Enumerator) Position() int64 { return e.cur.Position() }

// Reset moves the enumerator back to the first message and clears a
// previous read failure.
func (e *Enumerator) Reset() {
	if e.closed {
		return
	}

	e.cur.seek(HeaderSize)
	e.err = nil
}

// Close releases the enumerator's regions.
func (e *Enumerator) Close() error {
	if e.closed {
		return nil
	}

	e.closed = true
	e.err = ErrClosed

	return errors.Join(e.cur.close(), e.q.file.Release(e.header))
}

func (e *Enumerator) refresh() error {
	c, err := loadCommitted(e.header)
	if err != nil {
		return err
	}

	e.committed = c

	return nil
}

// checkCommitted keeps reads inside the committed part of the log.
func (e *Enumerator) checkCommitted(end int64) error {
	if end <= e.committed {
		return nil
	}

	err := e.refresh()
	if err != nil {
		return err
	}

	if end > e.committed {
		return fmt.Errorf("field ends at %d past committed %d: %w", end, e.committed, ErrNoMessage)
	}

	return nil
}
