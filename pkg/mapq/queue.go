package mapq

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/mapq/pkg/mapped"
)

// Queue is a one-to-many message log stored in a memory-mapped file.
//
// A queue hands out at most one [Appender] over its whole lifetime and any
// number of [Enumerator]s. All methods are safe for concurrent use.
type Queue struct {
	file   *mapped.File
	logger logrus.FieldLogger

	appenderCreated atomic.Bool
	closed          atomic.Bool
}

// CreateOrReplace creates the queue file at path, deleting any existing
// contents, and opens it for appending.
func CreateOrReplace(path string, opts ...Option) (*Queue, error) {
	return openPath(path, mapped.ReadWriteTruncate, opts)
}

// CreateOrAppend opens the queue file at path for appending, creating and
// initializing it if it is missing or shorter than the header. Existing
// committed messages are kept and new ones go after them.
func CreateOrAppend(path string, opts ...Option) (*Queue, error) {
	return openPath(path, mapped.ReadWrite, opts)
}

// OpenReadOnly opens an existing queue file for enumeration only.
//
// A missing file fails with an error matching [os.ErrNotExist], a file
// shorter than the header with [ErrFormat].
func OpenReadOnly(path string, opts ...Option) (*Queue, error) {
	return openPath(path, mapped.ReadOnly, opts)
}

func openPath(path string, mode mapped.Mode, opts []Option) (*Queue, error) {
	o := newOptions(opts)

	file, err := mapped.Open(mapped.Options{
		Path:        path,
		Mode:        mode,
		RegionSize:  o.regionSize,
		Initializer: o.initializer,
		FS:          o.fs,
		Logger:      o.logger,
		Observer:    o.observer,
	})
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	return newQueue(file, o.logger), nil
}

// Open wraps an already opened mapped file. The file must carry a queue
// header; the queue takes ownership and closes it on [Queue.Close].
func Open(file *mapped.File) *Queue {
	return newQueue(file, mapped.DiscardLogger())
}

func newQueue(file *mapped.File, logger logrus.FieldLogger) *Queue {
	q := &Queue{
		file:   file,
		logger: logger.WithField("queue", file.Path()),
	}

	q.logger.WithFields(logrus.Fields{
		"mode":        file.Mode().String(),
		"region_size": file.RegionSize(),
	}).Debug("queue opened")

	return q
}

// File returns the underlying mapped file.
func (q *Queue) File() *mapped.File { return q.file }

// Appender returns the queue's single appender.
//
// It fails with [ErrReadOnly] on read-only queues and with
// [ErrAppenderExists] on every call after the first successful one, from
// any goroutine.
func (q *Queue) Appender() (*Appender, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}

	if !q.file.Mode().Writable() {
		return nil, fmt.Errorf("appender: %w", ErrReadOnly)
	}

	if !q.appenderCreated.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("appender: %w", ErrAppenderExists)
	}

	a, err := newAppender(q)
	if err != nil {
		return nil, err
	}

	q.logger.WithField("position", a.Position()).Debug("appender created")

	return a, nil
}

// Enumerator returns a new enumerator positioned at the first message.
func (q *Queue) Enumerator() (*Enumerator, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}

	return newEnumerator(q)
}

// Committed returns the end position of the last committed message, or
// [HeaderSize] when nothing was committed yet.
func (q *Queue) Committed() (int64, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}

	header, err := q.file.Reserve(0)
	if err != nil {
		return 0, err
	}
	defer func() { _ = q.file.Release(header) }()

	return loadCommitted(header)
}

// Close closes the queue file.
//
// Every appender and enumerator must be closed first, otherwise Close fails
// with [mapped.ErrRegionsInUse] and the queue stays open. Closing a closed
// queue returns nil.
func (q *Queue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := q.file.Close()
	if err != nil {
		q.closed.Store(false)

		return fmt.Errorf("close queue: %w", err)
	}

	q.logger.Debug("queue closed")

	return nil
}

// loadCommitted reads the header word from region 0.
func loadCommitted(header *mapped.Region) (int64, error) {
	v, err := header.LoadInt64(0)
	if err != nil {
		return 0, err
	}

	if v == noCommit {
		return HeaderSize, nil
	}

	if v < HeaderSize {
		return 0, fmt.Errorf("committed position %d inside header: %w", v, ErrFormat)
	}

	return v, nil
}
