// Package fs provides the filesystem abstraction used by the mapped file and
// the queue.
//
// The main types are:
//   - [FS]: interface for the filesystem operations the log needs
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os] package
//   - [Locker]: flock(2) based advisory locking
//
// Example usage:
//
//	fsys := fs.NewReal()
//	f, err := fsys.OpenFile("md.q", os.O_RDWR|os.O_CREATE, 0o644)
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	lock, err := fs.LockFile(f)
//	if err != nil {
//	    return err
//	}
//	defer lock.Close()
package fs

import (
	"io"
	"os"
)

// File represents an open, OS-backed file descriptor.
//
// This interface is satisfied by [os.File]. [File.Fd] must return a real
// descriptor usable with mmap(2) and flock(2) until the file is closed.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type File interface {
	// Embedded interfaces from [io] package.
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt

	// Name returns the name of the file as presented to Open.
	Name() string

	// Fd returns the file descriptor. See [os.File.Fd].
	// Used for mmap and flock.
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Truncate changes the size of the file. See [os.File.Truncate].
	Truncate(size int64) error
}

// FS defines the filesystem operations used by this module.
//
// All methods mirror their [os] package equivalents but can be intercepted
// for testing with fault injection.
type FS interface {
	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data to a file atomically.
	// Uses a temp file + rename to prevent partial writes on crash.
	WriteFileAtomic(path string, data []byte) error

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	// Returns [os.ErrNotExist] if file doesn't exist.
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
