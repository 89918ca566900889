package fs

import (
	"bytes"
	"errors"
	"os"

	"github.com/natefinch/atomic"
)

// Real implements [FS] on the host filesystem.
//
// Every method behaves like its [os] counterpart, except [Real.Exists],
// which folds [os.ErrNotExist] into a false result, and
// [Real.WriteFileAtomic], which never leaves a partially written file.
type Real struct{}

// NewReal returns the host filesystem.
func NewReal() *Real {
	return &Real{}
}

// OpenFile opens path like [os.OpenFile]. The queue file and lock files
// are opened through it.
func (*Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		// A nil *os.File must not become a non-nil File.
		return nil, err
	}

	return f, nil
}

// ReadFile reads path like [os.ReadFile]. Config files are read through it.
func (*Real) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFileAtomic replaces path with data through a temp file in the same
// directory and a rename. Readers see either the old or the new content.
func (*Real) WriteFileAtomic(path string, data []byte) error {
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// MkdirAll creates path and its parents like [os.MkdirAll].
func (*Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Stat returns file info like [os.Stat].
func (*Real) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Exists reports whether path exists. Errors other than not-exist are
// returned as is.
func (*Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

var _ FS = (*Real)(nil)
