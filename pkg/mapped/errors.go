package mapped

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by mapped operations.
//
// Callers should use [errors.Is] to check error types.
var (
	// ErrInvalidInput indicates invalid arguments were provided.
	//
	// This is a programming or configuration error.
	ErrInvalidInput = errors.New("mapped: invalid input")

	// ErrInvalidRegionSize indicates the region size is not positive or not a
	// multiple of [RegionSizeMultiple]. It wraps [ErrInvalidInput].
	ErrInvalidRegionSize = fmt.Errorf("%w: region size", ErrInvalidInput)

	// ErrClosed indicates the [File] or [Region] has already been closed.
	ErrClosed = errors.New("mapped: closed")

	// ErrRegionsInUse indicates [File.Close] was called while regions are
	// still reserved.
	//
	// Recovery: close every appender and enumerator first, then close again.
	ErrRegionsInUse = errors.New("mapped: regions still in use")

	// ErrOutOfBounds indicates an access outside a region's window.
	ErrOutOfBounds = errors.New("mapped: out of bounds")

	// ErrReadOnly indicates a write-side operation on a read-only file.
	ErrReadOnly = errors.New("mapped: read-only")

	// ErrIO wraps failures of the underlying file or mapping (length change,
	// flush, mmap). These are not retried.
	ErrIO = errors.New("mapped: i/o failure")
)

// ioError wraps err with ErrIO and an operation description.
func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
