package mapped

import (
	"fmt"
	"sync/atomic"
)

// Region is one fixed-size window of the backing file, mapped into memory.
//
// A Region is reference counted. [File.Reserve] hands out one reference and
// [File.Release] gives it back; the release that drops the count to zero
// unmaps the window. Bytes returned by [Region.Slice] are valid only while
// the caller holds a reference.
type Region struct {
	file     *File
	index    int
	position int64
	size     int64

	m mapping

	refs   atomic.Int64
	closed atomic.Bool
}

func newRegion(f *File, index int, m mapping) *Region {
	r := &Region{
		file:     f,
		index:    index,
		position: int64(index) * f.regionSize,
		size:     f.regionSize,
		m:        m,
	}
	r.refs.Store(1)

	return r
}

// Index returns the region index within the file.
func (r *Region) Index() int { return r.index }

// Position returns the file position of the first byte of the region.
func (r *Region) Position() int64 { return r.position }

// Len returns the region size in bytes.
func (r *Region) Len() int64 { return r.size }

// RefCount returns the current number of references.
func (r *Region) RefCount() int64 { return r.refs.Load() }

// IsClosed reports whether the region has been unmapped.
func (r *Region) IsClosed() bool { return r.closed.Load() }

// Contains reports whether position falls inside the region.
func (r *Region) Contains(position int64) bool {
	return position >= r.position && position < r.position+r.size
}

// Slice returns n bytes of the mapping starting at offset (relative to the
// region start). Writes to the slice go straight to the shared mapping.
func (r *Region) Slice(offset, n int) ([]byte, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("region %d: %w", r.index, ErrClosed)
	}

	if offset < 0 || n < 0 || int64(offset)+int64(n) > r.size {
		return nil, fmt.Errorf("region %d: [%d, %d) outside [0, %d): %w",
			r.index, offset, offset+n, r.size, ErrOutOfBounds)
	}

	return r.m.window[offset : offset+n : offset+n], nil
}

// LoadInt64 atomically loads the 8-byte word at offset. offset must be a
// multiple of 8.
func (r *Region) LoadInt64(offset int) (int64, error) {
	buf, err := r.word(offset)
	if err != nil {
		return 0, err
	}

	return atomicLoadInt64(buf), nil
}

// StoreInt64 atomically stores val into the 8-byte word at offset. offset
// must be a multiple of 8.
func (r *Region) StoreInt64(offset int, val int64) error {
	if !r.file.mode.Writable() {
		return fmt.Errorf("region %d: store: %w", r.index, ErrReadOnly)
	}

	buf, err := r.word(offset)
	if err != nil {
		return err
	}

	atomicStoreInt64(buf, val)

	return nil
}

func (r *Region) word(offset int) ([]byte, error) {
	if offset%8 != 0 {
		return nil, fmt.Errorf("region %d: unaligned word offset %d: %w", r.index, offset, ErrInvalidInput)
	}

	return r.Slice(offset, 8)
}

// Flush synchronously writes the region's dirty pages back to the file.
func (r *Region) Flush() error {
	if r.closed.Load() {
		return fmt.Errorf("region %d: %w", r.index, ErrClosed)
	}

	if !r.file.mode.Writable() {
		return nil
	}

	return r.m.msync()
}

// retain adds a reference. It fails once the count has dropped to zero, so
// a region that started unmapping is never handed out again.
func (r *Region) retain() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}

		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a reference. It reports whether this call dropped the last
// one and unmapped the region.
func (r *Region) release() (bool, error) {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false, fmt.Errorf("region %d: release without reference: %w", r.index, ErrClosed)
		}

		if !r.refs.CompareAndSwap(n, n-1) {
			continue
		}

		if n > 1 {
			return false, nil
		}

		r.closed.Store(true)

		err := r.m.unmap()
		r.file.observer.RegionUnmapped(r.index)
		r.file.logger.WithField("region", r.index).Trace("region unmapped")

		return true, err
	}
}
