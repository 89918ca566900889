package mapped

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/mapq/pkg/fs"
)

// File is a file accessed through fixed-size memory-mapped regions.
//
// Steady-state [File.Reserve] and [File.Release] are lock-free. The mutex is
// taken only to grow the region table or the file, and by Close.
type File struct {
	path       string
	mode       Mode
	regionSize int64

	file     fs.File
	logger   logrus.FieldLogger
	observer Observer

	// table is nil once the file is closed.
	table atomic.Pointer[regionTable]

	mu sync.Mutex
}

// Open opens or creates the file at opts.Path and runs the initializer.
//
// In [ReadOnly] mode a missing file fails with an error matching
// [os.ErrNotExist]. No region is mapped until the first [File.Reserve].
func Open(opts Options) (*File, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}

	fh, err := opts.FS.OpenFile(opts.Path, opts.Mode.openFlag(), 0o644)
	if err != nil {
		return nil, ioError("open "+opts.Path, err)
	}

	err = opts.Initializer(fh, opts.Mode)
	if err != nil {
		_ = fh.Close()

		return nil, fmt.Errorf("initialize %s: %w", opts.Path, err)
	}

	f := &File{
		path:       opts.Path,
		mode:       opts.Mode,
		regionSize: opts.RegionSize,
		file:       fh,
		logger:     opts.Logger.WithField("path", opts.Path),
		observer:   opts.Observer,
	}
	f.table.Store(newRegionTable(initialTableLen))

	f.logger.WithFields(logrus.Fields{
		"mode":        opts.Mode.String(),
		"region_size": opts.RegionSize,
	}).Debug("mapped file opened")

	return f, nil
}

// Path returns the path the file was opened with.
func (f *File) Path() string { return f.path }

// Mode returns the open mode.
func (f *File) Mode() Mode { return f.mode }

// RegionSize returns the fixed region size in bytes.
func (f *File) RegionSize() int64 { return f.regionSize }

// IsClosed reports whether Close has completed.
func (f *File) IsClosed() bool { return f.table.Load() == nil }

// RegionIndex returns the index of the region containing position, or -1
// when position is negative or the index does not fit in an int32.
func (f *File) RegionIndex(position int64) int {
	if position < 0 {
		return -1
	}

	index := position / f.regionSize
	if index > math.MaxInt32 {
		return -1
	}

	return int(index)
}

// Reserve returns region index with one reference held by the caller.
//
// If the slot holds a live region, its count is bumped. Otherwise a new
// region is mapped (growing the file first in writable modes) and installed
// with a compare-and-swap; a region that loses the install race is unmapped
// again and the reservation retried.
func (f *File) Reserve(index int) (*Region, error) {
	if index < 0 || int64(index) >= math.MaxInt64/f.regionSize {
		return nil, fmt.Errorf("reserve region %d: %w", index, ErrInvalidInput)
	}

	for {
		table, err := f.ensureCapacity(index)
		if err != nil {
			return nil, err
		}

		cur := table.load(index)
		if cur != nil && cur.retain() {
			return cur, nil
		}

		r, err := f.mapRegion(index)
		if err != nil {
			return nil, err
		}

		if table.cas(index, cur, r) {
			return r, nil
		}

		_, _ = r.release()

		f.observer.ReservationRetried(index)
	}
}

// Release gives back one reference to r. The last release unmaps r and
// clears its slot.
func (f *File) Release(r *Region) error {
	if r == nil || r.file != f {
		return fmt.Errorf("release: region not owned by %s: %w", f.path, ErrInvalidInput)
	}

	last, err := r.release()
	if last {
		if t := f.table.Load(); t != nil && r.index < t.len() {
			t.cas(r.index, r, nil)
		}
	}

	return err
}

// ensureCapacity returns a table snapshot with a slot for index.
func (f *File) ensureCapacity(index int) (*regionTable, error) {
	t := f.table.Load()
	if t == nil {
		return nil, ErrClosed
	}

	if index < t.len() {
		return t, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	t = f.table.Load()
	if t == nil {
		return nil, ErrClosed
	}

	if index < t.len() {
		return t, nil
	}

	next := t.grown(index)
	f.table.Store(next)

	f.logger.WithFields(logrus.Fields{
		"from": t.len(),
		"to":   next.len(),
	}).Trace("region table grown")

	return next, nil
}

func (f *File) mapRegion(index int) (*Region, error) {
	position := int64(index) * f.regionSize

	if f.mode.Writable() {
		err := f.growTo(position + f.regionSize)
		if err != nil {
			return nil, err
		}
	}

	m, err := mmapWindow(int(f.file.Fd()), position, f.regionSize, f.mode.Writable())
	if err != nil {
		return nil, fmt.Errorf("region %d: %w", index, err)
	}

	r := newRegion(f, index, m)

	f.observer.RegionMapped(index)
	f.logger.WithField("region", index).Trace("region mapped")

	return r, nil
}

// growTo extends the file to at least length bytes. The file never shrinks
// here.
func (f *File) growTo(length int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.table.Load() == nil {
		return ErrClosed
	}

	info, err := f.file.Stat()
	if err != nil {
		return ioError("stat", err)
	}

	if info.Size() >= length {
		return nil
	}

	err = f.file.Truncate(length)
	if err != nil {
		return ioError(fmt.Sprintf("grow to %d", length), err)
	}

	f.observer.FileGrown(length)
	f.logger.WithField("length", length).Debug("file grown")

	return nil
}

// Length returns the current file length.
func (f *File) Length() (int64, error) {
	if f.IsClosed() {
		return 0, ErrClosed
	}

	info, err := f.file.Stat()
	if err != nil {
		return 0, ioError("stat", err)
	}

	return info.Size(), nil
}

// SetLength truncates or extends the file to n bytes.
//
// Shrinking below a region that is still mapped makes accesses to the cut
// pages fault; callers own that ordering.
func (f *File) SetLength(n int64) error {
	if n < 0 {
		return fmt.Errorf("set length %d: %w", n, ErrInvalidInput)
	}

	if !f.mode.Writable() {
		return fmt.Errorf("set length: %w", ErrReadOnly)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.table.Load() == nil {
		return ErrClosed
	}

	err := f.file.Truncate(n)
	if err != nil {
		return ioError(fmt.Sprintf("set length %d", n), err)
	}

	return nil
}

// Sync flushes the file handle to durable storage.
func (f *File) Sync() error {
	if f.IsClosed() {
		return ErrClosed
	}

	err := f.file.Sync()
	if err != nil {
		return ioError("fsync", err)
	}

	return nil
}

// LiveRegions returns the number of table slots holding a mapped region.
func (f *File) LiveRegions() int {
	t := f.table.Load()
	if t == nil {
		return 0
	}

	return t.live()
}

// Close closes the file handle.
//
// Close fails with [ErrRegionsInUse] while any region is still reserved and
// leaves the file usable. Calling Close on a closed file returns nil.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.table.Load()
	if t == nil {
		return nil
	}

	if n := t.live(); n > 0 {
		return fmt.Errorf("close %s: %d live regions: %w", f.path, n, ErrRegionsInUse)
	}

	f.table.Store(nil)

	err := f.file.Close()
	if err != nil {
		return ioError("close", err)
	}

	f.logger.Debug("mapped file closed")

	return nil
}
