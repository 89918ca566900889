package mapped

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pageSize is the system page size. Mapping offsets must be multiples of it.
var pageSize = int64(unix.Getpagesize())

// mapping is one mmap call. The region window may start after the beginning
// of the mapping when the region start is not page-aligned.
type mapping struct {
	raw    []byte // whole mapping, passed to munmap
	window []byte // region bytes
}

// mmapWindow maps size bytes of fd starting at file position start.
//
// Region starts are multiples of the region size but not necessarily of the
// page size, so the mapping begins at the page boundary at or below start
// and the window skips the leading delta bytes.
func mmapWindow(fd int, start, size int64, writable bool) (mapping, error) {
	aligned := start &^ (pageSize - 1)
	delta := start - aligned

	length := delta + size
	if length <= 0 || int64(int(length)) != length {
		return mapping{}, fmt.Errorf("mapping length %d not representable: %w", length, ErrInvalidInput)
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	raw, err := unix.Mmap(fd, aligned, int(length), prot, unix.MAP_SHARED)
	if err != nil {
		return mapping{}, ioError(fmt.Sprintf("mmap [%d, %d)", aligned, aligned+length), err)
	}

	return mapping{
		raw:    raw,
		window: raw[delta : delta+size : delta+size],
	}, nil
}

func (m mapping) unmap() error {
	if m.raw == nil {
		return nil
	}

	err := unix.Munmap(m.raw)
	if err != nil {
		return ioError("munmap", err)
	}

	return nil
}

// msync synchronously flushes the whole window to the backing file.
func (m mapping) msync() error {
	// msync wants a page-aligned address; raw starts on a page boundary and
	// covers the window.
	err := unix.Msync(m.raw, unix.MS_SYNC)
	if err != nil {
		return ioError("msync", err)
	}

	return nil
}

// atomicLoadInt64 performs an atomic 64-bit load from an 8-byte-aligned
// position in buf.
//
// Preconditions:
//   - len(buf) >= 8
//   - buf[0] must be 8-byte aligned (windows start on an 8-byte boundary
//     inside a page-aligned mapping and offsets are checked by callers)
func atomicLoadInt64(buf []byte) int64 {
	_ = buf[7]

	return atomic.LoadInt64((*int64)(unsafe.Pointer(&buf[0])))
}

// atomicStoreInt64 performs an atomic 64-bit store to an 8-byte-aligned
// position in buf. Same preconditions as atomicLoadInt64.
func atomicStoreInt64(buf []byte, val int64) {
	_ = buf[7]

	atomic.StoreInt64((*int64)(unsafe.Pointer(&buf[0])), val)
}
