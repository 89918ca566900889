// Package mapped carves a growable file into fixed-size memory-mapped
// regions and hands them out under reference counting.
//
// # Basic Usage
//
//	f, err := mapped.Open(mapped.Options{
//	    Path:       "/tmp/md.q",
//	    Mode:       mapped.ReadWrite,
//	    RegionSize: 4 << 20,
//	})
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	r, err := f.Reserve(0)
//	if err != nil {
//	    return err
//	}
//	buf, _ := r.Slice(8, 8)
//	binary.NativeEndian.PutUint64(buf, 42)
//	_ = f.Release(r)
//
// # Regions
//
// Region i covers the byte range [i*RegionSize, (i+1)*RegionSize) of the
// file. It is mapped lazily on the first [File.Reserve] of its index and
// shared by every caller that reserves the same index while it is live.
// The file is grown on demand so that every reserved region is backed.
//
// A region is unmapped when its last holder calls [File.Release]. A region
// whose count dropped to zero can never be reserved again; the next
// reservation of that index maps a fresh region.
//
// # Concurrency
//
// [File.Reserve] and [File.Release] are safe for concurrent use and
// lock-free in the common case: an existing live region is pinned with a
// compare-and-swap on its reference count. Only growth of the region table
// and growth of the file take a mutex.
//
// [File.Close] refuses to close while any region is still held. Callers must
// release every region (close every cursor) first.
package mapped
