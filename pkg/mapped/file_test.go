package mapped_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/calvinalkan/mapq/pkg/fs"
	"github.com/calvinalkan/mapq/pkg/mapped"
)

func openTestFile(t *testing.T, regionSize int64) *mapped.File {
	t.Helper()

	f, err := mapped.Open(mapped.Options{
		Path:       filepath.Join(t.TempDir(), "data.bin"),
		Mode:       mapped.ReadWrite,
		RegionSize: regionSize,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t.Cleanup(func() { _ = f.Close() })

	return f
}

func Test_Open_Returns_ErrInvalidRegionSize_When_RegionSize_Is_Not_A_Multiple_Of_Eight(t *testing.T) {
	t.Parallel()

	for _, size := range []int64{0, -8, 7, 12, 4097} {
		_, err := mapped.Open(mapped.Options{
			Path:       filepath.Join(t.TempDir(), "data.bin"),
			Mode:       mapped.ReadWrite,
			RegionSize: size,
		})
		if !errors.Is(err, mapped.ErrInvalidRegionSize) {
			t.Fatalf("Open(RegionSize=%d) error=%v, want ErrInvalidRegionSize", size, err)
		}

		if !errors.Is(err, mapped.ErrInvalidInput) {
			t.Fatalf("Open(RegionSize=%d) error=%v, want it to wrap ErrInvalidInput", size, err)
		}
	}
}

func Test_Open_Returns_ErrNotExist_When_ReadOnly_File_Is_Missing(t *testing.T) {
	t.Parallel()

	_, err := mapped.Open(mapped.Options{
		Path:       filepath.Join(t.TempDir(), "missing.bin"),
		Mode:       mapped.ReadOnly,
		RegionSize: 64,
	})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error=%v, want os.ErrNotExist", err)
	}
}

func Test_Open_Closes_Handle_And_Returns_Error_When_Initializer_Fails(t *testing.T) {
	t.Parallel()

	errInit := errors.New("boom")

	var seen fs.File

	_, err := mapped.Open(mapped.Options{
		Path:       filepath.Join(t.TempDir(), "data.bin"),
		Mode:       mapped.ReadWrite,
		RegionSize: 64,
		Initializer: func(f fs.File, _ mapped.Mode) error {
			seen = f

			return errInit
		},
	})
	if !errors.Is(err, errInit) {
		t.Fatalf("error=%v, want %v", err, errInit)
	}

	if _, err := seen.Stat(); err == nil {
		t.Fatal("initializer handle still open after failed Open")
	}
}

func Test_Open_Truncates_Existing_Contents_When_Mode_Is_ReadWriteTruncate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.bin")

	err := os.WriteFile(path, make([]byte, 1000), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	f, err := mapped.Open(mapped.Options{Path: path, Mode: mapped.ReadWriteTruncate, RegionSize: 64})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	got, err := f.Length()
	if err != nil {
		t.Fatalf("Length: %v", err)
	}

	if got != 0 {
		t.Fatalf("Length()=%d, want 0", got)
	}
}

func Test_Reserve_Grows_File_To_Cover_Region_When_File_Is_Shorter(t *testing.T) {
	t.Parallel()

	f := openTestFile(t, 64)

	r, err := f.Reserve(3)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer func() { _ = f.Release(r) }()

	got, err := f.Length()
	if err != nil {
		t.Fatalf("Length: %v", err)
	}

	if got != 4*64 {
		t.Fatalf("Length()=%d, want %d", got, 4*64)
	}

	if r.Position() != 3*64 || r.Len() != 64 || r.Index() != 3 {
		t.Fatalf("region index=%d position=%d len=%d, want 3/192/64", r.Index(), r.Position(), r.Len())
	}
}

func Test_Reserve_Returns_Same_Region_When_Slot_Is_Live(t *testing.T) {
	t.Parallel()

	f := openTestFile(t, 64)

	a, err := f.Reserve(0)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	b, err := f.Reserve(0)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if a != b {
		t.Fatal("second Reserve returned a different region while the first is live")
	}

	if got := a.RefCount(); got != 2 {
		t.Fatalf("RefCount()=%d, want 2", got)
	}

	_ = f.Release(a)
	_ = f.Release(b)

	if !a.IsClosed() {
		t.Fatal("region still mapped after last release")
	}
}

func Test_Reserve_Preserves_Live_Region_Identity_When_Table_Grows(t *testing.T) {
	t.Parallel()

	f := openTestFile(t, 64)

	first, err := f.Reserve(1)
	if err != nil {
		t.Fatalf("Reserve(1): %v", err)
	}

	far, err := f.Reserve(37)
	if err != nil {
		t.Fatalf("Reserve(37): %v", err)
	}

	again, err := f.Reserve(1)
	if err != nil {
		t.Fatalf("Reserve(1) after growth: %v", err)
	}

	if again != first {
		t.Fatal("table growth lost the live region for index 1")
	}

	for _, r := range []*mapped.Region{first, far, again} {
		if err := f.Release(r); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}
}

func Test_Reserve_Maps_New_Region_When_Previous_One_Was_Released(t *testing.T) {
	t.Parallel()

	f := openTestFile(t, 64)

	old, err := f.Reserve(0)
	if err != nil {
		t.Fatal(err)
	}

	buf, _ := old.Slice(8, 8)
	copy(buf, "abcdefgh")

	_ = f.Release(old)

	fresh, err := f.Reserve(0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Release(fresh) }()

	if fresh == old {
		t.Fatal("closed region was resurrected")
	}

	got, _ := fresh.Slice(8, 8)
	if string(got) != "abcdefgh" {
		t.Fatalf("bytes after remap=%q, want %q", got, "abcdefgh")
	}
}

func Test_Region_Slice_Returns_ErrOutOfBounds_When_Range_Exceeds_Window(t *testing.T) {
	t.Parallel()

	f := openTestFile(t, 64)

	r, err := f.Reserve(0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Release(r) }()

	for _, tc := range []struct{ off, n int }{{-1, 1}, {0, 65}, {60, 8}, {64, 1}} {
		_, err := r.Slice(tc.off, tc.n)
		if !errors.Is(err, mapped.ErrOutOfBounds) {
			t.Fatalf("Slice(%d, %d) error=%v, want ErrOutOfBounds", tc.off, tc.n, err)
		}
	}

	if _, err := r.Slice(56, 8); err != nil {
		t.Fatalf("Slice(56, 8): %v", err)
	}
}

func Test_Region_Slice_Returns_ErrClosed_When_Region_Was_Unmapped(t *testing.T) {
	t.Parallel()

	f := openTestFile(t, 64)

	r, err := f.Reserve(0)
	if err != nil {
		t.Fatal(err)
	}

	_ = f.Release(r)

	if _, err := r.Slice(0, 1); !errors.Is(err, mapped.ErrClosed) {
		t.Fatalf("Slice after release error=%v, want ErrClosed", err)
	}

	if err := f.Release(r); !errors.Is(err, mapped.ErrClosed) {
		t.Fatalf("double Release error=%v, want ErrClosed", err)
	}
}

func Test_Region_StoreInt64_Is_Visible_Through_Other_Mapping_Of_Same_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.bin")

	w, err := mapped.Open(mapped.Options{Path: path, Mode: mapped.ReadWrite, RegionSize: 24})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Close() }()

	// Region 1 starts at byte 24, which is not page aligned.
	wr, err := w.Reserve(1)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Release(wr) }()

	if err := wr.StoreInt64(8, 42); err != nil {
		t.Fatalf("StoreInt64: %v", err)
	}

	ro, err := mapped.Open(mapped.Options{Path: path, Mode: mapped.ReadOnly, RegionSize: 24})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ro.Close() }()

	rr, err := ro.Reserve(1)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ro.Release(rr) }()

	got, err := rr.LoadInt64(8)
	if err != nil {
		t.Fatalf("LoadInt64: %v", err)
	}

	if got != 42 {
		t.Fatalf("LoadInt64(8)=%d, want 42", got)
	}

	if err := rr.StoreInt64(8, 1); !errors.Is(err, mapped.ErrReadOnly) {
		t.Fatalf("StoreInt64 on read-only error=%v, want ErrReadOnly", err)
	}

	if _, err := rr.LoadInt64(4); !errors.Is(err, mapped.ErrInvalidInput) {
		t.Fatalf("LoadInt64(4) error=%v, want ErrInvalidInput", err)
	}
}

func Test_Close_Returns_ErrRegionsInUse_When_Region_Is_Reserved(t *testing.T) {
	t.Parallel()

	f := openTestFile(t, 64)

	r, err := f.Reserve(2)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.Close(); !errors.Is(err, mapped.ErrRegionsInUse) {
		t.Fatalf("Close with live region error=%v, want ErrRegionsInUse", err)
	}

	if f.IsClosed() {
		t.Fatal("failed Close marked the file closed")
	}

	if err := f.Release(r); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close after release: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := f.Reserve(0); !errors.Is(err, mapped.ErrClosed) {
		t.Fatalf("Reserve after Close error=%v, want ErrClosed", err)
	}

	if _, err := f.Length(); !errors.Is(err, mapped.ErrClosed) {
		t.Fatalf("Length after Close error=%v, want ErrClosed", err)
	}
}

func Test_RegionIndex_Returns_Minus_One_When_Position_Is_Out_Of_Range(t *testing.T) {
	t.Parallel()

	f := openTestFile(t, 64)

	cases := map[int64]int{
		-1:             -1,
		0:              0,
		63:             0,
		64:             1,
		64*(1<<31) - 1: 1<<31 - 1,
		64 * (1 << 31): -1,
	}

	for pos, want := range cases {
		if got := f.RegionIndex(pos); got != want {
			t.Fatalf("RegionIndex(%d)=%d, want %d", pos, got, want)
		}
	}
}

func Test_Region_Contains_Reports_Positions_Inside_Its_Window(t *testing.T) {
	t.Parallel()

	f := openTestFile(t, 64)

	r, err := f.Reserve(1)
	if err != nil {
		t.Fatalf("Reserve(1): %v", err)
	}
	defer func() { _ = f.Release(r) }()

	cases := map[int64]bool{
		0:   false,
		63:  false,
		64:  true,
		127: true,
		128: false,
	}

	for pos, want := range cases {
		if got := r.Contains(pos); got != want {
			t.Fatalf("Contains(%d)=%v, want %v", pos, got, want)
		}
	}
}

func Test_SetLength_Returns_ErrReadOnly_When_File_Is_ReadOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.bin")

	err := os.WriteFile(path, make([]byte, 16), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	f, err := mapped.Open(mapped.Options{Path: path, Mode: mapped.ReadOnly, RegionSize: 64})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	if err := f.SetLength(128); !errors.Is(err, mapped.ErrReadOnly) {
		t.Fatalf("SetLength error=%v, want ErrReadOnly", err)
	}

	// Read-only reservations never grow the file.
	r, err := f.Reserve(0)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	_ = f.Release(r)

	n, _ := f.Length()
	if n != 16 {
		t.Fatalf("Length()=%d after read-only Reserve, want 16", n)
	}
}

func Test_Reserve_Returns_ErrIO_When_File_Cannot_Grow(t *testing.T) {
	t.Parallel()

	f, err := mapped.Open(mapped.Options{
		Path:       filepath.Join(t.TempDir(), "data.bin"),
		Mode:       mapped.ReadWrite,
		RegionSize: 64,
		FS:         failingTruncateFS{FS: fs.NewReal()},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Reserve(0); !errors.Is(err, mapped.ErrIO) {
		t.Fatalf("Reserve error=%v, want ErrIO", err)
	}

	if err := f.SetLength(8); !errors.Is(err, mapped.ErrIO) {
		t.Fatalf("SetLength error=%v, want ErrIO", err)
	}
}

func Test_Reserve_Release_Never_Unmaps_Pinned_Region_When_Goroutines_Race(t *testing.T) {
	t.Parallel()

	const (
		goroutines = 4
		iterations = 10_000
		regions    = 3
	)

	obs := &countingObserver{}

	f, err := mapped.Open(mapped.Options{
		Path:       filepath.Join(t.TempDir(), "data.bin"),
		Mode:       mapped.ReadWrite,
		RegionSize: 64,
		Observer:   obs,
	})
	if err != nil {
		t.Fatal(err)
	}

	pinned, err := f.Reserve(0)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup

	errs := make(chan error, goroutines)

	for g := range goroutines {
		wg.Go(func() {
			for i := range iterations {
				index := (g + i) % regions

				r, err := f.Reserve(index)
				if err != nil {
					errs <- err

					return
				}

				buf, err := r.Slice(8*g, 8)
				if err != nil {
					errs <- err

					return
				}

				buf[0] = byte(i)

				err = f.Release(r)
				if err != nil {
					errs <- err

					return
				}
			}
		})
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("worker: %v", err)
	}

	if pinned.IsClosed() {
		t.Fatal("pinned region was unmapped")
	}

	if got := pinned.RefCount(); got != 1 {
		t.Fatalf("pinned RefCount()=%d, want 1", got)
	}

	if err := f.Release(pinned); err != nil {
		t.Fatal(err)
	}

	if got := f.LiveRegions(); got != 0 {
		t.Fatalf("LiveRegions()=%d after all releases, want 0", got)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	nMapped, nUnmapped := obs.counts()
	if nMapped != nUnmapped {
		t.Fatalf("mapped=%d unmapped=%d, want equal", nMapped, nUnmapped)
	}
}

type countingObserver struct {
	mu       sync.Mutex
	mapped   int
	unmapped int
}

func (o *countingObserver) RegionMapped(int) {
	o.mu.Lock()
	o.mapped++
	o.mu.Unlock()
}

func (o *countingObserver) RegionUnmapped(int) {
	o.mu.Lock()
	o.unmapped++
	o.mu.Unlock()
}

func (*countingObserver) FileGrown(int64)        {}
func (*countingObserver) ReservationRetried(int) {}

func (o *countingObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.mapped, o.unmapped
}

var errNoSpace = errors.New("no space left on device")

type failingTruncateFS struct {
	fs.FS
}

func (f failingTruncateFS) OpenFile(path string, flag int, perm os.FileMode) (fs.File, error) {
	fh, err := f.FS.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return failingTruncateFile{File: fh}, nil
}

type failingTruncateFile struct {
	fs.File
}

func (failingTruncateFile) Truncate(int64) error { return errNoSpace }
