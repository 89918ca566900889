package fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func Test_Locker_TryLock_Returns_ErrWouldBlock_When_Path_Is_Locked(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	lock1, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q): %v", path, err)
	}
	t.Cleanup(func() { _ = lock1.Close() })

	lock2, err := locker.TryLock(path)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("TryLock(%q) while locked: err=%v, want %v", path, err, ErrWouldBlock)
	}
	if lock2 != nil {
		_ = lock2.Close()
		t.Fatalf("TryLock(%q) while locked: want lock=nil, got non-nil", path)
	}

	if err := lock1.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	lock3, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q) after release: %v", path, err)
	}
	if err := lock3.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
}

func Test_Locker_LockWithTimeout_Returns_ErrWouldBlock_When_Path_Is_Locked(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	lock1, err := locker.Lock(path)
	if err != nil {
		t.Fatalf("Lock(%q): %v", path, err)
	}
	defer lock1.Close()

	_, err = locker.LockWithTimeout(path, 50*time.Millisecond)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("LockWithTimeout(%q): err=%v, want %v", path, err, ErrWouldBlock)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("LockWithTimeout(%q): err=%q, want substring %q", path, err.Error(), "timed out")
	}
}

func Test_Locker_LockWithTimeout_Returns_Error_When_Timeout_Is_Non_Positive(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	_, err := locker.LockWithTimeout(path, 0)
	if !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("LockWithTimeout(%q, 0): err=%v, want %v", path, err, ErrInvalidTimeout)
	}
}

func Test_Locker_Lock_Creates_Missing_Parent_Directories(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "a", "b", "q.lock")

	lock, err := locker.Lock(path)
	if err != nil {
		t.Fatalf("Lock(%q): %v", path, err)
	}
	defer lock.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Stat(%q) after Lock: %v", path, err)
	}
}

func Test_LockFile_Excludes_Path_Locks_On_The_Same_File(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "data.q")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile(%q): %v", path, err)
	}
	defer f.Close()

	lock, err := LockFile(f)
	if err != nil {
		t.Fatalf("LockFile(%q): %v", path, err)
	}

	_, err = locker.TryLock(path)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("TryLock(%q) while LockFile held: err=%v, want %v", path, err, ErrWouldBlock)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	// The caller's handle must still be usable after releasing the lock.
	if _, err := f.Write([]byte("x")); err != nil {
		t.Fatalf("Write after lock release: %v", err)
	}

	lock2, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock(%q) after release: %v", path, err)
	}
	_ = lock2.Close()
}

func Test_LockFile_Can_Lock_A_ReadOnly_Handle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ro.q")

	if err := os.WriteFile(path, []byte("x"), 0o444); err != nil {
		t.Fatalf("setup WriteFile(%q): %v", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	defer f.Close()

	lock, err := LockFile(f)
	if err != nil {
		t.Fatalf("LockFile(%q): %v", path, err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
}

func Test_Lock_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "lock")

	lock, err := locker.Lock(path)
	if err != nil {
		t.Fatalf("Lock(%q): %v", path, err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("Close() #1: %v", err)
	}
	if err := lock.Close(); err != nil {
		t.Fatalf("Close() #2: %v", err)
	}
}

func Test_FlockNoEINTR_Retries_Until_Success(t *testing.T) {
	t.Parallel()

	calls := 0
	flock := func(int, int) error {
		calls++
		if calls < 3 {
			return unix.EINTR
		}

		return nil
	}

	if err := flockNoEINTR(flock, 0, unix.LOCK_EX); err != nil {
		t.Fatalf("flockNoEINTR: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
}

func Test_Real_Exists_Reports_Missing_Files_Without_Error(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := t.TempDir()

	exists, err := fsys.Exists(filepath.Join(dir, "missing"))
	if err != nil || exists {
		t.Fatalf("Exists(missing)=(%v, %v), want (false, nil)", exists, err)
	}

	path := filepath.Join(dir, "present")
	if err := fsys.WriteFileAtomic(path, []byte("hello")); err != nil {
		t.Fatalf("WriteFileAtomic(%q): %v", path, err)
	}

	exists, err = fsys.Exists(path)
	if err != nil || !exists {
		t.Fatalf("Exists(present)=(%v, %v), want (true, nil)", exists, err)
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%q): %v", path, err)
	}
	if got, want := string(data), "hello"; got != want {
		t.Fatalf("ReadFile(%q)=%q, want %q", path, got, want)
	}
}
