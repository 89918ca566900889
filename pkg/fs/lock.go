package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when another holder owns the lock: at once
	// by [Locker.TryLock], after the deadline by [Locker.LockWithTimeout].
	ErrWouldBlock = errors.New("lock would block")

	// ErrInvalidTimeout is returned by [Locker.LockWithTimeout] for a
	// timeout <= 0.
	ErrInvalidTimeout = errors.New("invalid lock timeout")

	// errReplaced means the lock file was swapped between open and flock.
	errReplaced = errors.New("lock file replaced")
)

const (
	lockFilePerm = 0o600
	lockDirPerm  = 0o755

	lockBackoffMin = time.Millisecond
	lockBackoffMax = 25 * time.Millisecond

	// maxEINTR bounds flock retries under a signal storm.
	maxEINTR = 10000
)

type flockFunc func(fd int, how int) error

// Locker hands out exclusive flock(2) locks on dedicated lock files by
// path, such as the CLI's "<queue>.lock". Lock files are opened through
// its [FS]. To lock a handle that is already open, use [LockFile].
//
// Locks are advisory and belong to an open file description. Unix only.
type Locker struct {
	fs    FS
	flock flockFunc
}

// NewLocker returns a Locker that opens lock files through fsys.
func NewLocker(fsys FS) *Locker {
	return &Locker{fs: fsys, flock: unix.Flock}
}

// Lock is a held lock. Release it with [Lock.Close].
type Lock struct {
	mu    sync.Mutex
	file  File
	owned bool
	flock flockFunc
}

// Close unlocks. Path locks also close their lock file; a [LockFile] lock
// leaves the caller's handle open. Repeated calls return nil.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	f := lk.file
	lk.file = nil

	var errs []error

	err := flockNoEINTR(lk.flock, int(f.Fd()), unix.LOCK_UN)
	if err != nil {
		errs = append(errs, fmt.Errorf("unlock %s: %w", f.Name(), err))
	}

	if lk.owned {
		err = f.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", f.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// LockFile blocks until the open handle f is exclusively locked. The queue
// uses it on its own file while writing or checking the header. No [FS] is
// involved: the lock goes straight to f's descriptor, whichever FS opened
// it. Read-only handles work too, flock needs no write access.
func LockFile(f File) (*Lock, error) {
	err := flockNoEINTR(unix.Flock, int(f.Fd()), unix.LOCK_EX)
	if err != nil {
		return nil, fmt.Errorf("flock %s: %w", f.Name(), err)
	}

	return &Lock{file: f, flock: unix.Flock}, nil
}

// Lock blocks until the lock file at path is exclusively locked. The file
// and its parent directories are created when missing.
func (l *Locker) Lock(path string) (*Lock, error) {
	for {
		lk, err := l.attempt(path, false)
		if errors.Is(err, errReplaced) {
			continue
		}

		return lk, err
	}
}

// TryLock locks path or fails at once with [ErrWouldBlock].
func (l *Locker) TryLock(path string) (*Lock, error) {
	for {
		lk, err := l.attempt(path, true)
		if errors.Is(err, errReplaced) {
			continue
		}

		return lk, err
	}
}

// LockWithTimeout retries [Locker.TryLock] with exponential backoff until
// timeout elapses, then fails with an error wrapping [ErrWouldBlock].
func (l *Locker) LockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}

	deadline := time.Now().Add(timeout)
	backoff := lockBackoffMin

	for {
		lk, err := l.TryLock(path)
		if !errors.Is(err, ErrWouldBlock) {
			return lk, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s timed out after %s", ErrWouldBlock, path, timeout)
		}

		time.Sleep(min(backoff, remaining))
		backoff = min(2*backoff, lockBackoffMax)
	}
}

// attempt opens path and flocks it once. The returned lock owns the file.
func (l *Locker) attempt(path string, nonBlocking bool) (*Lock, error) {
	f, err := l.openLockFile(path)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	how := unix.LOCK_EX
	if nonBlocking {
		how |= unix.LOCK_NB
	}

	fd := int(f.Fd())

	err = flockNoEINTR(l.flock, fd, how)
	if err != nil {
		_ = f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	// flock locks an inode. If path now names a different inode, a second
	// process may lock that one while we hold the old.
	same, err := l.sameInode(path, f)
	if err != nil || !same {
		_ = flockNoEINTR(l.flock, fd, unix.LOCK_UN)
		_ = f.Close()

		if err == nil || errors.Is(err, os.ErrNotExist) {
			return nil, errReplaced
		}

		return nil, fmt.Errorf("verify lock file %s: %w", path, err)
	}

	return &Lock{file: f, owned: true, flock: l.flock}, nil
}

func (l *Locker) openLockFile(path string) (File, error) {
	f, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	err = l.fs.MkdirAll(filepath.Dir(path), lockDirPerm)
	if err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
}

func (l *Locker) sameInode(path string, f File) (bool, error) {
	held, err := f.Stat()
	if err != nil {
		return false, err
	}

	current, err := l.fs.Stat(path)
	if err != nil {
		return false, err
	}

	return os.SameFile(held, current), nil
}

// flockNoEINTR calls flock until it returns something other than EINTR.
func flockNoEINTR(flock flockFunc, fd int, how int) error {
	var err error

	for range maxEINTR {
		err = flock(fd, how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
