package mapped

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/mapq/pkg/fs"
)

// RegionSizeMultiple is the granularity of region sizes. Every region size
// must be a positive multiple of it so that 8-byte fields and the 8-byte
// header word stay naturally aligned.
const RegionSizeMultiple = 8

// Mode controls how the backing file is opened.
type Mode int

const (
	// ReadOnly opens an existing file for reading. The file is never grown.
	ReadOnly Mode = iota

	// ReadWrite opens or creates the file and keeps its contents.
	ReadWrite

	// ReadWriteTruncate opens or creates the file and deletes its contents
	// on open.
	ReadWriteTruncate
)

// String returns the mode name as used in logs.
func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	case ReadWriteTruncate:
		return "read-write-truncate"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Writable reports whether regions are mapped writable in this mode.
func (m Mode) Writable() bool {
	return m == ReadWrite || m == ReadWriteTruncate
}

func (m Mode) openFlag() int {
	if m == ReadOnly {
		return os.O_RDONLY
	}

	return os.O_RDWR | os.O_CREATE
}

// Initializer prepares a freshly opened file before any region is mapped.
//
// It is invoked exactly once per [Open] with the raw file handle and the
// resolved mode. A returned error aborts Open and closes the handle.
type Initializer func(f fs.File, mode Mode) error

// DefaultInitializer truncates the file to zero length under an exclusive
// advisory lock when mode is [ReadWriteTruncate], and leaves the file alone
// otherwise.
func DefaultInitializer(f fs.File, mode Mode) error {
	if mode != ReadWriteTruncate {
		return nil
	}

	lock, err := fs.LockFile(f)
	if err != nil {
		return fmt.Errorf("lock for truncate: %w", err)
	}
	defer func() { _ = lock.Close() }()

	if err := f.Truncate(0); err != nil {
		return ioError("truncate", err)
	}

	if err := f.Sync(); err != nil {
		return ioError("sync", err)
	}

	return nil
}

// Options configures [Open].
type Options struct {
	// Path is the filesystem path of the backing file. Required.
	Path string

	// Mode controls open flags, mapping protection and file growth.
	Mode Mode

	// RegionSize is the size in bytes of every mapped region.
	//
	// Must be positive and a multiple of [RegionSizeMultiple]. A power of two
	// keeps index arithmetic cheap but is not required. Choose it well above
	// the largest field ever written: fields never straddle regions, so up to
	// (largest field - 1) bytes may be skipped at the end of each region.
	RegionSize int64

	// Initializer runs once after the file is opened.
	// Defaults to [DefaultInitializer].
	Initializer Initializer

	// FS opens the backing file. Defaults to [fs.NewReal].
	FS fs.FS

	// Logger receives cold-path lifecycle logs. Defaults to a discarding
	// logger.
	Logger logrus.FieldLogger

	// Observer receives lifecycle events. Defaults to [NopObserver].
	Observer Observer
}

// validate checks options and fills defaults.
func (o Options) validate() (Options, error) {
	if o.Path == "" {
		return o, fmt.Errorf("path is required: %w", ErrInvalidInput)
	}

	if o.RegionSize <= 0 || o.RegionSize%RegionSizeMultiple != 0 {
		return o, fmt.Errorf("%w: must be positive and a multiple of %d but was %d",
			ErrInvalidRegionSize, RegionSizeMultiple, o.RegionSize)
	}

	switch o.Mode {
	case ReadOnly, ReadWrite, ReadWriteTruncate:
		// ok
	default:
		return o, fmt.Errorf("unknown mode %d: %w", int(o.Mode), ErrInvalidInput)
	}

	if o.Initializer == nil {
		o.Initializer = DefaultInitializer
	}

	if o.FS == nil {
		o.FS = fs.NewReal()
	}

	if o.Logger == nil {
		o.Logger = DiscardLogger()
	}

	if o.Observer == nil {
		o.Observer = NopObserver{}
	}

	return o, nil
}

// DiscardLogger returns a logrus logger that drops everything.
func DiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)

	return l
}
