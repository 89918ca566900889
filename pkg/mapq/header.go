package mapq

import (
	"bytes"
	"fmt"

	"github.com/calvinalkan/mapq/pkg/fs"
	"github.com/calvinalkan/mapq/pkg/mapped"
)

// headerInitializer validates or writes the queue header under an exclusive
// lock on the queue file, so concurrent openers never see a half-written
// header.
//
//   - ReadOnly: the file must already hold a header.
//   - ReadWrite: a file shorter than the header is (re)initialized.
//   - ReadWriteTruncate: the file is always reset to an empty log.
func headerInitializer(f fs.File, mode mapped.Mode) (err error) {
	lock, err := fs.LockFile(f)
	if err != nil {
		return fmt.Errorf("lock %s: %w", f.Name(), err)
	}

	defer func() {
		closeErr := lock.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("unlock %s: %w", f.Name(), closeErr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", mapped.ErrIO, f.Name(), err)
	}

	switch mode {
	case mapped.ReadOnly:
		if info.Size() < HeaderSize {
			return fmt.Errorf("%s: %d bytes is shorter than the header: %w", f.Name(), info.Size(), ErrFormat)
		}

		return nil

	case mapped.ReadWrite:
		if info.Size() >= HeaderSize {
			return nil
		}

		return writeEmptyHeader(f)

	case mapped.ReadWriteTruncate:
		return writeEmptyHeader(f)

	default:
		return fmt.Errorf("unknown mode %s: %w", mode, mapped.ErrInvalidInput)
	}
}

func writeEmptyHeader(f fs.File) error {
	err := f.Truncate(0)
	if err != nil {
		return fmt.Errorf("%w: truncate %s: %w", mapped.ErrIO, f.Name(), err)
	}

	_, err = f.WriteAt(bytes.Repeat([]byte{0xFF}, HeaderSize), 0)
	if err != nil {
		return fmt.Errorf("%w: write header %s: %w", mapped.ErrIO, f.Name(), err)
	}

	err = f.Sync()
	if err != nil {
		return fmt.Errorf("%w: sync %s: %w", mapped.ErrIO, f.Name(), err)
	}

	return nil
}
