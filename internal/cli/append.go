package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mapq/internal/config"
	"github.com/calvinalkan/mapq/pkg/fs"
	"github.com/calvinalkan/mapq/pkg/mapq"
)

// ErrWriterBusy indicates another process holds the queue's writer lock.
var ErrWriterBusy = errors.New("queue is being written by another process")

var errValuesRequired = errors.New("at least one int64 value is required")

// AppendCmd returns the append command.
func AppendCmd(cfg *config.Config, logger logrus.FieldLogger) *Command {
	flags := flag.NewFlagSet("append", flag.ContinueOnError)
	wait := flags.Duration("wait", 0, "Wait up to `duration` for the writer lock instead of failing")
	noSync := flags.Bool("no-sync", false, "Skip the flush to durable storage after committing")

	return &Command{
		Flags: flags,
		Usage: "append [flags] <int64>...",
		Short: "Append one message of int64 values",
		Long: `Append one message to the queue, creating the file if needed.

The message is an int32 value count followed by the int64 values. It is
committed and flushed before the command returns. Only one process may
append at a time; a lock file next to the queue enforces that.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execAppend(o, cfg, logger, args, *wait, !*noSync)
		},
	}
}

func execAppend(o *IO, cfg *config.Config, logger logrus.FieldLogger, args []string, wait time.Duration, sync bool) error {
	if len(args) == 0 {
		return errValuesRequired
	}

	values := make([]int64, len(args))

	for i, arg := range args {
		v, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("value %q: %w", arg, err)
		}

		values[i] = v
	}

	lock, err := lockWriter(cfg.QueuePathAbs(), wait)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Close() }()

	q, err := mapq.CreateOrAppend(cfg.QueuePathAbs(), queueOptions(cfg, logger)...)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	a, err := q.Appender()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	writeValues(a, values)

	err = a.FinishWriteMessage()
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if sync {
		err = a.Flush()
		if err != nil {
			return err
		}
	}

	o.Println(fmt.Sprintf("committed=%d", a.Position()))

	return nil
}

// writeValues writes the CLI message layout: int32 count, int64 values.
func writeValues(w mapq.MessageWriter, values []int64) {
	w.PutInt32(int32(len(values)))

	for _, v := range values {
		w.PutInt64(v)
	}
}

// lockWriter takes the cross-process writer lock for the queue at path.
// The queue itself only guards against two appenders in one process.
func lockWriter(path string, wait time.Duration) (*fs.Lock, error) {
	locker := fs.NewLocker(fs.NewReal())
	lockPath := path + ".lock"

	var (
		lock *fs.Lock
		err  error
	)

	if wait > 0 {
		lock, err = locker.LockWithTimeout(lockPath, wait)
	} else {
		lock, err = locker.TryLock(lockPath)
	}

	if errors.Is(err, fs.ErrWouldBlock) {
		return nil, fmt.Errorf("%w: %s", ErrWriterBusy, lockPath)
	}

	if err != nil {
		return nil, fmt.Errorf("writer lock: %w", err)
	}

	return lock, nil
}
