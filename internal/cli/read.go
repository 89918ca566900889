package cli

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mapq/internal/config"
	"github.com/calvinalkan/mapq/pkg/fs"
	"github.com/calvinalkan/mapq/pkg/mapq"
)

// maxValuesPerMessage bounds the count field of a CLI message so a reader
// pointed at a foreign file fails fast instead of reading garbage.
const maxValuesPerMessage = 1 << 16

// ReadCmd returns the read command.
func ReadCmd(cfg *config.Config, logger logrus.FieldLogger) *Command {
	flags := flag.NewFlagSet("read", flag.ContinueOnError)
	out := flags.StringP("out", "o", "", "Write the dump to `path` atomically instead of stdout")
	limit := flags.IntP("limit", "n", 0, "Stop after `n` messages (0 = all)")

	return &Command{
		Flags: flags,
		Usage: "read [flags]",
		Short: "Print committed messages",
		Long: `Print every committed message written by "mapq append", one per line:
the start position followed by the int64 values.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return errNoArgs
			}

			return execRead(o, cfg, logger, *out, *limit)
		},
	}
}

func execRead(o *IO, cfg *config.Config, logger logrus.FieldLogger, outPath string, limit int) error {
	q, err := mapq.OpenReadOnly(cfg.QueuePathAbs(), queueOptions(cfg, logger)...)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	e, err := q.Enumerator()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	var buf bytes.Buffer

	count := 0

	for e.HasNextMessage() && (limit <= 0 || count < limit) {
		start := e.Position()

		values, err := readValues(e)
		if err != nil {
			o.Warn(fmt.Sprintf("message at %d unreadable: %v", start, err),
				"the file may not have been written by mapq append")

			break
		}

		_, _ = fmt.Fprintf(&buf, "%d\t%s\n", start, formatValues(values))

		count++
	}

	if outPath == "" {
		o.Printf("%s", buf.String())

		return nil
	}

	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(cfg.EffectiveCwd, outPath)
	}

	err = fs.NewReal().WriteFileAtomic(outPath, buf.Bytes())
	if err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	o.Println(fmt.Sprintf("wrote %d messages to %s", count, outPath))

	return nil
}

// readValues reads one CLI message and finishes it.
func readValues(r mapq.MessageReader) ([]int64, error) {
	n := r.Int32()
	if err := r.Err(); err != nil {
		return nil, err
	}

	if n < 0 || n > maxValuesPerMessage {
		return nil, fmt.Errorf("value count %d: %w", n, mapq.ErrFormat)
	}

	values := make([]int64, n)
	for i := range values {
		values[i] = r.Int64()
	}

	_, err := r.FinishReadMessage()
	if err != nil {
		return nil, err
	}

	return values, nil
}

func formatValues(values []int64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}

	return strings.Join(parts, " ")
}
