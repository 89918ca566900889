package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mapq/internal/config"
	"github.com/calvinalkan/mapq/pkg/mapq"
)

// InfoCmd returns the info command.
func InfoCmd(cfg *config.Config, logger logrus.FieldLogger) *Command {
	return &Command{
		Flags: flag.NewFlagSet("info", flag.ContinueOnError),
		Usage: "info",
		Short: "Show queue file details",
		Long: `Show the queue file path, region size, file length and the committed end
position. Opens the file read-only.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return errNoArgs
			}

			return execInfo(o, cfg, logger)
		},
	}
}

func execInfo(o *IO, cfg *config.Config, logger logrus.FieldLogger) error {
	q, err := mapq.OpenReadOnly(cfg.QueuePathAbs(), queueOptions(cfg, logger)...)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	file := q.File()

	length, err := file.Length()
	if err != nil {
		return err
	}

	committed, err := q.Committed()
	if err != nil {
		return err
	}

	o.Println("path=" + file.Path())
	o.Println("mode=" + file.Mode().String())
	o.Println(fmt.Sprintf("region_size=%d", file.RegionSize()))
	o.Println(fmt.Sprintf("length=%d", length))
	o.Println(fmt.Sprintf("regions=%d", (length+file.RegionSize()-1)/file.RegionSize()))
	o.Println(fmt.Sprintf("committed=%d", committed))
	o.Println(fmt.Sprintf("payload_bytes=%d", committed-mapq.HeaderSize))

	if committed > length {
		o.Warn(fmt.Sprintf("committed position %d beyond file length %d", committed, length),
			"the file was truncated or written with a different region size")
	}

	return nil
}
