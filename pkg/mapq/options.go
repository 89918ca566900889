package mapq

import (
	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/mapq/pkg/fs"
	"github.com/calvinalkan/mapq/pkg/mapped"
)

const (
	// HeaderSize is the size of the queue header at the start of the file.
	// The header holds the committed end position as one int64 word.
	HeaderSize = 8

	// DefaultRegionSize is the region size used when none is configured.
	DefaultRegionSize int64 = 4 << 20
)

// noCommit is the header value of a log without committed messages.
const noCommit int64 = -1

// Option configures a queue at open time.
type Option func(*options)

type options struct {
	regionSize  int64
	logger      logrus.FieldLogger
	observer    mapped.Observer
	fs          fs.FS
	initializer mapped.Initializer
}

func newOptions(opts []Option) options {
	o := options{
		regionSize: DefaultRegionSize,
		fs:         fs.NewReal(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = mapped.DiscardLogger()
	}

	if o.initializer == nil {
		o.initializer = headerInitializer
	}

	return o
}

// WithRegionSize sets the region size. It must be a positive multiple of
// [mapped.RegionSizeMultiple] and must match the size the file was written
// with.
func WithRegionSize(n int64) Option {
	return func(o *options) { o.regionSize = n }
}

// WithLogger sets the logger for cold-path lifecycle events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver sets the observer notified of region and file events.
func WithObserver(obs mapped.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithFS sets the filesystem used to open the queue file.
func WithFS(fsys fs.FS) Option {
	return func(o *options) { o.fs = fsys }
}

// WithInitializer replaces the header initialization run at open time.
func WithInitializer(fn mapped.Initializer) Option {
	return func(o *options) { o.initializer = fn }
}
