package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/calvinalkan/mapq/internal/config"
	"github.com/calvinalkan/mapq/internal/metrics"
	"github.com/calvinalkan/mapq/pkg/mapq"
)

var errBenchSequence = errors.New("bench: message out of sequence")

// Histogram bounds: 1ns to 10s at 3 significant digits.
const (
	benchMinLatency = 1
	benchMaxLatency = int64(10 * time.Second)
	benchSigFigs    = 3

	// ctxCheckEvery is how many empty polls the subscriber spins between
	// context checks.
	ctxCheckEvery = 1 << 12
)

// BenchCmd returns the bench command.
func BenchCmd(cfg *config.Config, logger logrus.FieldLogger) *Command {
	flags := flag.NewFlagSet("bench", flag.ContinueOnError)
	messages := flags.Int("messages", 0, "Measured `count` of messages (default from config)")
	warmup := flags.Int("warmup", -1, "Unmeasured warm-up `count` (default from config)")
	rateFlag := flags.Int("rate", -1, "Publish at most `n` messages per second, 0 = unpaced (default from config)")
	size := flags.Int("size", -1, "Payload `bytes` per message (default from config)")
	metricsAddr := flags.String("metrics-addr", "", "Serve Prometheus metrics on `addr` while running")
	file := flags.String("file", "", "Queue file `path` (default: a temporary file)")

	return &Command{
		Flags: flags,
		Usage: "bench [flags]",
		Short: "Measure publish-to-read latency",
		Long: `Run one publisher and one busy-polling subscriber goroutine over a fresh
queue and report the one-way latency distribution.

Each message carries the publish timestamp, a sequence number and a text
payload. The first --warmup messages are not recorded.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return errNoArgs
			}

			b := cfg.Bench
			if *messages > 0 {
				b.Messages = *messages
			}

			if *warmup >= 0 {
				b.Warmup = *warmup
			}

			if *rateFlag >= 0 {
				b.Rate = *rateFlag
			}

			if *size >= 0 {
				b.MessageSize = *size
			}

			if *metricsAddr != "" {
				b.MetricsAddr = *metricsAddr
			}

			return execBench(ctx, o, cfg, logger, b, *file)
		},
	}
}

type benchResult struct {
	messages int
	elapsed  time.Duration
	latency  *hdrhistogram.Histogram
}

func execBench(ctx context.Context, o *IO, cfg *config.Config, logger logrus.FieldLogger, b config.Bench, path string) error {
	run := uuid.NewString()
	logger = logger.WithField("run", run)

	if path == "" {
		dir, err := os.MkdirTemp("", "mapq-bench-*")
		if err != nil {
			return fmt.Errorf("bench: %w", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()

		path = filepath.Join(dir, "bench-"+run+".mq")
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.EffectiveCwd, path)
	}

	var extra []mapq.Option

	if b.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		extra = append(extra, mapq.WithObserver(metrics.NewPrometheus(registry)))

		stop, err := serveMetrics(b.MetricsAddr, registry, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	q, err := mapq.CreateOrReplace(path, queueOptions(cfg, logger, extra...)...)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	res, err := runBench(ctx, q, b)
	if err != nil {
		return err
	}

	h := res.latency

	logger.WithFields(logrus.Fields{"path": path, "messages": res.messages}).Info("bench finished")

	o.Println(fmt.Sprintf("messages=%d warmup=%d payload=%d rate=%d region_size=%d run=%s",
		b.Messages, b.Warmup, b.MessageSize, b.Rate, cfg.RegionSize, run))
	o.Println(fmt.Sprintf("elapsed=%s throughput=%.0f msg/s",
		res.elapsed.Round(time.Microsecond), float64(res.messages)/res.elapsed.Seconds()))
	o.Println(fmt.Sprintf("latency_ns count=%d mean=%.0f p50=%d p90=%d p99=%d p99.9=%d p99.99=%d max=%d",
		h.TotalCount(), h.Mean(),
		h.ValueAtQuantile(50), h.ValueAtQuantile(90), h.ValueAtQuantile(99),
		h.ValueAtQuantile(99.9), h.ValueAtQuantile(99.99), h.Max()))

	return nil
}

// runBench publishes warmup+messages messages from one goroutine and reads
// them back from another.
func runBench(ctx context.Context, q *mapq.Queue, b config.Bench) (benchResult, error) {
	total := b.Warmup + b.Messages
	payload := strings.Repeat("x", b.MessageSize)
	hist := hdrhistogram.New(benchMinLatency, benchMaxLatency, benchSigFigs)

	var limiter *rate.Limiter
	if b.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(b.Rate), 1)
	}

	// Both ends are created up front so the subscriber's region pins exist
	// before the first message.
	app, err := q.Appender()
	if err != nil {
		return benchResult{}, err
	}
	defer func() { _ = app.Close() }()

	en, err := q.Enumerator()
	if err != nil {
		return benchResult{}, err
	}
	defer func() { _ = en.Close() }()

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()

	g.Go(func() error {
		for i := range total {
			if limiter != nil {
				err := limiter.Wait(gctx)
				if err != nil {
					return err
				}
			}

			app.PutInt64(time.Now().UnixNano()).PutInt64(int64(i)).PutText(payload)

			err := app.FinishWriteMessage()
			if err != nil {
				return fmt.Errorf("publish %d: %w", i, err)
			}
		}

		return nil
	})

	g.Go(func() error {
		spins := 0

		for i := 0; i < total; {
			if !en.HasNextMessage() {
				if err := en.Err(); err != nil {
					return err
				}

				spins++
				if spins%ctxCheckEvery == 0 && gctx.Err() != nil {
					return gctx.Err()
				}

				continue
			}

			sent, seq, _ := en.Int64(), en.Int64(), en.Text()
			received := time.Now().UnixNano()

			_, err := en.FinishReadMessage()
			if err != nil {
				return fmt.Errorf("subscribe %d: %w", i, err)
			}

			if seq != int64(i) {
				return fmt.Errorf("%w: got %d, want %d", errBenchSequence, seq, i)
			}

			if i >= b.Warmup {
				_ = hist.RecordValue(max(received-sent, benchMinLatency))
			}

			i++
		}

		return nil
	})

	err = g.Wait()
	if err != nil {
		return benchResult{}, err
	}

	return benchResult{messages: total, elapsed: time.Since(start), latency: hist}, nil
}

// serveMetrics serves /metrics on addr until the returned stop is called.
func serveMetrics(addr string, registry *prometheus.Registry, logger logrus.FieldLogger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()

	logger.WithField("addr", ln.Addr().String()).Info("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}, nil
}
