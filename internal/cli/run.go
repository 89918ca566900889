package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mapq/internal/config"
	"github.com/calvinalkan/mapq/pkg/mapq"
)

// Run is the main entry point. Returns exit code.
//
// sigCh may be nil. The first signal cancels the command context; commands
// that loop (bench, shell) stop at the next check.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("mapq", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	flagHelp := globals.BoolP("help", "h", false, "Show help")
	flagCwd := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globals.StringP("config", "c", "", "Use specified config `file`")
	flagQueue := globals.StringP("queue", "q", "", "Queue file `path` (overrides config)")
	flagRegionSize := globals.Int64("region-size", 0, "Region size in `bytes` (overrides config)")
	flagLogLevel := globals.String("log-level", "", "Log `level` (overrides config)")

	if len(args) == 0 {
		args = []string{"mapq"}
	}

	err := globals.Parse(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, globals, nil)

		return 1
	}

	rest := globals.Args()

	if *flagHelp || len(rest) == 0 {
		printUsage(out, globals, nil)

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: *flagCwd,
		ConfigPath:      *flagConfig,
		Overrides: config.Overrides{
			QueuePath:  *flagQueue,
			RegionSize: *flagRegionSize,
			LogLevel:   *flagLogLevel,
		},
		Env: env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	logger.SetOutput(errOut)

	env = withDefaultEnv(env)
	commands := allCommands(&cfg, logger, env)

	cmdMap := make(map[string]*Command, len(commands))
	for _, cmd := range commands {
		cmdMap[cmd.Name()] = cmd
	}

	name := rest[0]

	cmd, ok := cmdMap[name]
	if !ok {
		fprintln(errOut, "error: unknown command:", name)
		printUsage(errOut, globals, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				logger.Info("interrupted, stopping")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(in, out, errOut), rest[1:])
}

func allCommands(cfg *config.Config, logger *logrus.Logger, env map[string]string) []*Command {
	return []*Command{
		InfoCmd(cfg, logger),
		AppendCmd(cfg, logger),
		ReadCmd(cfg, logger),
		BenchCmd(cfg, logger),
		ShellCmd(cfg, logger, env),
		PrintConfigCmd(cfg),
	}
}

// queueOptions returns the open options every command shares.
func queueOptions(cfg *config.Config, logger logrus.FieldLogger, extra ...mapq.Option) []mapq.Option {
	opts := []mapq.Option{
		mapq.WithRegionSize(cfg.RegionSize),
		mapq.WithLogger(logger),
	}

	return append(opts, extra...)
}

// errNoArgs reports unexpected positional arguments.
var errNoArgs = errors.New("command takes no arguments")

func withDefaultEnv(env map[string]string) map[string]string {
	if env == nil {
		return map[string]string{}
	}

	return env
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	if commands == nil {
		cfg := config.Default()
		commands = allCommands(&cfg, logrus.New(), nil)
	}

	fprintln(w, `mapq - memory-mapped one-to-many message log

Usage: mapq [global flags] <command> [args]

Global flags:`)

	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})
	_, _ = io.WriteString(w, buf.String())

	fprintln(w)
	fprintln(w, "Commands:")

	width := usageWidth(commands)
	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine(width))
	}
}
