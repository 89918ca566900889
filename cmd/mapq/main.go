// Command mapq inspects, appends to and benchmarks memory-mapped message
// logs. Run "mapq --help" for the command list.
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/calvinalkan/mapq/internal/cli"
)

func main() {
	os.Exit(run())
}

// run is split from main so the signal handler is stopped before exit.
func run() int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, environ(), sigCh)
}

// environ returns the process environment as a map. The CLI reads
// XDG_CONFIG_HOME and HOME from it to find the global config.
func environ() map[string]string {
	env := make(map[string]string)

	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if k != "" {
			env[k] = v
		}
	}

	return env
}
