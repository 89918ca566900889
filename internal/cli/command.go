package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one mapq subcommand.
type Command struct {
	// Flags holds the command's own flags. Global flags (--queue,
	// --region-size, ...) are parsed before the command name and never
	// reach it.
	Flags *flag.FlagSet

	// Usage starts with the command name, e.g. "read [flags]".
	Usage string

	// Short is the one-line summary in "mapq --help".
	Short string

	// Long is shown by "mapq <command> --help". Short is used when empty.
	Long string

	// Exec runs with the remaining positional args. The queue file is
	// resolved from config, not from args.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name is the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine renders the command for the "Commands:" listing with Usage
// padded to width.
func (c *Command) HelpLine(width int) string {
	return fmt.Sprintf("  %-*s  %s", width, c.Usage, c.Short)
}

// usageWidth is the widest Usage among commands.
func usageWidth(commands []*Command) int {
	width := 0
	for _, cmd := range commands {
		width = max(width, len(cmd.Usage))
	}

	return width
}

// PrintHelp writes "mapq <command> --help" output.
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: mapq", c.Usage)
	o.Println()

	if c.Long != "" {
		o.Println(c.Long)
	} else {
		o.Println(c.Short)
	}

	if c.Flags == nil || !c.Flags.HasFlags() {
		return
	}

	var buf strings.Builder

	c.Flags.SetOutput(&buf)
	c.Flags.PrintDefaults()

	o.Println()
	o.Println("Flags:")
	o.Printf("%s", buf.String())
}

// Run parses args and executes the command, returning the exit code.
// Errors go to stderr as "error: ..."; a flag error is followed by the
// command help.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	// pflag would print its own error text; errors are reported below.
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	switch {
	case errors.Is(err, flag.ErrHelp):
		c.PrintHelp(o)

		return 0
	case err != nil:
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return 1
	}

	err = c.Exec(ctx, o, c.Flags.Args())
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return o.Finish()
}
