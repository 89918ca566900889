package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/peterh/liner"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mapq/internal/config"
	"github.com/calvinalkan/mapq/pkg/fs"
	"github.com/calvinalkan/mapq/pkg/mapq"
)

var (
	errUnknownType  = errors.New("unknown field type")
	errShellUsage   = errors.New("wrong number of arguments")
	errNoAppender   = errors.New("shell is read-only")
	errNoNext       = errors.New("no committed message at the current position")
	errAppenderDead = errors.New("appender failed earlier; restart the shell")
)

// fieldTypes lists the types accepted by put and read.
var fieldTypes = []string{
	"bool", "int8", "int16", "int32", "int64", "float32", "float64",
	"char", "achar", "ascii", "utf8", "text",
}

// ShellCmd returns the shell command.
func ShellCmd(cfg *config.Config, logger logrus.FieldLogger, env map[string]string) *Command {
	flags := flag.NewFlagSet("shell", flag.ContinueOnError)
	readOnly := flags.Bool("read-only", false, "Open the queue read-only (no put/commit)")

	return &Command{
		Flags: flags,
		Usage: "shell [flags]",
		Short: "Interactive field-level REPL",
		Long: `Open the queue and read commands from the terminal.

  put <type> <value> [<type> <value>...]   Write fields of the current message
  commit                                   Publish the fields written so far
  flush                                    Flush the queue file to disk
  read <type>...                           Read the next message as these types
  reset                                    Rewind the reader to the first message
  info                                     Show positions
  help                                     Show this help
  exit / quit / q                          Exit

Types: ` + strings.Join(fieldTypes, ", "),
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return errNoArgs
			}

			return execShell(ctx, o, cfg, logger, env, *readOnly)
		},
	}
}

// prompter is the line source of the shell: liner on a terminal, a plain
// scanner otherwise.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

type scanPrompter struct {
	sc *bufio.Scanner
}

func (p *scanPrompter) Prompt(string) (string, error) {
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return "", err
		}

		return "", io.EOF
	}

	return p.sc.Text(), nil
}

func (*scanPrompter) AppendHistory(string) {}

type shell struct {
	o   *IO
	q   *mapq.Queue
	app *mapq.Appender
	en  *mapq.Enumerator
}

func execShell(ctx context.Context, o *IO, cfg *config.Config, logger logrus.FieldLogger, env map[string]string, readOnly bool) error {
	path := cfg.QueuePathAbs()

	var (
		q   *mapq.Queue
		err error
	)

	if readOnly {
		q, err = mapq.OpenReadOnly(path, queueOptions(cfg, logger)...)
	} else {
		var lock *fs.Lock

		lock, err = lockWriter(path, 0)
		if err != nil {
			return err
		}
		defer func() { _ = lock.Close() }()

		q, err = mapq.CreateOrAppend(path, queueOptions(cfg, logger)...)
	}

	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	sh := &shell{o: o, q: q}

	if !readOnly {
		sh.app, err = q.Appender()
		if err != nil {
			return err
		}
		defer func() { _ = sh.app.Close() }()
	}

	sh.en, err = q.Enumerator()
	if err != nil {
		return err
	}
	defer func() { _ = sh.en.Close() }()

	var p prompter

	if f, ok := o.in.(*os.File); ok && f == os.Stdin {
		ln := liner.NewLiner()
		defer func() { _ = ln.Close() }()

		ln.SetCtrlCAborts(true)
		ln.SetCompleter(completeShell)

		history := historyPath(env)
		if hf, err := os.Open(history); err == nil {
			_, _ = ln.ReadHistory(hf)
			_ = hf.Close()
		}

		defer saveHistory(ln, history)

		p = ln
	} else {
		p = &scanPrompter{sc: bufio.NewScanner(o.in)}
	}

	o.Println(fmt.Sprintf("mapq shell on %s (region_size=%d, %s)", path, cfg.RegionSize, q.File().Mode()))
	o.Println("Type 'help' for available commands.")

	return sh.loop(ctx, p)
}

func (sh *shell) loop(ctx context.Context, p prompter) error {
	for ctx.Err() == nil {
		line, err := p.Prompt("mapq> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p.AppendHistory(line)

		quit, err := sh.exec(line)
		if err != nil {
			sh.o.Println("error:", err)
		}

		if quit {
			return nil
		}
	}

	return nil
}

// exec runs one shell line.
func (sh *shell) exec(line string) (bool, error) {
	parts := strings.Fields(line)
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		return true, nil
	case "help", "?":
		sh.help()

		return false, nil
	case "put":
		return false, sh.put(args)
	case "commit":
		return false, sh.commit()
	case "flush":
		return false, sh.flush()
	case "read":
		return false, sh.read(args)
	case "reset":
		sh.en.Reset()
		sh.o.Println(fmt.Sprintf("read_position=%d", sh.en.Position()))

		return false, nil
	case "info":
		return false, sh.info()
	default:
		return false, fmt.Errorf("unknown command %q (type 'help' for commands)", cmd)
	}
}

func (sh *shell) help() {
	sh.o.Println("put <type> <value>...  commit  flush  read <type>...  reset  info  help  exit")
	sh.o.Println("types: " + strings.Join(fieldTypes, " "))
}

func (sh *shell) put(args []string) error {
	if sh.app == nil {
		return errNoAppender
	}

	if len(args) == 0 || len(args)%2 != 0 {
		return fmt.Errorf("%w: put <type> <value> [<type> <value>...]", errShellUsage)
	}

	if sh.app.Err() != nil {
		return errAppenderDead
	}

	// Parse everything first so a typo does not leave half a put behind.
	puts := make([]func(), 0, len(args)/2)

	for i := 0; i < len(args); i += 2 {
		fn, err := fieldPut(sh.app, args[i], args[i+1])
		if err != nil {
			return err
		}

		puts = append(puts, fn)
	}

	for _, fn := range puts {
		fn()
	}

	if err := sh.app.Err(); err != nil {
		return err
	}

	sh.o.Println(fmt.Sprintf("write_position=%d", sh.app.Position()))

	return nil
}

func (sh *shell) commit() error {
	if sh.app == nil {
		return errNoAppender
	}

	err := sh.app.FinishWriteMessage()
	if err != nil {
		return err
	}

	sh.o.Println(fmt.Sprintf("committed=%d", sh.app.Position()))

	return nil
}

func (sh *shell) flush() error {
	if sh.app == nil {
		return errNoAppender
	}

	err := sh.app.Flush()
	if err != nil {
		return err
	}

	sh.o.Println("flushed")

	return nil
}

func (sh *shell) read(types []string) error {
	if len(types) == 0 {
		return fmt.Errorf("%w: read <type>...", errShellUsage)
	}

	for _, typ := range types {
		if !knownType(typ) {
			return fmt.Errorf("%w: %s", errUnknownType, typ)
		}
	}

	if !sh.en.HasNextMessage() {
		if err := sh.en.Err(); err != nil {
			return err
		}

		return errNoNext
	}

	values := make([]string, len(types))
	for i, typ := range types {
		values[i] = fieldGet(sh.en, typ)
	}

	next, err := sh.en.FinishReadMessage()
	if err != nil {
		// Let the next read start over from the first message.
		sh.en.Reset()

		return fmt.Errorf("%w (reader rewound)", err)
	}

	for i, typ := range types {
		sh.o.Println(fmt.Sprintf("%s=%s", typ, values[i]))
	}

	sh.o.Println(fmt.Sprintf("read_position=%d", next.Position()))

	return nil
}

func (sh *shell) info() error {
	committed, err := sh.q.Committed()
	if err != nil {
		return err
	}

	if sh.app != nil {
		sh.o.Println(fmt.Sprintf("write_position=%d", sh.app.Position()))
	}

	sh.o.Println(fmt.Sprintf("read_position=%d", sh.en.Position()))
	sh.o.Println(fmt.Sprintf("committed=%d", committed))
	sh.o.Println(fmt.Sprintf("live_regions=%d", sh.q.File().LiveRegions()))

	return nil
}

func knownType(typ string) bool {
	for _, t := range fieldTypes {
		if t == typ {
			return true
		}
	}

	return false
}

// fieldPut parses value as typ and returns the write to perform.
func fieldPut(w mapq.MessageWriter, typ, value string) (func(), error) {
	bad := func(err error) (func(), error) {
		return nil, fmt.Errorf("%s %q: %w", typ, value, err)
	}

	switch typ {
	case "bool":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return bad(err)
		}

		return func() { w.PutBool(v) }, nil
	case "int8", "int16", "int32", "int64":
		bits, _ := strconv.Atoi(strings.TrimPrefix(typ, "int"))

		v, err := strconv.ParseInt(value, 10, bits)
		if err != nil {
			return bad(err)
		}

		switch bits {
		case 8:
			return func() { w.PutInt8(int8(v)) }, nil
		case 16:
			return func() { w.PutInt16(int16(v)) }, nil
		case 32:
			return func() { w.PutInt32(int32(v)) }, nil
		default:
			return func() { w.PutInt64(v) }, nil
		}
	case "float32", "float64":
		bits, _ := strconv.Atoi(strings.TrimPrefix(typ, "float"))

		v, err := strconv.ParseFloat(value, bits)
		if err != nil {
			return bad(err)
		}

		if bits == 32 {
			return func() { w.PutFloat32(float32(v)) }, nil
		}

		return func() { w.PutFloat64(v) }, nil
	case "char", "achar":
		r, size := utf8.DecodeRuneInString(value)
		if size != len(value) || r == utf8.RuneError {
			return bad(errShellUsage)
		}

		if typ == "achar" {
			return func() { w.PutCharASCII(r) }, nil
		}

		return func() { w.PutChar(r) }, nil
	case "ascii":
		return func() { w.PutStringASCII(value) }, nil
	case "utf8":
		return func() { w.PutStringUTF8(value) }, nil
	case "text":
		return func() { w.PutText(value) }, nil
	default:
		return bad(errUnknownType)
	}
}

// fieldGet reads one field of type typ and formats it.
func fieldGet(r mapq.MessageReader, typ string) string {
	switch typ {
	case "bool":
		return strconv.FormatBool(r.Bool())
	case "int8":
		return strconv.Itoa(r.Int8AsInt())
	case "int16":
		return strconv.Itoa(r.Int16AsInt())
	case "int32":
		return strconv.FormatInt(int64(r.Int32()), 10)
	case "int64":
		return strconv.FormatInt(r.Int64(), 10)
	case "float32":
		return strconv.FormatFloat(float64(r.Float32()), 'g', -1, 32)
	case "float64":
		return strconv.FormatFloat(r.Float64(), 'g', -1, 64)
	case "char":
		return string(r.Char())
	case "achar":
		return string(rune(r.CharASCII()))
	case "ascii":
		return strconv.Quote(r.StringASCII())
	case "utf8":
		return strconv.Quote(r.StringUTF8())
	default:
		return strconv.Quote(r.Text())
	}
}

func completeShell(line string) []string {
	var out []string

	for _, c := range []string{"put ", "commit", "flush", "read ", "reset", "info", "help", "exit"} {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}

	return out
}

// historyPath returns the shell history file, empty if HOME is unknown.
func historyPath(env map[string]string) string {
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".mapq_history")
	}

	return ""
}

func saveHistory(ln *liner.State, path string) {
	if path == "" {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		return
	}

	_, _ = ln.WriteHistory(f)
	_ = f.Close()
}
