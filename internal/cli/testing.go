package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

// CLI runs mapq in-process against a private temp directory. Every run
// passes --cwd so the default queue.mq and .mapq.json resolve inside Dir,
// and an empty environment so no user config leaks in.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

// NewCLI returns a CLI rooted at a fresh t.TempDir.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	return &CLI{t: t, Dir: t.TempDir(), Env: map[string]string{}}
}

// Run executes "mapq --cwd Dir args..." with empty stdin.
func (c *CLI) Run(args ...string) (stdout, stderr string, code int) {
	return c.RunWithInput("", args...)
}

// RunWithInput is Run with stdin, e.g. a script for the shell command.
// The shell only uses liner on os.Stdin, so scripts are read line by line.
func (c *CLI) RunWithInput(stdin string, args ...string) (stdout, stderr string, code int) {
	var out, errOut bytes.Buffer

	argv := append([]string{"mapq", "--cwd", c.Dir}, args...)
	code = Run(strings.NewReader(stdin), &out, &errOut, argv, c.Env, nil)

	return out.String(), errOut.String(), code
}

// MustRun fails the test on a non-zero exit and returns trimmed stdout.
func (c *CLI) MustRun(args ...string) string {
	c.t.Helper()

	stdout, stderr, code := c.Run(args...)
	if code != 0 {
		c.t.Fatalf("mapq %s: exit=%d, want 0\nstderr: %s", strings.Join(args, " "), code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail fails the test unless the command exits non-zero with nothing
// on stdout. It returns trimmed stderr.
func (c *CLI) MustFail(args ...string) string {
	c.t.Helper()

	stdout, stderr, code := c.Run(args...)

	switch {
	case code == 0:
		c.t.Fatalf("mapq %s: exit=0, want failure\nstdout: %s", strings.Join(args, " "), stdout)
	case stdout != "":
		c.t.Fatalf("mapq %s: failed but wrote stdout: %s", strings.Join(args, " "), stdout)
	}

	return strings.TrimSpace(stderr)
}

// QueuePath is where commands find the queue when neither --queue nor a
// config sets queue_path.
func (c *CLI) QueuePath() string {
	return filepath.Join(c.Dir, "queue.mq")
}

// AssertContains reports an error when out lacks want.
func AssertContains(t *testing.T, out, want string) {
	t.Helper()

	if !strings.Contains(out, want) {
		t.Errorf("output missing %q\noutput:\n%s", want, out)
	}
}
