package cli_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/mapq/internal/cli"
	"github.com/calvinalkan/mapq/pkg/fs"
)

func writeProjectConfig(t *testing.T, c *cli.CLI, content string) {
	t.Helper()

	err := os.WriteFile(filepath.Join(c.Dir, ".mapq.json"), []byte(content), 0o644)
	if err != nil {
		t.Fatal(err)
	}
}

func Test_Append_Then_Read_Prints_Messages_In_Order(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	got := c.MustRun("--region-size", "64", "append", "1", "2", "3")
	if got != "committed=36" {
		t.Fatalf("append output=%q, want committed=36", got)
	}

	c.MustRun("--region-size", "64", "append", "--no-sync", "-5")

	// The second message is the int32 count at [36, 40) and -5 at [40, 48).
	out := c.MustRun("--region-size", "64", "read")

	want := "8\t1 2 3\n36\t-5"
	if out != want {
		t.Fatalf("read output=%q, want %q", out, want)
	}
}

func Test_Read_Writes_Dump_Atomically_When_Out_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("append", "42")

	out := c.MustRun("read", "--out", "dump.txt")
	cli.AssertContains(t, out, "wrote 1 messages")

	data, err := os.ReadFile(filepath.Join(c.Dir, "dump.txt"))
	if err != nil {
		t.Fatal(err)
	}

	if got, want := string(data), "8\t42\n"; got != want {
		t.Fatalf("dump=%q, want %q", got, want)
	}
}

func Test_Read_Fails_When_Queue_Is_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("read")

	cli.AssertContains(t, stderr, "no such file")
}

func Test_Append_Fails_When_Writer_Lock_Is_Held(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	lock, err := fs.NewLocker(fs.NewReal()).Lock(c.QueuePath() + ".lock")
	if err != nil {
		t.Fatal(err)
	}

	defer func() { _ = lock.Close() }()

	stderr := c.MustFail("append", "1")
	cli.AssertContains(t, stderr, "queue is being written by another process")
}

func Test_Append_Fails_When_Value_Is_Not_An_Integer(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("append", "1", "two")

	cli.AssertContains(t, stderr, `value "two"`)
}

func Test_Info_Reports_Committed_Position(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("--region-size", "4096", "append", "7")

	out := c.MustRun("--region-size", "4096", "info")

	cli.AssertContains(t, out, "region_size=4096")
	cli.AssertContains(t, out, "mode=read-only")
	cli.AssertContains(t, out, "committed=20")
	cli.AssertContains(t, out, "payload_bytes=12")
	cli.AssertContains(t, out, "length=4096")
}

func Test_Shell_Puts_Commits_And_Reads_Fields(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	script := strings.Join([]string{
		"put int64 9 ascii hello",
		"read int64",
		"commit",
		"put float64 2.5 utf8 grüße",
		"commit",
		"read int64 ascii",
		"read float64 utf8",
		"reset",
		"read int64 ascii",
		"info",
		"bogus",
		"exit",
	}, "\n")

	stdout, stderr, code := c.RunWithInput(script, "--region-size", "64", "shell")
	if code != 0 {
		t.Fatalf("shell exit=%d stderr=%s", code, stderr)
	}

	cli.AssertContains(t, stdout, "error: no committed message at the current position")
	cli.AssertContains(t, stdout, "int64=9")
	cli.AssertContains(t, stdout, `ascii="hello"`)
	cli.AssertContains(t, stdout, "float64=2.5")
	cli.AssertContains(t, stdout, `utf8="grüße"`)
	cli.AssertContains(t, stdout, "read_position=8")
	cli.AssertContains(t, stdout, `unknown command "bogus"`)

	if n := strings.Count(stdout, "int64=9"); n != 2 {
		t.Fatalf("int64=9 printed %d times, want 2 (before and after reset)\n%s", n, stdout)
	}
}

func Test_Shell_Rejects_Put_When_Read_Only(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("append", "1")

	stdout, _, code := c.RunWithInput("put int64 1\nread int32 int64\n", "shell", "--read-only")
	if code != 0 {
		t.Fatalf("shell exit=%d", code)
	}

	cli.AssertContains(t, stdout, "error: shell is read-only")
	cli.AssertContains(t, stdout, "int32=1")
	cli.AssertContains(t, stdout, "int64=1")
}

func Test_Bench_Reports_Latency_Percentiles(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	out := c.MustRun("--region-size", "4096", "bench", "--messages", "2000", "--warmup", "100", "--size", "16")

	cli.AssertContains(t, out, "messages=2000 warmup=100 payload=16")
	cli.AssertContains(t, out, "latency_ns count=2000")
	cli.AssertContains(t, out, "p99=")
	cli.AssertContains(t, out, " run=")
}
