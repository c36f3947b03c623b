package procexec_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tonearm/internal/procexec"
	"tonearm/internal/services"
)

type capturedLines struct {
	mu     sync.Mutex
	stdout []string
	stderr []string
}

func (c *capturedLines) handle(stream procexec.Stream, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stream == procexec.Stderr {
		c.stderr = append(c.stderr, line)
		return
	}
	c.stdout = append(c.stdout, line)
}

func TestRunStreamsBothPipes(t *testing.T) {
	var lines capturedLines
	err := procexec.CommandExecutor{}.Run(context.Background(), "/bin/sh",
		[]string{"-c", `printf 'one\rtwo\nthree\n'; echo oops >&2`}, lines.handle)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := strings.Join(lines.stdout, ","); got != "one,two,three" {
		t.Fatalf("unexpected stdout lines %q", got)
	}
	if len(lines.stderr) != 1 || lines.stderr[0] != "oops" {
		t.Fatalf("unexpected stderr lines %v", lines.stderr)
	}
}

func TestRunReportsLastStderrLine(t *testing.T) {
	err := procexec.CommandExecutor{}.Run(context.Background(), "/bin/sh",
		[]string{"-c", `echo first >&2; echo "final problem" >&2; exit 3`}, nil)
	var exitErr *procexec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != 3 {
		t.Fatalf("expected exit code 3, got %d", exitErr.Code)
	}
	if exitErr.LastStderr != "final problem" {
		t.Fatalf("unexpected last stderr %q", exitErr.LastStderr)
	}
}

func TestRunMissingBinaryIsDependencyMissing(t *testing.T) {
	err := procexec.CommandExecutor{}.Run(context.Background(), "tonearm-definitely-missing-binary", nil, nil)
	if !errors.Is(err, services.ErrDependencyMissing) {
		t.Fatalf("expected ErrDependencyMissing, got %v", err)
	}
}

func TestRunKillsProcessGroupOnCancel(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	script := `sleep 30 & echo $! > "` + pidFile + `"; echo started; wait`
	done := make(chan error, 1)
	started := make(chan struct{})
	var once sync.Once
	go func() {
		done <- procexec.CommandExecutor{}.Run(ctx, "/bin/sh", []string{"-c", script}, func(_ procexec.Stream, line string) {
			if line == "started" {
				once.Do(func() { close(started) })
			}
		})
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("script did not start")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	pid := readPID(t, pidFile)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("grandchild %s survived cancellation", pid)
}

func TestRunTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := procexec.CommandExecutor{}.Run(ctx, "/bin/sh", []string{"-c", "sleep 30"}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("timeout took too long: %v", time.Since(start))
	}
}

func TestScanLinesOrCR(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("a\r\nb\r\rc\nlast"))
	scanner.Split(procexec.ScanLinesOrCR)
	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	if strings.Join(got, "|") != "a|b|c|last" {
		t.Fatalf("unexpected tokens %q", got)
	}
}

func readPID(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	return strings.TrimSpace(string(data))
}

func processAlive(pid string) bool {
	data, err := os.ReadFile(filepath.Join("/proc", pid, "stat"))
	if err != nil {
		return false
	}
	// Zombies are dead for our purposes.
	fields := strings.Fields(string(data))
	return len(fields) > 2 && fields[2] != "Z"
}

func TestRunKillsProcessOnOverlongLine(t *testing.T) {
	script := `head -c 1200000 /dev/zero | tr '\000' a; echo; sleep 30`
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	start := time.Now()
	err := procexec.CommandExecutor{}.Run(ctx, "/bin/sh", []string{"-c", script}, nil)
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("run only ended when the context expired: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("process was not killed promptly (%s)", elapsed)
	}
}

func TestRunStreamReadsLongStdout(t *testing.T) {
	script := `head -c 1200000 /dev/zero | tr '\000' a; echo; echo warn >&2`
	var (
		size   int
		stderr capturedLines
	)
	err := procexec.CommandExecutor{}.RunStream(context.Background(), "/bin/sh", []string{"-c", script},
		func(r io.Reader) error {
			data, err := io.ReadAll(r)
			size = len(data)
			return err
		}, stderr.handle)
	if err != nil {
		t.Fatalf("RunStream returned error: %v", err)
	}
	if size != 1200001 {
		t.Fatalf("expected the whole stdout, got %d bytes", size)
	}
	if len(stderr.stderr) != 1 || stderr.stderr[0] != "warn" {
		t.Fatalf("unexpected stderr lines %v", stderr.stderr)
	}
}
