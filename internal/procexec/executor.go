package procexec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"tonearm/internal/services"
)

// Stream identifies which pipe a line was read from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// LineHandler receives each output line as it is produced.
type LineHandler func(stream Stream, line string)

// Executor abstracts command execution so engine clients can be tested
// without the real binaries.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine LineHandler) error
}

// StreamExecutor is implemented by executors that can hand stdout to a
// reader without splitting it into lines.
type StreamExecutor interface {
	RunStream(ctx context.Context, binary string, args []string, readStdout func(io.Reader) error, onStderr LineHandler) error
}

// ExitError reports a non-zero exit along with the last line the process
// wrote to stderr.
type ExitError struct {
	Binary     string
	Code       int
	LastStderr string
	Err        error
}

func (e *ExitError) Error() string {
	if e.LastStderr != "" {
		return fmt.Sprintf("%s exited with status %d: %s", e.Binary, e.Code, e.LastStderr)
	}
	return fmt.Sprintf("%s exited with status %d", e.Binary, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// waitDelay bounds how long Wait blocks on pipes held open by orphaned
// grandchildren after the group has been killed.
const waitDelay = 2 * time.Second

// CommandExecutor runs binaries in their own process group. When ctx ends the
// whole group receives SIGKILL, so helpers spawned by the engine (yt-dlp
// starts ffmpeg for remuxing) die with it.
type CommandExecutor struct{}

// maxLineBytes caps a single line delivered to a LineHandler. Longer lines
// abort the run; callers expecting large records use RunStream.
const maxLineBytes = 1024 * 1024

// Run starts binary and streams stdout and stderr line by line to onLine.
// Lines are split on LF or CR so carriage-return progress meters are seen as
// discrete updates. A missing binary is reported as ErrDependencyMissing.
func (e CommandExecutor) Run(ctx context.Context, binary string, args []string, onLine LineHandler) error {
	return e.run(ctx, binary, args, nil, onLine)
}

// RunStream starts binary and hands its stdout to readStdout unsplit, so
// records of any size can be decoded. Stderr is still delivered line by line
// to onStderr.
func (e CommandExecutor) RunStream(ctx context.Context, binary string, args []string, readStdout func(io.Reader) error, onStderr LineHandler) error {
	return e.run(ctx, binary, args, readStdout, onStderr)
}

func (CommandExecutor) run(ctx context.Context, binary string, args []string, readStdout func(io.Reader) error, onLine LineHandler) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if IsNotFound(err) {
			return services.Wrap(services.ErrDependencyMissing, "", binary, "binary not found", err)
		}
		return fmt.Errorf("start command: %w", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		lastErr string
		readErr error
		errOnce sync.Once
	)
	forward := func(stream Stream, line string) {
		if stream == Stderr {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				mu.Lock()
				lastErr = trimmed
				mu.Unlock()
			}
		}
		if onLine != nil && (stream == Stderr || readStdout == nil) {
			onLine(stream, line)
		}
	}
	scanLines := func(stream Stream) func(io.Reader) error {
		return func(r io.Reader) error {
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
			scanner.Split(ScanLinesOrCR)
			for scanner.Scan() {
				forward(stream, scanner.Text())
			}
			return scanner.Err()
		}
	}
	// consume runs read over r. A read failure kills the process group at
	// once; the pipe is then drained so the other reader can reach EOF.
	consume := func(r io.Reader, read func(io.Reader) error) {
		defer wg.Done()
		if err := read(r); err != nil {
			errOnce.Do(func() {
				readErr = err
				_ = cmd.Cancel()
			})
		}
		_, _ = io.Copy(io.Discard, r)
	}

	stdoutReader := readStdout
	if stdoutReader == nil {
		stdoutReader = scanLines(Stdout)
	}
	wg.Add(2)
	go consume(stdout, stdoutReader)
	go consume(stderr, scanLines(Stderr))
	wg.Wait()

	waitErr := cmd.Wait()
	if readErr != nil {
		return fmt.Errorf("read output: %w", readErr)
	}
	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s killed: %w", binary, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			mu.Lock()
			last := lastErr
			mu.Unlock()
			return &ExitError{Binary: binary, Code: exitErr.ExitCode(), LastStderr: last, Err: waitErr}
		}
		return fmt.Errorf("wait command: %w", waitErr)
	}
	return nil
}

// IsNotFound reports whether err means the binary could not be resolved.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// ScanLinesOrCR is a bufio.SplitFunc that treats "\r", "\n" and "\r\n" as line
// terminators and drops empty tokens produced by consecutive terminators.
func ScanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && (data[start] == '\r' || data[start] == '\n') {
		start++
	}
	if atEOF && start == len(data) {
		return len(data), nil, nil
	}
	if i := bytes.IndexAny(data[start:], "\r\n"); i >= 0 {
		return start + i + 1, data[start : start+i], nil
	}
	if atEOF {
		return len(data), data[start:], nil
	}
	return start, nil, nil
}
