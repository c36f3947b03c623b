package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"tonearm/internal/logging"
	"tonearm/internal/procexec"
	"tonearm/internal/progress"
	"tonearm/internal/services"
)

const (
	toolName       = "ffmpeg"
	stageName      = "transcode"
	defaultTimeout = 600 * time.Second
)

var logTagPrefix = regexp.MustCompile(`^\[[^\]]+ @ 0x[0-9a-fA-F]+\]\s*`)

// genericDiagnostics are summary lines ffmpeg prints after the real error.
var genericDiagnostics = map[string]struct{}{
	"conversion failed!":                   {},
	"exiting normally, received signal 2.": {},
}

// ErrNoPicture reports that the input carries no embedded image to extract.
var ErrNoPicture = errors.New("no embedded picture")

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec procexec.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger attaches a logger for invocation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client wraps ffmpeg invocations.
type Client struct {
	binary  string
	timeout time.Duration
	enc     Encoding
	exec    procexec.Executor
	logger  *slog.Logger
}

// New constructs an ffmpeg client. A non-positive timeout selects the default.
func New(binary string, timeoutSeconds int, enc Encoding, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		binary:  binary,
		timeout: timeout,
		enc:     enc,
		exec:    procexec.CommandExecutor{},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Transcode encodes req.Input into req.Output with optional trim and cover
// art, returning the output path.
func (c *Client) Transcode(ctx context.Context, req Request, onProgress progress.Func) (string, error) {
	if strings.TrimSpace(req.Input) == "" || strings.TrimSpace(req.Output) == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "transcode", "input and output required", nil)
	}
	if err := req.Trim.Validate(); err != nil {
		return "", services.Wrap(services.ErrValidation, stageName, "transcode", err.Error(), nil)
	}
	total := req.Trim.Length(req.Duration)
	if err := c.run(ctx, "transcode", BuildArgs(req, c.enc), total, onProgress, &diagnostics{}); err != nil {
		return "", err
	}
	return c.finish(req.Output, onProgress)
}

// Reencode converts an existing local file to another codec, keeping its tags.
func (c *Client) Reencode(ctx context.Context, req ReencodeRequest, onProgress progress.Func) (string, error) {
	if strings.TrimSpace(req.Input) == "" || strings.TrimSpace(req.Output) == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "reencode", "input and output required", nil)
	}
	if filepath.Clean(req.Input) == filepath.Clean(req.Output) {
		return "", services.Wrap(services.ErrValidation, stageName, "reencode", "output must differ from input", nil)
	}
	if err := c.run(ctx, "reencode", BuildReencodeArgs(req, c.enc), req.Duration, onProgress, &diagnostics{}); err != nil {
		return "", err
	}
	return c.finish(req.Output, onProgress)
}

// ExtractPicture writes the first embedded picture of input to output as a
// JPEG. ErrNoPicture is returned when the input has no video stream.
func (c *Client) ExtractPicture(ctx context.Context, input, output string) error {
	args := []string{
		"-hide_banner", "-nostdin", "-y", "-v", "error",
		"-i", input,
		"-map", "0:v:0", "-frames:v", "1", "-c:v", "mjpeg", "-f", "image2",
		output,
	}
	diag := &diagnostics{}
	err := c.run(ctx, "extract picture", args, 0, nil, diag)
	if err == nil {
		return nil
	}
	var tool *services.ToolError
	if errors.As(err, &tool) && diag.contains("matches no streams") {
		_ = os.Remove(output)
		return ErrNoPicture
	}
	return err
}

func (c *Client) finish(output string, onProgress progress.Func) (string, error) {
	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		return "", services.Wrap(services.ErrMissingOutput, stageName, "locate output", "ffmpeg produced no output file", err)
	}
	onProgress.Emit(progress.Update{Stage: progress.StageComplete, Percent: 100})
	return output, nil
}

func (c *Client) run(ctx context.Context, operation string, args []string, total float64, onProgress progress.Func, diag *diagnostics) error {
	c.logger.Debug("starting ffmpeg",
		logging.String("operation", operation),
		logging.Strings("args", args),
		logging.String(logging.FieldEventType, "transcode_start"),
	)

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.exec.Run(runCtx, c.binary, args, func(stream procexec.Stream, line string) {
		if stream == procexec.Stderr {
			diag.observe(line)
			return
		}
		if update, ok := ParseProgress(line, total); ok {
			onProgress.Emit(update)
		}
	})
	if err == nil {
		return nil
	}

	switch {
	case ctx.Err() != nil:
		return services.Wrap(services.ErrCancelled, stageName, operation, "", err)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return services.Wrap(services.ErrTranscodeTimeout, stageName, operation,
			fmt.Sprintf("ffmpeg exceeded %s", c.timeout), err)
	case errors.Is(err, services.ErrDependencyMissing):
		return err
	}
	var exitErr *procexec.ExitError
	if errors.As(err, &exitErr) {
		diagnostic := diag.last()
		if diagnostic == "" {
			diagnostic = CleanDiagnostic(exitErr.LastStderr)
		}
		tool := &services.ToolError{Tool: toolName, ExitCode: exitErr.Code, Diagnostic: diagnostic}
		return services.Wrap(services.ErrTranscodeFailed, stageName, operation, "", tool)
	}
	return services.Wrap(services.ErrTranscodeFailed, stageName, operation, "", err)
}

// ParseProgress converts an ffmpeg -progress key=value line into a converting
// update. Only out_time_us lines produce updates, and only when total is known.
func ParseProgress(line string, total float64) (progress.Update, bool) {
	if total <= 0 {
		return progress.Update{}, false
	}
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found || key != "out_time_us" {
		return progress.Update{}, false
	}
	micros, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || micros < 0 {
		return progress.Update{}, false
	}
	percent := float64(micros) / 1e6 / total * 100
	if percent > 100 {
		percent = 100
	}
	return progress.Update{Stage: progress.StageConverting, Percent: percent}, true
}

// CleanDiagnostic strips the "[tag @ 0x...]" logging prefix ffmpeg puts in
// front of component messages.
func CleanDiagnostic(line string) string {
	return strings.TrimSpace(logTagPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
}

// maxDiagnosticLines bounds the stderr tail kept per invocation.
const maxDiagnosticLines = 16

type diagnostics struct {
	mu       sync.Mutex
	specific string
	lastLine string
	tail     []string
}

func (d *diagnostics) observe(line string) {
	line = CleanDiagnostic(line)
	if line == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastLine = line
	d.tail = append(d.tail, line)
	if len(d.tail) > maxDiagnosticLines {
		d.tail = d.tail[1:]
	}
	if _, generic := genericDiagnostics[strings.ToLower(line)]; !generic {
		d.specific = line
	}
}

func (d *diagnostics) last() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.specific != "" {
		return d.specific
	}
	return d.lastLine
}

func (d *diagnostics) contains(fragment string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	fragment = strings.ToLower(fragment)
	for _, line := range d.tail {
		if strings.Contains(strings.ToLower(line), fragment) {
			return true
		}
	}
	return false
}
