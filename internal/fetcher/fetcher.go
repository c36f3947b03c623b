package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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
	toolName       = "yt-dlp"
	stageName      = "acquisition"
	defaultTimeout = 300 * time.Second
)

var (
	percentPattern = regexp.MustCompile(`^\[download\]\s+(\d{1,3}(?:\.\d+)?)%`)
	ratePattern    = regexp.MustCompile(`\sat\s+(Unknown B/s|\S+)`)
	etaPattern     = regexp.MustCompile(`\sETA\s+(\S+)`)
	errorPrefix    = regexp.MustCompile(`^(?i:error):\s*`)
)

// sideFileSuffixes are written next to the raw media by yt-dlp and never
// hold the audio itself.
var sideFileSuffixes = []string{".part", ".ytdl", ".jpg", ".jpeg", ".png", ".webp", ".json", ".description"}

// Downloader defines the behaviour the pipeline needs from the acquisition engine.
type Downloader interface {
	Download(ctx context.Context, reference, workDir, prefix string, onProgress progress.Func) (string, error)
}

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

// WithFFmpegLocation passes --ffmpeg-location to yt-dlp.
func WithFFmpegLocation(dir string) Option {
	return func(c *Client) {
		c.ffmpegLocation = strings.TrimSpace(dir)
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

// Client wraps yt-dlp CLI interactions.
type Client struct {
	binary         string
	timeout        time.Duration
	ffmpegLocation string
	exec           procexec.Executor
	logger         *slog.Logger
}

// New constructs a yt-dlp client. A non-positive timeout selects the default.
func New(binary string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("yt-dlp binary required")
	}
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		binary:  binary,
		timeout: timeout,
		exec:    procexec.CommandExecutor{},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Download fetches the best audio stream for reference into workDir and
// returns the path of the raw file. The file name starts with prefix so
// cleanup can find it without knowing the extension yt-dlp picked.
func (c *Client) Download(ctx context.Context, reference, workDir, prefix string, onProgress progress.Func) (string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "download", "reference required", nil)
	}
	if strings.TrimSpace(workDir) == "" || strings.TrimSpace(prefix) == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "download", "work directory and prefix required", nil)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrAcquisitionFailed, stageName, "prepare work dir", "", err)
	}

	args := c.downloadArgs(reference, workDir, prefix)
	c.logger.Debug("starting yt-dlp download",
		logging.String("reference", reference),
		logging.String("prefix", prefix),
		logging.Strings("args", args),
		logging.String(logging.FieldEventType, "fetch_start"),
	)

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	diag := &diagnostics{}
	err := c.exec.Run(runCtx, c.binary, args, func(stream procexec.Stream, line string) {
		if stream == procexec.Stderr {
			diag.observe(line)
			return
		}
		if update, ok := ParseProgress(line); ok {
			onProgress.Emit(update)
		}
	})
	if err != nil {
		return "", c.classify(ctx, runCtx, "download", err, diag.last())
	}

	raw, err := FindRawFile(workDir, prefix)
	if err != nil {
		return "", err
	}
	onProgress.Emit(progress.Update{Stage: progress.StageDownloading, Percent: 100})
	return raw, nil
}

func (c *Client) downloadArgs(reference, workDir, prefix string) []string {
	args := []string{
		"-f", "bestaudio/best",
		"--no-playlist",
		"--newline",
		"--force-overwrites",
		"--no-part",
		"-o", filepath.Join(workDir, prefix+".raw.%(ext)s"),
	}
	if c.ffmpegLocation != "" {
		args = append(args, "--ffmpeg-location", c.ffmpegLocation)
	}
	return append(args, "--", reference)
}

// Thumbnail is one entry of the thumbnails list in yt-dlp metadata.
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Info is the subset of yt-dlp --dump-json output tonearm uses.
type Info struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Duration   float64     `json:"duration"`
	Thumbnail  string      `json:"thumbnail"`
	Thumbnails []Thumbnail `json:"thumbnails"`
	Channel    string      `json:"channel"`
	Uploader   string      `json:"uploader"`
	WebpageURL string      `json:"webpage_url"`
}

// Artist returns the channel name, falling back to the uploader.
func (i Info) Artist() string {
	if channel := strings.TrimSpace(i.Channel); channel != "" {
		return channel
	}
	return strings.TrimSpace(i.Uploader)
}

// Info resolves metadata for reference without downloading media. yt-dlp
// prints one JSON record per line; lines that are not JSON are skipped.
// Records are read without a size limit since a single video's metadata can
// exceed a megabyte.
func (c *Client) Info(ctx context.Context, reference string) ([]Info, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, services.Wrap(services.ErrValidation, stageName, "info", "reference required", nil)
	}
	args := []string{"--dump-json", "--no-playlist", "--skip-download", "--", reference}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		records []Info
		bad     int
	)
	diag := &diagnostics{}
	err := c.runStream(runCtx, args, func(r io.Reader) error {
		reader := bufio.NewReader(r)
		for {
			line, readErr := reader.ReadBytes('\n')
			line = bytes.TrimSpace(line)
			if bytes.HasPrefix(line, []byte("{")) {
				var info Info
				if err := json.Unmarshal(line, &info); err != nil {
					bad++
				} else {
					records = append(records, info)
				}
			}
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			if readErr != nil {
				return readErr
			}
		}
	}, func(stream procexec.Stream, line string) {
		diag.observe(line)
	})
	if err != nil {
		return nil, c.classify(ctx, runCtx, "info", err, diag.last())
	}
	if bad > 0 {
		c.logger.Debug("skipped unparsable metadata records", logging.Int("count", bad))
	}
	if len(records) == 0 {
		return nil, services.Wrap(services.ErrMissingOutput, stageName, "info", "yt-dlp returned no metadata", nil)
	}
	return records, nil
}

// runStream hands yt-dlp's stdout to readStdout. Executors without stream
// support have their stdout lines buffered and replayed.
func (c *Client) runStream(ctx context.Context, args []string, readStdout func(io.Reader) error, onStderr procexec.LineHandler) error {
	if streamer, ok := c.exec.(procexec.StreamExecutor); ok {
		return streamer.RunStream(ctx, c.binary, args, readStdout, onStderr)
	}
	var buf bytes.Buffer
	err := c.exec.Run(ctx, c.binary, args, func(stream procexec.Stream, line string) {
		if stream == procexec.Stderr {
			onStderr(stream, line)
			return
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	})
	if err != nil {
		return err
	}
	return readStdout(&buf)
}

func (c *Client) classify(parent, runCtx context.Context, operation string, err error, diagnostic string) error {
	switch {
	case parent.Err() != nil:
		return services.Wrap(services.ErrCancelled, stageName, operation, "", err)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return services.Wrap(services.ErrAcquisitionTimeout, stageName, operation,
			fmt.Sprintf("yt-dlp exceeded %s", c.timeout), err)
	case errors.Is(err, services.ErrDependencyMissing):
		return err
	}
	var exitErr *procexec.ExitError
	if errors.As(err, &exitErr) {
		if diagnostic == "" {
			diagnostic = CleanDiagnostic(exitErr.LastStderr)
		}
		tool := &services.ToolError{Tool: toolName, ExitCode: exitErr.Code, Diagnostic: diagnostic}
		return services.Wrap(services.ErrAcquisitionFailed, stageName, operation, "", tool)
	}
	return services.Wrap(services.ErrAcquisitionFailed, stageName, operation, "", err)
}

// diagnostics remembers the most useful stderr line: the last ERROR line if
// yt-dlp printed one, otherwise the last non-empty line.
type diagnostics struct {
	mu        sync.Mutex
	lastError string
	lastLine  string
}

func (d *diagnostics) observe(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastLine = line
	if errorPrefix.MatchString(line) {
		d.lastError = line
	}
}

func (d *diagnostics) last() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastError != "" {
		return CleanDiagnostic(d.lastError)
	}
	return CleanDiagnostic(d.lastLine)
}

// CleanDiagnostic strips the "ERROR:" prefix yt-dlp puts on fatal messages.
func CleanDiagnostic(line string) string {
	return strings.TrimSpace(errorPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
}

// ParseProgress extracts a download update from a yt-dlp --newline progress
// line. Rate and ETA are dropped when yt-dlp reports them as unknown.
func ParseProgress(line string) (progress.Update, bool) {
	line = strings.TrimSpace(line)
	match := percentPattern.FindStringSubmatch(line)
	if match == nil {
		return progress.Update{}, false
	}
	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil || percent > 100 {
		return progress.Update{}, false
	}
	update := progress.Update{Stage: progress.StageDownloading, Percent: percent}
	if m := ratePattern.FindStringSubmatch(line); m != nil && !isUnknown(m[1]) {
		update.Rate = m[1]
	}
	if m := etaPattern.FindStringSubmatch(line); m != nil && !isUnknown(m[1]) {
		update.ETA = m[1]
	}
	return update, true
}

func isUnknown(value string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(value)), "unknown")
}

// FindRawFile locates the media file yt-dlp wrote for prefix. Partial
// downloads and side files are ignored; when several candidates remain the
// largest wins.
func FindRawFile(workDir, prefix string) (string, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return "", services.Wrap(services.ErrMissingOutput, stageName, "locate output", "", err)
	}
	stem := prefix + ".raw."
	var (
		best     string
		bestSize int64 = -1
	)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, stem) || isSideFile(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(workDir, name)
			bestSize = info.Size()
		}
	}
	if best == "" {
		return "", services.Wrap(services.ErrMissingOutput, stageName, "locate output",
			"yt-dlp reported success but no audio file was written", nil)
	}
	return best, nil
}

func isSideFile(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range sideFileSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
