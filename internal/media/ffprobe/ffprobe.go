package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"tonearm/internal/procexec"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index       int               `json:"index"`
	CodecName   string            `json:"codec_name"`
	CodecType   string            `json:"codec_type"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	SampleRate  string            `json:"sample_rate"`
	Channels    int               `json:"channels"`
	Duration    string            `json:"duration"`
	Disposition map[string]int    `json:"disposition"`
	Tags        map[string]string `json:"tags"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string            `json:"filename"`
	NBStreams  int               `json:"nb_streams"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// Prober runs ffprobe through an executor.
type Prober struct {
	binary string
	exec   procexec.Executor
}

// Option configures a Prober.
type Option func(*Prober)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec procexec.Executor) Option {
	return func(p *Prober) {
		if exec != nil {
			p.exec = exec
		}
	}
}

// NewProber constructs a Prober for the given ffprobe binary.
func NewProber(binary string, opts ...Option) *Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	p := &Prober{binary: binary, exec: procexec.CommandExecutor{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func (p *Prober) Inspect(ctx context.Context, path string) (Result, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	var out strings.Builder
	args := []string{"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path}
	err := p.exec.Run(ctx, p.binary, args, func(stream procexec.Stream, line string) {
		if stream == procexec.Stdout {
			out.WriteString(line)
			out.WriteByte('\n')
		}
	})
	if err != nil {
		return Result{}, fmt.Errorf("ffprobe inspect: %w", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(out.String()), &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// Inspect is a convenience wrapper that probes path with the named binary.
func Inspect(ctx context.Context, binary, path string) (Result, error) {
	return NewProber(binary).Inspect(ctx, path)
}

// Tag returns the container tag value for name, falling back to a
// case-insensitive match ("TITLE", "Title") and then to the first audio
// stream's tags, where Ogg and Opus files keep their comments.
func (r Result) Tag(name string) string {
	if value, ok := lookupTag(r.Format.Tags, name); ok {
		return value
	}
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			if value, ok := lookupTag(stream.Tags, name); ok {
				return value
			}
			break
		}
	}
	return ""
}

func lookupTag(tags map[string]string, name string) (string, bool) {
	if len(tags) == 0 {
		return "", false
	}
	if value, ok := tags[name]; ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), true
	}
	for key, value := range tags {
		if strings.EqualFold(key, name) && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

// HasAttachedPicture reports whether any stream is an embedded cover image.
func (r Result) HasAttachedPicture() bool {
	for _, stream := range r.Streams {
		if stream.Disposition["attached_pic"] == 1 {
			return true
		}
	}
	return false
}

// AttachedPictureIndex returns the input index of the first embedded cover
// image. ok is false when the file has none.
func (r Result) AttachedPictureIndex() (index int, ok bool) {
	for _, stream := range r.Streams {
		if stream.Disposition["attached_pic"] == 1 {
			return stream.Index, true
		}
	}
	return 0, false
}

// AudioStreamCount returns the number of audio streams discovered.
func (r Result) AudioStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration in seconds, or 0 when unavailable.
func (r Result) DurationSeconds() float64 {
	if d := parseFloat(r.Format.Duration); d > 0 {
		return d
	}
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			if d := parseFloat(stream.Duration); d > 0 {
				return d
			}
		}
	}
	return 0
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0
	}
	return parsed
}
