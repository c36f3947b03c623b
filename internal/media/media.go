// Package media holds the value types shared by the job pipeline stages:
// output formats, cover aspect policies, trim ranges and tag metadata.
package media

import (
	"fmt"
	"strings"
)

// Format is the output container and codec of a finished track.
type Format string

const (
	FormatMP3 Format = "mp3"
	FormatM4A Format = "m4a"
)

// ParseFormat accepts "mp3" or "m4a" in any case.
func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case FormatMP3, FormatM4A:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want mp3 or m4a)", value)
	}
}

// Extension returns the file extension without a dot.
func (f Format) Extension() string {
	return string(f)
}

// Aspect selects the canvas embedded cover art is framed onto.
type Aspect string

const (
	AspectSquare     Aspect = "square"
	AspectWidescreen Aspect = "widescreen"
)

// ParseAspect accepts "square" or "widescreen" in any case.
func ParseAspect(value string) (Aspect, error) {
	switch a := Aspect(strings.ToLower(strings.TrimSpace(value))); a {
	case AspectSquare, AspectWidescreen:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported aspect %q (want square or widescreen)", value)
	}
}

// Metadata holds the tags written into a finished track.
type Metadata struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
}

// Trim is a half-open [Start, End) range in seconds. A zero End means "to the
// end of the input".
type Trim struct {
	Start float64 `json:"start"`
	End   float64 `json:"end,omitempty"`
}

// IsZero reports whether the trim leaves the input untouched.
func (t *Trim) IsZero() bool {
	return t == nil || (t.Start <= 0 && t.End <= 0)
}

// Validate rejects negative bounds and empty ranges.
func (t *Trim) Validate() error {
	if t == nil {
		return nil
	}
	if t.Start < 0 || t.End < 0 {
		return fmt.Errorf("trim bounds must not be negative")
	}
	if t.End > 0 && t.End <= t.Start {
		return fmt.Errorf("trim end %.3f must be after start %.3f", t.End, t.Start)
	}
	return nil
}

// Length returns the trimmed duration given the full input duration. The
// result is 0 when it cannot be determined.
func (t *Trim) Length(total float64) float64 {
	if t.IsZero() {
		return total
	}
	end := t.End
	if end <= 0 || (total > 0 && end > total) {
		end = total
	}
	if end <= t.Start {
		return 0
	}
	return end - t.Start
}
