package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"tonearm/internal/coverart"
	"tonearm/internal/media"
	"tonearm/internal/services"
	"tonearm/internal/staging"
)

// Kind selects the pipeline a job runs through.
type Kind string

const (
	// KindDownload acquires Reference (a URL) and converts it.
	KindDownload Kind = "download"
	// KindReencode converts the local file at Reference.
	KindReencode Kind = "reencode"
)

// Job describes one unit of work.
type Job struct {
	ID        string
	Kind      Kind
	Reference string
	Format    media.Format
	Metadata  media.Metadata
	CoverArt  coverart.Source
	Trim      *media.Trim
	Aspect    media.Aspect
	// RawOnly publishes the acquired file without converting it.
	RawOnly bool
}

// Prefix is the name stem shared by every temp file the job writes.
func (j Job) Prefix() string {
	return staging.ArtifactPrefix(j.ID)
}

// jobIDPattern excludes ".", which separates the artifact prefix from the
// rest of a temp file name.
var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// normalize fills defaults and rejects malformed jobs. The returned error
// wraps services.ErrValidation.
func (j *Job) normalize(defaultFormat media.Format, defaultAspect media.Aspect) error {
	j.ID = strings.TrimSpace(j.ID)
	j.Reference = strings.TrimSpace(j.Reference)
	if j.Kind == "" {
		j.Kind = KindDownload
	}
	if j.Format == "" {
		j.Format = defaultFormat
	}
	if j.Aspect == "" {
		j.Aspect = defaultAspect
	}

	if j.ID != "" && !jobIDPattern.MatchString(j.ID) {
		return invalid("job id %q may only contain letters, digits, dash and underscore", j.ID)
	}
	switch j.Kind {
	case KindDownload, KindReencode:
	default:
		return invalid("unknown job kind %q", j.Kind)
	}
	if j.Reference == "" {
		return invalid("reference is required")
	}
	if j.RawOnly && j.Kind != KindDownload {
		return invalid("raw-only mode applies to downloads only")
	}
	format, err := media.ParseFormat(string(j.Format))
	if err != nil {
		return invalid("%v", err)
	}
	j.Format = format
	aspect, err := media.ParseAspect(string(j.Aspect))
	if err != nil {
		return invalid("%v", err)
	}
	j.Aspect = aspect
	if err := j.Trim.Validate(); err != nil {
		return invalid("%v", err)
	}
	if j.Trim.IsZero() {
		j.Trim = nil
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", services.ErrValidation, fmt.Sprintf(format, args...))
}
