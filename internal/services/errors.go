package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAcquisitionFailed  = errors.New("acquisition failed")
	ErrAcquisitionTimeout = errors.New("acquisition timeout")
	ErrTranscodeFailed    = errors.New("transcode failed")
	ErrTranscodeTimeout   = errors.New("transcode timeout")
	ErrCancelled          = errors.New("cancelled")
	ErrMissingOutput      = errors.New("missing output")
	ErrCacheIO            = errors.New("cache io error")
	ErrDependencyMissing  = errors.New("dependency missing")
	ErrValidation         = errors.New("validation error")
)

// Kind is the classification attached to every terminal job failure.
type Kind string

const (
	KindNone               Kind = ""
	KindAcquisitionFailed  Kind = "acquisition_failed"
	KindAcquisitionTimeout Kind = "acquisition_timeout"
	KindTranscodeFailed    Kind = "transcode_failed"
	KindTranscodeTimeout   Kind = "transcode_timeout"
	KindCancelled          Kind = "cancelled"
	KindMissingOutput      Kind = "missing_output"
	KindCacheIO            Kind = "cache_io"
	KindDependencyMissing  Kind = "dependency_missing"
	KindValidation         Kind = "validation"
	KindInternal           Kind = "internal"
)

// ToolError carries the cleaned-up diagnostic line an external engine printed
// before exiting non-zero.
type ToolError struct {
	Tool       string
	ExitCode   int
	Diagnostic string
}

func (e *ToolError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Diagnostic != "" {
		return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, e.Diagnostic)
	}
	return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrAcquisitionFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps an error onto the failure taxonomy. Cancellation is checked first
// so a killed process never reports as a generic tool failure.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrDependencyMissing):
		return KindDependencyMissing
	case errors.Is(err, ErrAcquisitionTimeout):
		return KindAcquisitionTimeout
	case errors.Is(err, ErrTranscodeTimeout):
		return KindTranscodeTimeout
	case errors.Is(err, ErrMissingOutput):
		return KindMissingOutput
	case errors.Is(err, ErrAcquisitionFailed):
		return KindAcquisitionFailed
	case errors.Is(err, ErrTranscodeFailed):
		return KindTranscodeFailed
	case errors.Is(err, ErrCacheIO):
		return KindCacheIO
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}

// UserMessage returns the short string shown for a failed job. Engine failures
// surface the stripped diagnostic line; other kinds use fixed wording so no
// internal paths leak.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var tool *ToolError
	if errors.As(err, &tool) && strings.TrimSpace(tool.Diagnostic) != "" {
		return strings.TrimSpace(tool.Diagnostic)
	}
	switch KindOf(err) {
	case KindCancelled:
		return "cancelled"
	case KindDependencyMissing:
		return "required engine is not installed"
	case KindAcquisitionTimeout:
		return "download timed out"
	case KindTranscodeTimeout:
		return "conversion timed out"
	case KindMissingOutput:
		return "download finished but produced no audio file"
	case KindAcquisitionFailed:
		return "download failed"
	case KindTranscodeFailed:
		return "conversion failed"
	case KindValidation:
		return strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")
	default:
		return "unexpected error"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
