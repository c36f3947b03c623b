// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: per-stream properties including disposition flags and tags
//   - Format: container-level metadata (duration, size, tag map)
//
// Prober runs ffprobe through a procexec.Executor so callers can bound it
// with a context and tests can substitute canned output. Tag lookups fall
// back case-insensitively because containers disagree on tag-name casing.
package ffprobe
