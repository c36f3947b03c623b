// Package fetcher mediates access to the yt-dlp CLI used for acquisition.
//
// It builds the download invocation, parses --newline progress output into
// normalized progress updates, classifies failures (timeout, cancellation,
// missing binary, engine error) and locates the raw file yt-dlp chose to
// write. Info runs a metadata-only query and decodes the newline-delimited
// JSON records.
//
// Prefer this package over ad-hoc exec.Command usage when talking to yt-dlp
// so timeout handling and process-group cleanup remain consistent.
package fetcher
