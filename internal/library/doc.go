// Package library maintains the mtime-keyed metadata cache for a local music
// directory.
//
// Scanner lists audio files by extension, reuses cache entries whose mtime is
// unchanged and probes the rest with a bounded worker pool. Failed probes
// degrade to a file-name entry instead of failing the scan. Store persists the
// full result set wholesale under a gofrs/flock lock; a corrupt cache file is
// treated as empty. ArtCache extracts embedded cover art lazily per track and
// keeps it on disk keyed by (path, mtime).
package library
