package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tonearm/internal/logging"
)

// Prefix is the stem shared by every temp artifact tonearm writes.
const Prefix = "tonearm-"

// ArtifactPrefix returns the deterministic name stem for a job's temp files.
func ArtifactPrefix(jobID string) string {
	return Prefix + strings.TrimSpace(jobID)
}

// CleanResult contains the outcome of a cleanup operation.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanPrefix removes every entry in dir named prefix or starting with
// prefix followed by a dot, so job "1" never touches the files of job "12".
// Failures are logged and collected, never returned as an error.
func CleanPrefix(dir, prefix string, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	dir = strings.TrimSpace(dir)
	prefix = strings.TrimSpace(prefix)
	if dir == "" || prefix == "" || prefix == Prefix {
		return result
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
		}
		return result
	}

	for _, entry := range entries {
		if !ownsArtifact(entry.Name(), prefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			warnRemoveFailed(logger, path, err, "artifact_cleanup_failed")
			continue
		}
		result.Removed = append(result.Removed, path)
	}
	if logger != nil && len(result.Removed) > 0 {
		logger.Debug("removed job artifacts",
			logging.String("prefix", prefix),
			logging.Int("count", len(result.Removed)),
			logging.String(logging.FieldEventType, "artifact_cleanup"),
		)
	}
	return result
}

// CleanStale removes tonearm artifacts older than maxAge. It runs once at
// startup to recover files left behind by a process that died mid-job.
func CleanStale(ctx context.Context, dir string, maxAge time.Duration, logger *slog.Logger) CleanResult {
	result := CleanResult{}

	dir = strings.TrimSpace(dir)
	if dir == "" {
		return result
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !strings.HasPrefix(entry.Name(), Prefix) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			warnRemoveFailed(logger, path, err, "orphan_cleanup_failed")
			continue
		}
		result.Removed = append(result.Removed, path)
		if logger != nil {
			logger.Info("removed orphaned artifact",
				logging.String("path", path),
				logging.Duration("age", time.Since(info.ModTime())),
				logging.String(logging.FieldEventType, "orphan_cleanup"),
			)
		}
	}

	return result
}

func warnRemoveFailed(logger *slog.Logger, path string, err error, event string) {
	if logger == nil {
		return
	}
	logger.Warn("failed to remove temp artifact",
		logging.String("path", path),
		logging.Error(err),
		logging.String(logging.FieldEventType, event),
		logging.String(logging.FieldErrorHint, "check work_dir permissions"),
		logging.String(logging.FieldImpact, "disk space not reclaimed"),
	)
}

// ArtifactInfo contains metadata about a temp artifact.
type ArtifactInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// ListArtifacts returns the files in dir that belong to prefix, sorted by
// name. An empty prefix lists every tonearm artifact.
func ListArtifacts(dir, prefix string) ([]ArtifactInfo, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = Prefix
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var artifacts []ArtifactInfo
	for _, entry := range entries {
		if prefix == Prefix {
			if !strings.HasPrefix(entry.Name(), Prefix) {
				continue
			}
		} else if !ownsArtifact(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, ArtifactInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}

func ownsArtifact(name, prefix string) bool {
	return name == prefix || strings.HasPrefix(name, prefix+".")
}
