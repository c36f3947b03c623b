package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"tonearm/internal/fileutil"
	"tonearm/internal/logging"
	"tonearm/internal/services"
)

const cacheVersion = 1

// Entry is one cached probe result, valid while the file's mtime matches.
type Entry struct {
	Path            string  `json:"path"`
	Mtime           float64 `json:"mtime"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album"`
	DurationSeconds float64 `json:"duration_seconds"`
	HasPicture      bool    `json:"has_picture"`
}

type cacheFile struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Store provides thread-safe access to the library cache file.
type Store struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]Entry // keyed by absolute path
}

// NewStore loads the cache at path. An unreadable or corrupt file is logged
// and treated as empty; the next Replace overwrites it. An empty path yields
// an in-memory store.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Store{
		path:    strings.TrimSpace(path),
		logger:  logging.NewComponentLogger(logger, "library"),
		entries: make(map[string]Entry),
	}
	if s.path == "" {
		return s
	}
	if err := s.load(); err != nil {
		logging.WarnWithContext(s.logger, "library cache unreadable", "library_cache_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, string(services.KindCacheIO)),
			logging.String(logging.FieldErrorHint, "cache will be rebuilt on the next scan"),
			logging.String(logging.FieldImpact, "every track will be probed again"),
		)
		s.entries = make(map[string]Entry)
	}
	return s
}

// Lookup returns the cached entry for path.
func (s *Store) Lookup(path string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[path]
	return entry, ok
}

// Entries returns every cached entry sorted by path.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Replace swaps the whole cache for entries and persists it. Entries missing
// from the new set are dropped. The write holds an exclusive file lock so two
// tonearm processes never interleave their saves.
func (s *Store) Replace(entries []Entry) error {
	next := make(map[string]Entry, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Path) == "" {
			continue
		}
		next[entry.Path] = entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = next

	if s.path == "" {
		return nil
	}
	if err := s.save(); err != nil {
		return services.Wrap(services.ErrCacheIO, "library", "save cache", "", err)
	}
	s.logger.Debug("library cache saved",
		logging.Int("entry_count", len(next)),
		logging.String("path", s.path))
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse cache file: %w", err)
	}
	if file.Version != cacheVersion {
		return fmt.Errorf("cache version %d unsupported", file.Version)
	}
	for _, entry := range file.Entries {
		if strings.TrimSpace(entry.Path) != "" {
			s.entries[entry.Path] = entry
		}
	}
	s.logger.Debug("loaded library cache",
		logging.Int("entry_count", len(s.entries)),
		logging.String("path", s.path))
	return nil
}

// save writes the cache atomically; callers hold s.mu.
func (s *Store) save() error {
	file := cacheFile{Version: cacheVersion, Entries: make([]Entry, 0, len(s.entries))}
	for _, entry := range s.entries {
		file.Entries = append(file.Entries, entry)
	}
	sort.Slice(file.Entries, func(i, j int) bool { return file.Entries[i].Path < file.Entries[j].Path })

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock cache file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}
