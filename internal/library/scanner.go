package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tonearm/internal/config"
	"tonearm/internal/logging"
	"tonearm/internal/media/ffprobe"
	"tonearm/internal/textutil"
)

const (
	defaultConcurrency  = 8
	defaultProbeTimeout = 30 * time.Second
	unknownArtist       = "Unknown Artist"
)

// Prober extracts container metadata from a local file.
type Prober interface {
	Inspect(ctx context.Context, path string) (ffprobe.Result, error)
}

// Track is one library file as returned by Scan. Cover art is not loaded
// here; ArtCache resolves it per track on demand.
type Track struct {
	Path            string
	Title           string
	Artist          string
	Album           string
	DurationSeconds float64
	HasPicture      bool
}

// ScanStats summarizes how a scan used the cache.
type ScanStats struct {
	Files    int
	Hits     int
	Probed   int
	Failures int
}

// ScanOption configures a Scanner.
type ScanOption func(*Scanner)

// WithConcurrency bounds the number of simultaneous probes.
func WithConcurrency(n int) ScanOption {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithExtensions replaces the extension allow-list.
func WithExtensions(exts []string) ScanOption {
	return func(s *Scanner) {
		if len(exts) == 0 {
			return
		}
		s.extensions = make(map[string]struct{}, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			s.extensions[ext] = struct{}{}
		}
	}
}

// WithProbeTimeout bounds each probe invocation.
func WithProbeTimeout(timeout time.Duration) ScanOption {
	return func(s *Scanner) {
		if timeout > 0 {
			s.probeTimeout = timeout
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) ScanOption {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logging.NewComponentLogger(logger, "library")
		}
	}
}

// Scanner enumerates a directory and refreshes the cache for changed files.
type Scanner struct {
	store        *Store
	prober       Prober
	concurrency  int
	probeTimeout time.Duration
	extensions   map[string]struct{}
	logger       *slog.Logger
	lastStats    ScanStats
	statsMu      sync.Mutex
}

// NewScanner constructs a Scanner backed by store and prober.
func NewScanner(store *Store, prober Prober, opts ...ScanOption) *Scanner {
	s := &Scanner{
		store:        store,
		prober:       prober,
		concurrency:  defaultConcurrency,
		probeTimeout: defaultProbeTimeout,
		logger:       logging.NewNop(),
	}
	WithExtensions(config.DefaultExtensions)(s)
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewStore("", s.logger)
	}
	return s
}

// NewScannerFromConfig wires the library section of cfg.
func NewScannerFromConfig(cfg *config.Config, store *Store, prober Prober, logger *slog.Logger) *Scanner {
	return NewScanner(store, prober,
		WithConcurrency(cfg.Library.ProbeConcurrency),
		WithExtensions(cfg.Library.Extensions),
		WithProbeTimeout(time.Duration(cfg.Library.ProbeTimeout)*time.Second),
		WithLogger(logger),
	)
}

type candidate struct {
	path  string
	mtime float64
}

// Scan lists audio files directly inside dir, reuses cache entries whose
// mtime is unchanged, probes the rest and replaces the cache with the result.
// Tracks are returned sorted by path.
func (s *Scanner) Scan(ctx context.Context, dir string) ([]Track, error) {
	absDir, err := filepath.Abs(strings.TrimSpace(dir))
	if err != nil {
		return nil, fmt.Errorf("resolve library dir: %w", err)
	}
	files, err := s.list(absDir)
	if err != nil {
		return nil, err
	}

	results := make([]Entry, len(files))
	var misses []int
	for i, file := range files {
		if entry, ok := s.store.Lookup(file.path); ok && entry.Mtime == file.mtime {
			results[i] = entry
			continue
		}
		misses = append(misses, i)
	}

	var failures atomic.Int64
	if err := s.probeAll(ctx, files, misses, results, &failures); err != nil {
		return nil, err
	}

	if err := s.store.Replace(results); err != nil {
		logging.WarnWithContext(s.logger, "library cache not saved", "library_cache_save_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check cache_dir permissions"),
			logging.String(logging.FieldImpact, "next scan will probe unchanged files again"),
		)
	}

	stats := ScanStats{Files: len(files), Hits: len(files) - len(misses), Probed: len(misses), Failures: int(failures.Load())}
	s.statsMu.Lock()
	s.lastStats = stats
	s.statsMu.Unlock()
	s.logger.Info("library scan complete",
		logging.String("dir", absDir),
		logging.Int("files", stats.Files),
		logging.Int("cache_hits", stats.Hits),
		logging.Int("probed", stats.Probed),
		logging.Int("probe_failures", stats.Failures),
		logging.String(logging.FieldEventType, "library_scan"),
	)

	tracks := make([]Track, 0, len(results))
	for _, entry := range results {
		tracks = append(tracks, Track{
			Path:            entry.Path,
			Title:           entry.Title,
			Artist:          entry.Artist,
			Album:           entry.Album,
			DurationSeconds: entry.DurationSeconds,
			HasPicture:      entry.HasPicture,
		})
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Path < tracks[j].Path })
	return tracks, nil
}

// LastStats reports the counters of the most recent successful Scan.
func (s *Scanner) LastStats() ScanStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.lastStats
}

func (s *Scanner) list(dir string) ([]candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list library dir: %w", err)
	}
	files := make([]candidate, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if _, ok := s.extensions[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{path: filepath.Join(dir, entry.Name()), mtime: mtimeSeconds(info.ModTime())})
	}
	return files, nil
}

// probeAll fills results at the miss indices with at most s.concurrency
// probes in flight. Cancellation stops new probes and fails the scan.
func (s *Scanner) probeAll(ctx context.Context, files []candidate, misses []int, results []Entry, failures *atomic.Int64) error {
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

dispatch:
	for _, idx := range misses {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			entry, ok := s.probe(ctx, files[idx])
			if !ok {
				failures.Add(1)
			}
			results[idx] = entry
		}(idx)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scanner) probe(ctx context.Context, file candidate) (Entry, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	result, err := s.prober.Inspect(probeCtx, file.path)
	if err != nil {
		s.logger.Debug("probe failed; using file name",
			logging.String("path", file.path),
			logging.Error(err))
		return fallbackEntry(file), false
	}
	if result.AudioStreamCount() == 0 {
		s.logger.Debug("no audio stream; using file name", logging.String("path", file.path))
		return fallbackEntry(file), false
	}
	entry := Entry{
		Path:            file.path,
		Mtime:           file.mtime,
		Title:           result.Tag("title"),
		Artist:          result.Tag("artist"),
		Album:           result.Tag("album"),
		DurationSeconds: result.DurationSeconds(),
		HasPicture:      result.HasAttachedPicture(),
	}
	if entry.Title == "" {
		entry.Title = textutil.TitleFromPath(file.path)
	}
	if entry.Artist == "" {
		entry.Artist = result.Tag("album_artist")
	}
	if entry.Artist == "" {
		entry.Artist = unknownArtist
	}
	return entry, true
}

func fallbackEntry(file candidate) Entry {
	return Entry{
		Path:   file.path,
		Mtime:  file.mtime,
		Title:  textutil.TitleFromPath(file.path),
		Artist: unknownArtist,
	}
}

func mtimeSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
