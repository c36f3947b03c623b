package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"tonearm/internal/logging"
	"tonearm/internal/transcode"
)

const noArtSuffix = ".none"

// Extractor writes the embedded picture of input to output as a JPEG and
// returns transcode.ErrNoPicture when there is none.
type Extractor interface {
	ExtractPicture(ctx context.Context, input, output string) error
}

// ArtCache lazily extracts and caches library cover art on disk, keyed by a
// hash of the file's path and mtime so an unchanged file is extracted once.
type ArtCache struct {
	dir       string
	extractor Extractor
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]*keyLock
}

// keyLock is an extraction lock shared by the requests holding or waiting
// for one key.
type keyLock struct {
	mu    sync.Mutex
	users int
}

// NewArtCache constructs an ArtCache rooted at dir.
func NewArtCache(dir string, extractor Extractor, logger *slog.Logger) *ArtCache {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ArtCache{
		dir:       dir,
		extractor: extractor,
		logger:    logging.NewComponentLogger(logger, "library_art"),
		inflight:  make(map[string]*keyLock),
	}
}

// CoverArt returns the JPEG bytes of the picture embedded in path, or nil
// when the file has none.
func (a *ArtCache) CoverArt(ctx context.Context, path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve track path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat track: %w", err)
	}
	key := ArtKey(absPath, mtimeSeconds(info.ModTime()))
	artPath := filepath.Join(a.dir, key+".jpg")
	markerPath := filepath.Join(a.dir, key+noArtSuffix)

	unlock := a.lockKey(key)
	defer unlock()

	if data, ok := readCached(artPath, markerPath); ok {
		return data, nil
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create art cache dir: %w", err)
	}
	tmpPath := filepath.Join(a.dir, key+".tmp.jpg")
	err = a.extractor.ExtractPicture(ctx, absPath, tmpPath)
	switch {
	case errors.Is(err, transcode.ErrNoPicture):
		_ = os.Remove(tmpPath)
		if werr := os.WriteFile(markerPath, nil, 0o644); werr != nil {
			a.logger.Debug("could not record missing art", logging.String("path", absPath), logging.Error(werr))
		}
		return nil, nil
	case err != nil:
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("extract cover art: %w", err)
	}
	if err := os.Rename(tmpPath, artPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("store cover art: %w", err)
	}
	data, err := os.ReadFile(artPath)
	if err != nil {
		return nil, fmt.Errorf("read cover art: %w", err)
	}
	a.logger.Debug("cover art extracted", logging.String("path", absPath), logging.Int("bytes", len(data)))
	return data, nil
}

// ArtKey is the cache key for a file at a given mtime.
func ArtKey(path string, mtime float64) string {
	sum := sha256.Sum256([]byte(path + "\x00" + strconv.FormatFloat(mtime, 'f', -1, 64)))
	return hex.EncodeToString(sum[:])
}

func readCached(artPath, markerPath string) ([]byte, bool) {
	if data, err := os.ReadFile(artPath); err == nil && len(data) > 0 {
		return data, true
	}
	if _, err := os.Stat(markerPath); err == nil {
		return nil, true
	}
	return nil, false
}

// lockKey serializes extraction per key so concurrent requests for one track
// run ffmpeg once. The entry is dropped when its last user unlocks.
func (a *ArtCache) lockKey(key string) func() {
	a.mu.Lock()
	l, ok := a.inflight[key]
	if !ok {
		l = &keyLock{}
		a.inflight[key] = l
	}
	l.users++
	a.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.mu.Lock()
		l.users--
		if l.users == 0 {
			delete(a.inflight, key)
		}
		a.mu.Unlock()
	}
}
