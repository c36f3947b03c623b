package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tonearm/internal/testsupport"
	"tonearm/internal/transcode"
)

type stubExtractor struct {
	mu    sync.Mutex
	calls int
	none  bool
	err   error
}

func (s *stubExtractor) ExtractPicture(_ context.Context, _, output string) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.none {
		return transcode.ErrNoPicture
	}
	return os.WriteFile(output, []byte("jpeg-bytes"), 0o644)
}

func TestCoverArtCachedByPathAndMtime(t *testing.T) {
	track := filepath.Join(t.TempDir(), "a.mp3")
	testsupport.WriteFile(t, track, "audio", 0)
	extractor := &stubExtractor{}
	cache := NewArtCache(filepath.Join(t.TempDir(), "covers"), extractor, nil)

	for i := 0; i < 2; i++ {
		data, err := cache.CoverArt(context.Background(), track)
		if err != nil || string(data) != "jpeg-bytes" {
			t.Fatalf("CoverArt #%d = %q, %v", i, data, err)
		}
	}
	if extractor.calls != 1 {
		t.Fatalf("expected one extraction for an unchanged file, got %d", extractor.calls)
	}

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(track, later, later); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.CoverArt(context.Background(), track); err != nil {
		t.Fatalf("CoverArt after touch: %v", err)
	}
	if extractor.calls != 2 {
		t.Fatalf("expected re-extraction after mtime change, got %d calls", extractor.calls)
	}
}

func TestCoverArtNegativeMarker(t *testing.T) {
	track := filepath.Join(t.TempDir(), "plain.wav")
	testsupport.WriteFile(t, track, "audio", 0)
	extractor := &stubExtractor{none: true}
	cache := NewArtCache(t.TempDir(), extractor, nil)

	for i := 0; i < 2; i++ {
		data, err := cache.CoverArt(context.Background(), track)
		if err != nil || data != nil {
			t.Fatalf("expected nil art, got %q, %v", data, err)
		}
	}
	if extractor.calls != 1 {
		t.Fatalf("negative result should be cached, got %d calls", extractor.calls)
	}
}

func TestCoverArtExtractionError(t *testing.T) {
	track := filepath.Join(t.TempDir(), "a.mp3")
	testsupport.WriteFile(t, track, "audio", 0)
	cache := NewArtCache(t.TempDir(), &stubExtractor{err: errors.New("boom")}, nil)
	if _, err := cache.CoverArt(context.Background(), track); err == nil {
		t.Fatal("expected extraction error")
	}
	if _, err := cache.CoverArt(context.Background(), filepath.Join(t.TempDir(), "missing.mp3")); err == nil {
		t.Fatal("expected error for missing track")
	}
}

func TestArtKeyDependsOnMtime(t *testing.T) {
	if ArtKey("/a.mp3", 1) == ArtKey("/a.mp3", 2) {
		t.Fatal("keys must differ across mtimes")
	}
	if ArtKey("/a.mp3", 1) != ArtKey("/a.mp3", 1) {
		t.Fatal("keys must be stable")
	}
}

func TestCoverArtConcurrentRequestsShareOneExtraction(t *testing.T) {
	dir := t.TempDir()
	tracks := []string{
		testsupport.WriteFile(t, filepath.Join(dir, "a.mp3"), "audio", 0),
		testsupport.WriteFile(t, filepath.Join(dir, "b.mp3"), "audio", 0),
	}
	extractor := &stubExtractor{}
	cache := NewArtCache(t.TempDir(), extractor, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(track string) {
			defer wg.Done()
			if _, err := cache.CoverArt(context.Background(), track); err != nil {
				errs <- err
			}
		}(tracks[i%len(tracks)])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("CoverArt: %v", err)
	}

	extractor.mu.Lock()
	calls := extractor.calls
	extractor.mu.Unlock()
	if calls != len(tracks) {
		t.Fatalf("expected one extraction per track, got %d", calls)
	}
	cache.mu.Lock()
	remaining := len(cache.inflight)
	cache.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected no lock entries after requests finished, got %d", remaining)
	}
}
