package library_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tonearm/internal/library"
	"tonearm/internal/media/ffprobe"
	"tonearm/internal/testsupport"
)

type countingProber struct {
	calls    atomic.Int64
	inflight atomic.Int64
	peak     atomic.Int64
	delay    time.Duration

	mu    sync.Mutex
	paths []string
	title func(path string) string
}

func (p *countingProber) Inspect(ctx context.Context, path string) (ffprobe.Result, error) {
	p.calls.Add(1)
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.mu.Lock()
	p.paths = append(p.paths, path)
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ffprobe.Result{}, ctx.Err()
		}
	}
	if strings.Contains(filepath.Base(path), "broken") {
		return ffprobe.Result{}, errors.New("exit status 1")
	}
	title := "Title " + filepath.Base(path)
	if p.title != nil {
		title = p.title(path)
	}
	if strings.Contains(filepath.Base(path), "silent") {
		return ffprobe.Result{Format: ffprobe.Format{Duration: "3.0"}}, nil
	}
	return ffprobe.Result{
		Streams: []ffprobe.Stream{{CodecType: "audio"}},
		Format: ffprobe.Format{
			Duration: "30.5",
			Tags:     map[string]string{"TITLE": title, "Artist": "Band", "album": "Record"},
		},
	}, nil
}

func writeTracks(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		testsupport.WriteFile(t, filepath.Join(dir, name), "audio", 0)
	}
}

func TestScanProbesOnlyMisses(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(t.TempDir(), "library_cache.json")
	writeTracks(t, dir, "01.mp3", "02.mp3", "03.flac", "04.m4a", "05.ogg", "06.opus", "07.wav", "cover.jpg", "notes.txt")

	first := &countingProber{}
	if _, err := library.NewScanner(library.NewStore(cachePath, nil), first).Scan(context.Background(), dir); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if first.calls.Load() != 7 {
		t.Fatalf("expected 7 probes on a cold cache, got %d", first.calls.Load())
	}

	writeTracks(t, dir, "08.mp3", "09.MP3", "10.aac")
	second := &countingProber{}
	scanner := library.NewScanner(library.NewStore(cachePath, nil), second)
	tracks, err := scanner.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if second.calls.Load() != 3 {
		t.Fatalf("expected exactly 3 probes, got %d (%v)", second.calls.Load(), second.paths)
	}
	if len(tracks) != 10 {
		t.Fatalf("expected 10 tracks, got %d", len(tracks))
	}
	if !sort.SliceIsSorted(tracks, func(i, j int) bool { return tracks[i].Path < tracks[j].Path }) {
		t.Fatal("tracks must be sorted by path")
	}
	stats := scanner.LastStats()
	if stats.Hits != 7 || stats.Probed != 3 || stats.Files != 10 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if tracks[0].Artist != "Band" || tracks[0].Album != "Record" || tracks[0].DurationSeconds != 30.5 {
		t.Fatalf("unexpected track metadata %+v", tracks[0])
	}
}

func TestScanReprobesChangedMtime(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(t.TempDir(), "library_cache.json")
	writeTracks(t, dir, "a.mp3", "b.mp3")

	store := library.NewStore(cachePath, nil)
	if _, err := library.NewScanner(store, &countingProber{}).Scan(context.Background(), dir); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	changed := filepath.Join(dir, "a.mp3")
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(changed, later, later); err != nil {
		t.Fatal(err)
	}
	prober := &countingProber{title: func(string) string { return "Retagged" }}
	tracks, err := library.NewScanner(store, prober).Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if prober.calls.Load() != 1 || prober.paths[0] != changed {
		t.Fatalf("expected one probe of %s, got %v", changed, prober.paths)
	}
	if tracks[0].Title != "Retagged" {
		t.Fatalf("expected cache entry to be overwritten, got %+v", tracks[0])
	}
	if entry, _ := store.Lookup(changed); entry.Title != "Retagged" {
		t.Fatalf("store not updated: %+v", entry)
	}
}

func TestScanProbeFailureFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeTracks(t, dir, "broken song.mp3")

	tracks, err := library.NewScanner(nil, &countingProber{}).Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := library.Track{Path: filepath.Join(dir, "broken song.mp3"), Title: "broken song", Artist: "Unknown Artist"}
	if len(tracks) != 1 || tracks[0] != want {
		t.Fatalf("unexpected fallback track %+v", tracks)
	}
}

func TestScanTreatsFileWithoutAudioAsUnreadable(t *testing.T) {
	dir := t.TempDir()
	writeTracks(t, dir, "silent clip.m4a")

	scanner := library.NewScanner(nil, &countingProber{})
	tracks, err := scanner.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := library.Track{Path: filepath.Join(dir, "silent clip.m4a"), Title: "silent clip", Artist: "Unknown Artist"}
	if len(tracks) != 1 || tracks[0] != want {
		t.Fatalf("unexpected fallback track %+v", tracks)
	}
	if stats := scanner.LastStats(); stats.Failures != 1 {
		t.Fatalf("expected the file to count as unreadable, got %+v", stats)
	}
}

func TestScanBoundsConcurrency(t *testing.T) {
	dir := t.TempDir()
	writeTracks(t, dir, "1.mp3", "2.mp3", "3.mp3", "4.mp3", "5.mp3", "6.mp3")
	prober := &countingProber{delay: 20 * time.Millisecond}

	if _, err := library.NewScanner(nil, prober, library.WithConcurrency(2)).Scan(context.Background(), dir); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if peak := prober.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent probes, saw %d", peak)
	}
	if prober.calls.Load() != 6 {
		t.Fatalf("expected 6 probes, got %d", prober.calls.Load())
	}
}

func TestScanCancelledDoesNotReplaceCache(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(t.TempDir(), "library_cache.json")
	writeTracks(t, dir, "1.mp3", "2.mp3", "3.mp3")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := library.NewStore(cachePath, nil)
	if _, err := library.NewScanner(store, &countingProber{}).Scan(ctx, dir); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
		t.Fatalf("cache must not be written by a cancelled scan, stat err=%v", err)
	}
}

func TestScanMissingDir(t *testing.T) {
	if _, err := library.NewScanner(nil, &countingProber{}).Scan(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
