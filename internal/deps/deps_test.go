package deps

import (
	"os"
	"path/filepath"
	"testing"

	"tonearm/internal/config"
)

func writeStub(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := writeStub(t, binDir, "present")
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
}

func TestResolveFFmpegLocationSidecar(t *testing.T) {
	dir := t.TempDir()
	fetch := writeStub(t, dir, "yt-dlp")
	writeStub(t, dir, "ffmpeg")

	if got := ResolveFFmpegLocation(fetch, ""); got != dir {
		t.Fatalf("expected sidecar dir %q, got %q", dir, got)
	}
}

func TestResolveFFmpegLocationWithoutSidecar(t *testing.T) {
	dir := t.TempDir()
	fetch := writeStub(t, dir, "yt-dlp")

	if got := ResolveFFmpegLocation(fetch, ""); got != "" {
		t.Fatalf("expected empty location, got %q", got)
	}
}

func TestResolveFFmpegLocationHint(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeStub(t, dir, "ffmpeg")

	if got := ResolveFFmpegLocation("yt-dlp", ffmpeg); got != dir {
		t.Fatalf("binary hint should resolve to its directory, got %q", got)
	}
	if got := ResolveFFmpegLocation("yt-dlp", "/opt/ffmpeg/bin"); got != "/opt/ffmpeg/bin" {
		t.Fatalf("directory hint should pass through, got %q", got)
	}
}

func TestEvaluateCapabilities(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Engines.Fetch = writeStub(t, dir, "yt-dlp")
	cfg.Engines.FFmpeg = filepath.Join(dir, "missing-ffmpeg")
	cfg.Engines.FFprobe = writeStub(t, dir, "ffprobe")

	report := Evaluate(&cfg)
	if !report.CanFetch || report.CanTranscode || !report.CanProbe {
		t.Fatalf("unexpected capabilities: %+v", report)
	}
	missing := report.Missing()
	if len(missing) != 1 || missing[0] != "FFmpeg" {
		t.Fatalf("expected FFmpeg missing, got %v", missing)
	}
}
