package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tonearm/internal/config"
	"tonearm/internal/testsupport"
)

const fetchStubScript = `#!/bin/sh
for arg in "$@"; do
  if [ "$arg" = "--dump-json" ]; then
    echo '{"id":"abc123","title":"Stub Song","channel":"Stub Band","duration":61,"webpage_url":"https://example.com/watch/abc123"}'
    exit 0
  fi
done
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then
    out="$2"
    shift
  fi
  shift
done
echo "[download]  50.0% of 1.00MiB at 1.00MiB/s ETA 00:01"
target=$(printf '%s' "$out" | sed 's/%(ext)s/webm/')
printf 'audio' > "$target"
echo "[download] 100% of 1.00MiB"
`

const failingFetchScript = `#!/bin/sh
echo "ERROR: [generic] Unsupported URL: nope" >&2
exit 1
`

// transcodeStubScript writes a non-empty file at the last argument, which is
// where ffmpeg puts the output path.
const transcodeStubScript = `#!/bin/sh
for arg in "$@"; do
  last="$arg"
done
printf 'encoded' > "$last"
`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
	binDir     string
}

type engineScripts struct {
	fetch  string
	ffmpeg string
}

func setupCLITestEnv(t *testing.T, scripts engineScripts) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	binDir := filepath.Join(base, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	missing := filepath.Join(base, "missing")
	cfg.Engines.Fetch = filepath.Join(missing, "yt-dlp")
	cfg.Engines.FFmpeg = filepath.Join(missing, "ffmpeg")
	cfg.Engines.FFprobe = filepath.Join(missing, "ffprobe")
	if scripts.fetch != "" {
		cfg.Engines.Fetch = writeStub(t, binDir, "yt-dlp", scripts.fetch)
	}
	if scripts.ffmpeg != "" {
		cfg.Engines.FFmpeg = writeStub(t, binDir, "ffmpeg", scripts.ffmpeg)
	}

	configPath := filepath.Join(homeDir, ".config", "tonearm", "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base, binDir: binDir}
}

func writeStub(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	content := fmt.Sprintf(
		"[paths]\nwork_dir = %q\noutput_dir = %q\nlibrary_dir = %q\ncache_dir = %q\nlog_dir = %q\n\n"+
			"[engines]\nfetch = %q\nffmpeg = %q\nffprobe = %q\n\n"+
			"[logging]\nlevel = \"error\"\n",
		cfg.Paths.WorkDir,
		cfg.Paths.OutputDir,
		cfg.Paths.LibraryDir,
		cfg.Paths.CacheDir,
		cfg.Paths.LogDir,
		cfg.Engines.Fetch,
		cfg.Engines.FFmpeg,
		cfg.Engines.FFprobe,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func appendConfig(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open config: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
