package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"tonearm/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != filepath.Join(tempHome, ".config", "tonearm", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, ".local", "share", "tonearm", "work"); cfg.Paths.WorkDir != want {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, want)
	}
	if cfg.Jobs.MaxConcurrent != 2 {
		t.Fatalf("expected 2 job slots, got %d", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Jobs.AcquireTimeout != 300 || cfg.Jobs.TranscodeTimeout != 600 {
		t.Fatalf("unexpected timeouts: %d/%d", cfg.Jobs.AcquireTimeout, cfg.Jobs.TranscodeTimeout)
	}
	if cfg.Library.ProbeConcurrency != 8 {
		t.Fatalf("expected 8 probe workers, got %d", cfg.Library.ProbeConcurrency)
	}
	if cfg.Cleanup.OrphanMaxAge != 3600 {
		t.Fatalf("expected 1h orphan threshold, got %d", cfg.Cleanup.OrphanMaxAge)
	}
	if cfg.LibraryCachePath() != filepath.Join(tempHome, ".cache", "tonearm", "library_cache.json") {
		t.Fatalf("unexpected library cache path %q", cfg.LibraryCachePath())
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("TONEARM_FFMPEG_LOCATION", "")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
work_dir = "~/work"
output_dir = "~/out"

[jobs]
max_concurrent = 4
default_format = "M4A"

[library]
extensions = ["MP3", ".flac", "mp3"]

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected explicit config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.WorkDir != filepath.Join(tempHome, "work") {
		t.Fatalf("unexpected work dir %q", cfg.Paths.WorkDir)
	}
	if cfg.Jobs.MaxConcurrent != 4 || cfg.Jobs.DefaultFormat != "m4a" {
		t.Fatalf("unexpected jobs section: %+v", cfg.Jobs)
	}
	if strings.Join(cfg.Library.Extensions, ",") != ".mp3,.flac" {
		t.Fatalf("unexpected extensions %v", cfg.Library.Extensions)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging section: %+v", cfg.Logging)
	}
}

func TestEnvironmentFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	out := filepath.Join(t.TempDir(), "music")
	t.Setenv("TONEARM_OUTPUT_DIR", out)
	t.Setenv("TONEARM_FFMPEG_LOCATION", "/opt/ffmpeg/bin")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.OutputDir != out {
		t.Fatalf("expected output dir from env, got %q", cfg.Paths.OutputDir)
	}
	if cfg.Engines.FFmpegLocation != "/opt/ffmpeg/bin" {
		t.Fatalf("expected ffmpeg location from env, got %q", cfg.Engines.FFmpegLocation)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero slots", func(c *config.Config) { c.Jobs.MaxConcurrent = 0 }, "jobs.max_concurrent"},
		{"unknown format", func(c *config.Config) { c.Jobs.DefaultFormat = "wav" }, "jobs.default_format"},
		{"unknown aspect", func(c *config.Config) { c.Jobs.DefaultAspect = "portrait" }, "jobs.default_aspect"},
		{"mp3 quality", func(c *config.Config) { c.Transcode.MP3Quality = 12 }, "transcode.mp3_quality"},
		{"aac bitrate", func(c *config.Config) { c.Transcode.AACBitrate = "fast" }, "transcode.aac_bitrate"},
		{"probe pool", func(c *config.Config) { c.Library.ProbeConcurrency = 0 }, "library.probe_concurrency"},
		{"cover rate", func(c *config.Config) { c.CoverArt.RequestsPerSecond = 0 }, "cover_art.requests_per_second"},
		{"log level", func(c *config.Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "my-topic" }, "notifications.ntfy_topic"},
		{"ntfy timeout", func(c *config.Config) {
			c.Notifications.NtfyTopic = "https://ntfy.sh/tonearm"
			c.Notifications.RequestTimeout = 0
		}, "notifications.request_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[jobs]\nmax_parallel = 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	target := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	defaults := config.Default()
	if decoded.Jobs != defaults.Jobs {
		t.Fatalf("sample jobs section drifted from defaults: %+v vs %+v", decoded.Jobs, defaults.Jobs)
	}
	if decoded.Transcode != defaults.Transcode {
		t.Fatalf("sample transcode section drifted from defaults: %+v vs %+v", decoded.Transcode, defaults.Transcode)
	}
	if decoded.Notifications != defaults.Notifications {
		t.Fatalf("sample notifications section drifted from defaults: %+v vs %+v", decoded.Notifications, defaults.Notifications)
	}
	if decoded.Library.ProbeConcurrency != defaults.Library.ProbeConcurrency {
		t.Fatalf("sample probe concurrency drifted: %d", decoded.Library.ProbeConcurrency)
	}
}
