package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir    string `toml:"work_dir"`
	OutputDir  string `toml:"output_dir"`
	LibraryDir string `toml:"library_dir"`
	CacheDir   string `toml:"cache_dir"`
	LogDir     string `toml:"log_dir"`
}

// Engines names the external tools tonearm supervises.
type Engines struct {
	Fetch          string `toml:"fetch"`
	FFmpeg         string `toml:"ffmpeg"`
	FFprobe        string `toml:"ffprobe"`
	FFmpegLocation string `toml:"ffmpeg_location"`
}

// Jobs contains job coordinator settings.
type Jobs struct {
	MaxConcurrent          int    `toml:"max_concurrent"`
	AcquireTimeout         int    `toml:"acquire_timeout"`
	TranscodeTimeout       int    `toml:"transcode_timeout"`
	CancelCleanupTimeoutMs int    `toml:"cancel_cleanup_timeout_ms"`
	DefaultFormat          string `toml:"default_format"`
	DefaultAspect          string `toml:"default_aspect"`
}

// Transcode contains encoder settings shared by download and re-encode jobs.
type Transcode struct {
	MP3Quality int    `toml:"mp3_quality"`
	AACBitrate string `toml:"aac_bitrate"`
	SquareSize int    `toml:"square_size"`
}

// CoverArt contains settings for the cover-art fetch chain.
type CoverArt struct {
	RequestTimeout    int     `toml:"request_timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	UserAgent         string  `toml:"user_agent"`
	MaxBytes          int64   `toml:"max_bytes"`
}

// Library contains library scan settings.
type Library struct {
	ProbeConcurrency int      `toml:"probe_concurrency"`
	ProbeTimeout     int      `toml:"probe_timeout"`
	Extensions       []string `toml:"extensions"`
}

// Cleanup contains temp-file sweep settings.
type Cleanup struct {
	OrphanMaxAge int `toml:"orphan_max_age"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Tracks         bool   `toml:"tracks"`
	Errors         bool   `toml:"errors"`
	Batch          bool   `toml:"batch"`
	BatchMinJobs   int    `toml:"batch_min_jobs"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tonearm.
//
// Configuration sections by subsystem:
//   - Paths: work, output, library, cache and log directories
//   - Engines: yt-dlp, ffmpeg and ffprobe binaries
//   - Jobs: worker slots, engine timeouts and job defaults
//   - Transcode: codec quality and cover geometry
//   - CoverArt: HTTP fetch limits for the cover-art chain
//   - Library: probe pool size and extension allow-list
//   - Cleanup: orphaned temp-file sweep threshold
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Engines   Engines   `toml:"engines"`
	Jobs      Jobs      `toml:"jobs"`
	Transcode Transcode `toml:"transcode"`
	CoverArt  CoverArt  `toml:"cover_art"`
	Library   Library   `toml:"library"`
	Cleanup   Cleanup   `toml:"cleanup"`
	Logging   Logging   `toml:"logging"`

	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("tonearm.toml")
	if err != nil {
		return "", false, err
	}

	for _, candidate := range []string{defaultPath, projectPath} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the pipeline writes into.
// LibraryDir is only read, so it is left alone.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.OutputDir, c.Paths.CacheDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LibraryCachePath is the JSON file holding library scan results.
func (c *Config) LibraryCachePath() string {
	return filepath.Join(c.Paths.CacheDir, "library_cache.json")
}

// CoverArtCacheDir holds lazily extracted library cover art.
func (c *Config) CoverArtCacheDir() string {
	return filepath.Join(c.Paths.CacheDir, "covers")
}

// HistoryDBPath is the SQLite database recording finished jobs.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Paths.CacheDir, "history.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
