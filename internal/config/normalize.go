package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeEngines(); err != nil {
		return err
	}
	c.normalizeJobs()
	c.normalizeTranscode()
	c.normalizeLibrary()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("TONEARM_OUTPUT_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.OutputDir = strings.TrimSpace(value)
	}
	fields := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.work_dir", &c.Paths.WorkDir, defaultWorkDir},
		{"paths.output_dir", &c.Paths.OutputDir, defaultOutputDir},
		{"paths.library_dir", &c.Paths.LibraryDir, defaultLibraryDir},
		{"paths.cache_dir", &c.Paths.CacheDir, defaultCacheDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeEngines() error {
	c.Engines.Fetch = defaultIfBlank(c.Engines.Fetch, defaultFetchBinary)
	c.Engines.FFmpeg = defaultIfBlank(c.Engines.FFmpeg, defaultFFmpegBinary)
	c.Engines.FFprobe = defaultIfBlank(c.Engines.FFprobe, defaultFFprobeBinary)

	if c.Engines.FFmpegLocation == "" {
		if value, ok := os.LookupEnv("TONEARM_FFMPEG_LOCATION"); ok {
			c.Engines.FFmpegLocation = value
		}
	}
	c.Engines.FFmpegLocation = strings.TrimSpace(c.Engines.FFmpegLocation)
	if c.Engines.FFmpegLocation != "" {
		expanded, err := expandPath(c.Engines.FFmpegLocation)
		if err != nil {
			return fmt.Errorf("engines.ffmpeg_location: %w", err)
		}
		c.Engines.FFmpegLocation = expanded
	}
	return nil
}

func (c *Config) normalizeJobs() {
	c.Jobs.DefaultFormat = strings.ToLower(defaultIfBlank(c.Jobs.DefaultFormat, defaultFormat))
	c.Jobs.DefaultAspect = strings.ToLower(defaultIfBlank(c.Jobs.DefaultAspect, defaultAspect))
}

func (c *Config) normalizeTranscode() {
	c.Transcode.AACBitrate = strings.ToLower(defaultIfBlank(c.Transcode.AACBitrate, defaultAACBitrate))
}

func (c *Config) normalizeLibrary() {
	if len(c.Library.Extensions) == 0 {
		c.Library.Extensions = append([]string(nil), DefaultExtensions...)
		return
	}
	seen := make(map[string]struct{}, len(c.Library.Extensions))
	normalized := make([]string, 0, len(c.Library.Extensions))
	for _, ext := range c.Library.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		normalized = append(normalized, ext)
	}
	c.Library.Extensions = normalized
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format != "json" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func defaultIfBlank(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
