package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var bitratePattern = regexp.MustCompile(`^[0-9]+k$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateCoverArt(); err != nil {
		return err
	}
	if err := c.validateLibrary(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validateJobs() error {
	if err := ensurePositiveMap(map[string]int{
		"jobs.max_concurrent":            c.Jobs.MaxConcurrent,
		"jobs.acquire_timeout":           c.Jobs.AcquireTimeout,
		"jobs.transcode_timeout":         c.Jobs.TranscodeTimeout,
		"jobs.cancel_cleanup_timeout_ms": c.Jobs.CancelCleanupTimeoutMs,
		"cleanup.orphan_max_age":         c.Cleanup.OrphanMaxAge,
	}); err != nil {
		return err
	}
	switch c.Jobs.DefaultFormat {
	case "mp3", "m4a":
	default:
		return fmt.Errorf("jobs.default_format must be mp3 or m4a (got %q)", c.Jobs.DefaultFormat)
	}
	switch c.Jobs.DefaultAspect {
	case "square", "widescreen":
	default:
		return fmt.Errorf("jobs.default_aspect must be square or widescreen (got %q)", c.Jobs.DefaultAspect)
	}
	return nil
}

func (c *Config) validateTranscode() error {
	if c.Transcode.MP3Quality < 0 || c.Transcode.MP3Quality > 9 {
		return errors.New("transcode.mp3_quality must be between 0 and 9")
	}
	if !bitratePattern.MatchString(c.Transcode.AACBitrate) {
		return fmt.Errorf("transcode.aac_bitrate must look like 256k (got %q)", c.Transcode.AACBitrate)
	}
	if c.Transcode.SquareSize < 16 {
		return errors.New("transcode.square_size must be at least 16")
	}
	return nil
}

func (c *Config) validateCoverArt() error {
	if c.CoverArt.RequestTimeout <= 0 {
		return errors.New("cover_art.request_timeout must be positive")
	}
	if c.CoverArt.RequestsPerSecond <= 0 {
		return errors.New("cover_art.requests_per_second must be positive")
	}
	if c.CoverArt.MaxBytes <= 0 {
		return errors.New("cover_art.max_bytes must be positive")
	}
	return nil
}

func (c *Config) validateLibrary() error {
	if c.Library.ProbeConcurrency <= 0 {
		return errors.New("library.probe_concurrency must be positive")
	}
	if c.Library.ProbeTimeout <= 0 {
		return errors.New("library.probe_timeout must be positive")
	}
	if len(c.Library.Extensions) == 0 {
		return errors.New("library.extensions must include at least one extension")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error (got %q)", c.Logging.Level)
	}
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	if !strings.HasPrefix(c.Notifications.NtfyTopic, "http://") && !strings.HasPrefix(c.Notifications.NtfyTopic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL (got %q)", c.Notifications.NtfyTopic)
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.BatchMinJobs < 1 {
		return errors.New("notifications.batch_min_jobs must be at least 1")
	}
	return nil
}

// ensurePositiveMap reports the first non-positive value in key order so the
// error message is deterministic.
func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
