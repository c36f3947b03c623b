package config

const (
	defaultConfigPath             = "~/.config/tonearm/config.toml"
	defaultWorkDir                = "~/.local/share/tonearm/work"
	defaultOutputDir              = "~/Music/tonearm"
	defaultLibraryDir             = "~/Music"
	defaultCacheDir               = "~/.cache/tonearm"
	defaultLogDir                 = "~/.local/share/tonearm/logs"
	defaultFetchBinary            = "yt-dlp"
	defaultFFmpegBinary           = "ffmpeg"
	defaultFFprobeBinary          = "ffprobe"
	defaultMaxConcurrent          = 2
	defaultAcquireTimeout         = 300
	defaultTranscodeTimeout       = 600
	defaultCancelCleanupTimeoutMs = 2000
	defaultFormat                 = "mp3"
	defaultAspect                 = "square"
	defaultMP3Quality             = 0
	defaultAACBitrate             = "256k"
	defaultSquareSize             = 1000
	defaultCoverRequestTimeout    = 15
	defaultCoverRequestsPerSecond = 4
	defaultCoverUserAgent         = "tonearm/dev"
	defaultCoverMaxBytes          = 20 << 20
	defaultProbeConcurrency       = 8
	defaultProbeTimeout           = 30
	defaultOrphanMaxAge           = 3600
	defaultNotifyRequestTimeout   = 10
	defaultNotifyBatchMinJobs     = 2
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// DefaultExtensions lists the audio file extensions a library scan picks up.
var DefaultExtensions = []string{".mp3", ".m4a", ".aac", ".flac", ".ogg", ".opus", ".wav"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:    defaultWorkDir,
			OutputDir:  defaultOutputDir,
			LibraryDir: defaultLibraryDir,
			CacheDir:   defaultCacheDir,
			LogDir:     defaultLogDir,
		},
		Engines: Engines{
			Fetch:   defaultFetchBinary,
			FFmpeg:  defaultFFmpegBinary,
			FFprobe: defaultFFprobeBinary,
		},
		Jobs: Jobs{
			MaxConcurrent:          defaultMaxConcurrent,
			AcquireTimeout:         defaultAcquireTimeout,
			TranscodeTimeout:       defaultTranscodeTimeout,
			CancelCleanupTimeoutMs: defaultCancelCleanupTimeoutMs,
			DefaultFormat:          defaultFormat,
			DefaultAspect:          defaultAspect,
		},
		Transcode: Transcode{
			MP3Quality: defaultMP3Quality,
			AACBitrate: defaultAACBitrate,
			SquareSize: defaultSquareSize,
		},
		CoverArt: CoverArt{
			RequestTimeout:    defaultCoverRequestTimeout,
			RequestsPerSecond: defaultCoverRequestsPerSecond,
			UserAgent:         defaultCoverUserAgent,
			MaxBytes:          defaultCoverMaxBytes,
		},
		Library: Library{
			ProbeConcurrency: defaultProbeConcurrency,
			ProbeTimeout:     defaultProbeTimeout,
			Extensions:       append([]string(nil), DefaultExtensions...),
		},
		Cleanup: Cleanup{
			OrphanMaxAge: defaultOrphanMaxAge,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Tracks:         false,
			Errors:         true,
			Batch:          true,
			BatchMinJobs:   defaultNotifyBatchMinJobs,
		},
	}
}
