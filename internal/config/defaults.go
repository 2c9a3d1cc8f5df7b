package config

const (
	defaultStateDir              = "~/.local/share/ffbatch"
	defaultLogDir                = "~/.local/share/ffbatch/logs"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultEngine                = EngineFFmpeg
	defaultVideoCodec            = "h264"
	defaultAudioCodec            = "aac"
	defaultPixelFormat           = "yuv420p"
	defaultConcurrency           = 3
	defaultCheckpointInterval    = 20
	defaultStaleAfterHours       = 5 * 24
	defaultFailedDisplaySeconds  = 5
	defaultAbortGraceSeconds     = 2
	defaultShutdownGraceSeconds  = 60
	defaultWatchSettleSeconds    = 5
	defaultTeardownAttempts      = 3
	defaultTeardownBackoffMillis = 500
	defaultDiscoverAttempts      = 3
	defaultMaxFailedAttempts     = 3
	maxConcurrency               = 64
)

// defaultExtensions mirrors the container formats ffmpeg reliably demuxes.
var defaultExtensions = []string{
	".mkv", ".mp4", ".avi", ".m4v", ".mov", ".wmv", ".flv", ".webm",
	".ts", ".m2ts", ".mpg", ".mpeg", ".vob", ".ogv", ".3gp",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Encoder: Encoder{
			Engine:      defaultEngine,
			VideoCodec:  defaultVideoCodec,
			AudioCodec:  defaultAudioCodec,
			PixelFormat: defaultPixelFormat,
		},
		Batch: Batch{
			Concurrency:               defaultConcurrency,
			Overwrite:                 false,
			Watch:                     false,
			WatchSettleSeconds:        defaultWatchSettleSeconds,
			CheckpointIntervalSeconds: defaultCheckpointInterval,
			StaleAfterHours:           defaultStaleAfterHours,
			FailedDisplaySeconds:      defaultFailedDisplaySeconds,
			AbortGraceSeconds:         defaultAbortGraceSeconds,
			ShutdownGraceSeconds:      defaultShutdownGraceSeconds,
			TeardownAttempts:          defaultTeardownAttempts,
			TeardownBackoffMillis:     defaultTeardownBackoffMillis,
			DiscoverAttempts:          defaultDiscoverAttempts,
			MaxFailedAttempts:         defaultMaxFailedAttempts,
			Extensions:                append([]string(nil), defaultExtensions...),
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
