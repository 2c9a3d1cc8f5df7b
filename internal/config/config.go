package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Encoder engine identifiers.
const (
	EngineFFmpeg = "ffmpeg"
	EngineDrapto = "drapto"
)

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Encoder contains the options forwarded to the encoder backend. The
// orchestrator treats them as opaque.
type Encoder struct {
	Engine       string   `toml:"engine"`
	Binary       string   `toml:"binary"`
	VideoCodec   string   `toml:"video_codec"`
	AudioCodec   string   `toml:"audio_codec"`
	VideoBitrate string   `toml:"video_bitrate"`
	AudioBitrate string   `toml:"audio_bitrate"`
	PixelFormat  string   `toml:"pixel_format"`
	ExtraArgs    []string `toml:"extra_args"`
}

// Batch contains scheduling, persistence, and retry settings.
type Batch struct {
	Concurrency               int      `toml:"concurrency"`
	Overwrite                 bool     `toml:"overwrite"`
	Watch                     bool     `toml:"watch"`
	WatchSettleSeconds        int      `toml:"watch_settle_seconds"`
	CheckpointIntervalSeconds int      `toml:"checkpoint_interval"`
	StaleAfterHours           int      `toml:"stale_after_hours"`
	FailedDisplaySeconds      int      `toml:"failed_display_seconds"`
	AbortGraceSeconds         int      `toml:"abort_grace_seconds"`
	ShutdownGraceSeconds      int      `toml:"shutdown_grace_seconds"`
	TeardownAttempts          int      `toml:"teardown_attempts"`
	TeardownBackoffMillis     int      `toml:"teardown_backoff_ms"`
	DiscoverAttempts          int      `toml:"discover_attempts"`
	MaxFailedAttempts         int      `toml:"max_failed_attempts"` // 0 disables the cap
	Extensions                []string `toml:"extensions"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for ffbatch.
//
// Configuration sections by subsystem:
//   - Paths: state and log directories
//   - Encoder: backend selection and codec options
//   - Batch: concurrency, overwrite policy, persistence timings, retry caps
//   - Logging: log format, level, and retention
type Config struct {
	Paths   Paths   `toml:"paths"`
	Encoder Encoder `toml:"encoder"`
	Batch   Batch   `toml:"batch"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ffbatch/config.toml")
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
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strings.TrimSpace(strict.String()))
			}
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
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ffbatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// EncoderBinary returns the executable the ffmpeg engine invokes.
func (c *Config) EncoderBinary() string {
	if c.Encoder.Binary != "" {
		return c.Encoder.Binary
	}
	return "ffmpeg"
}

// CheckpointInterval returns the periodic checkpoint cadence.
func (c *Config) CheckpointInterval() time.Duration {
	return time.Duration(c.Batch.CheckpointIntervalSeconds) * time.Second
}

// StaleAfter returns the age beyond which a checkpoint's pending list is discarded.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Batch.StaleAfterHours) * time.Hour
}

// FailedDisplay returns how long a failed job stays visible in status output.
func (c *Config) FailedDisplay() time.Duration {
	return time.Duration(c.Batch.FailedDisplaySeconds) * time.Second
}

// AbortGrace returns the delay between killing an aborted encode and deleting its output.
func (c *Config) AbortGrace() time.Duration {
	return time.Duration(c.Batch.AbortGraceSeconds) * time.Second
}

// WatchSettle returns how long a watched new file must stop growing before it is queued.
func (c *Config) WatchSettle() time.Duration {
	return time.Duration(c.Batch.WatchSettleSeconds) * time.Second
}

// ShutdownGrace returns how long shutdown waits for in-flight jobs before
// killing them. Zero kills them as soon as shutdown begins.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Batch.ShutdownGraceSeconds) * time.Second
}

// TeardownBackoff returns the initial delay between temp directory removal attempts.
func (c *Config) TeardownBackoff() time.Duration {
	return time.Duration(c.Batch.TeardownBackoffMillis) * time.Millisecond
}

// HasExtension reports whether path carries one of the configured media extensions.
func (c *Config) HasExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, candidate := range c.Batch.Extensions {
		if candidate == ext {
			return true
		}
	}
	return false
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
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
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

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
