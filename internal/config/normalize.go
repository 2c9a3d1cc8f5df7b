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
	c.normalizeEncoder()
	c.normalizeBatch()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeEncoder() {
	if value, ok := os.LookupEnv("FFBATCH_ENCODER"); ok && strings.TrimSpace(value) != "" {
		c.Encoder.Engine = value
	}
	c.Encoder.Engine = strings.ToLower(strings.TrimSpace(c.Encoder.Engine))
	if c.Encoder.Engine == "" {
		c.Encoder.Engine = defaultEngine
	}
	if c.Encoder.Binary == "" {
		if value, ok := os.LookupEnv("FFBATCH_FFMPEG"); ok {
			c.Encoder.Binary = value
		}
	}
	c.Encoder.Binary = strings.TrimSpace(c.Encoder.Binary)
	c.Encoder.VideoCodec = strings.TrimSpace(c.Encoder.VideoCodec)
	c.Encoder.AudioCodec = strings.TrimSpace(c.Encoder.AudioCodec)
	c.Encoder.VideoBitrate = strings.TrimSpace(c.Encoder.VideoBitrate)
	c.Encoder.AudioBitrate = strings.TrimSpace(c.Encoder.AudioBitrate)
	c.Encoder.PixelFormat = strings.TrimSpace(c.Encoder.PixelFormat)

	args := c.Encoder.ExtraArgs[:0]
	for _, arg := range c.Encoder.ExtraArgs {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			args = append(args, trimmed)
		}
	}
	c.Encoder.ExtraArgs = args
}

func (c *Config) normalizeBatch() {
	if len(c.Batch.Extensions) == 0 {
		c.Batch.Extensions = append([]string(nil), defaultExtensions...)
	}
	seen := make(map[string]struct{}, len(c.Batch.Extensions))
	exts := make([]string, 0, len(c.Batch.Extensions))
	for _, ext := range c.Batch.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, dup := seen[ext]; dup {
			continue
		}
		seen[ext] = struct{}{}
		exts = append(exts, ext)
	}
	c.Batch.Extensions = exts
	if c.Batch.TeardownBackoffMillis <= 0 {
		c.Batch.TeardownBackoffMillis = defaultTeardownBackoffMillis
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		format = "console"
	case "json":
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	switch level {
	case "":
		level = defaultLogLevel
	case "warning":
		level = "warn"
	}
	c.Logging.Level = level
}
