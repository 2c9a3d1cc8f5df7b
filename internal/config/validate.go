package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateEncoder() error {
	switch c.Encoder.Engine {
	case EngineFFmpeg, EngineDrapto:
	default:
		return fmt.Errorf("encoder.engine must be %q or %q, got %q", EngineFFmpeg, EngineDrapto, c.Encoder.Engine)
	}
	if c.Encoder.Engine == EngineDrapto && len(c.Encoder.ExtraArgs) > 0 {
		return errors.New("encoder.extra_args is only supported by the ffmpeg engine")
	}
	return nil
}

func (c *Config) validateBatch() error {
	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > maxConcurrency {
		return fmt.Errorf("batch.concurrency must be between 1 and %d", maxConcurrency)
	}
	if err := ensurePositive("batch.checkpoint_interval", c.Batch.CheckpointIntervalSeconds); err != nil {
		return err
	}
	if err := ensurePositive("batch.stale_after_hours", c.Batch.StaleAfterHours); err != nil {
		return err
	}
	if err := ensurePositive("batch.teardown_attempts", c.Batch.TeardownAttempts); err != nil {
		return err
	}
	if err := ensurePositive("batch.discover_attempts", c.Batch.DiscoverAttempts); err != nil {
		return err
	}
	if c.Batch.FailedDisplaySeconds < 0 {
		return errors.New("batch.failed_display_seconds must be non-negative")
	}
	if c.Batch.AbortGraceSeconds < 0 {
		return errors.New("batch.abort_grace_seconds must be non-negative")
	}
	if c.Batch.WatchSettleSeconds < 0 {
		return errors.New("batch.watch_settle_seconds must be non-negative")
	}
	if c.Batch.ShutdownGraceSeconds < 0 {
		return errors.New("batch.shutdown_grace_seconds must be non-negative")
	}
	if c.Batch.MaxFailedAttempts < 0 {
		return errors.New("batch.max_failed_attempts must be non-negative (0 disables the cap)")
	}
	if len(c.Batch.Extensions) == 0 {
		return errors.New("batch.extensions must list at least one extension")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be non-negative")
	}
	return nil
}

func ensurePositive(field string, value int) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}
