package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSpace(); err != nil {
		return err
	}
	if err := c.validateIntervals(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.SourceDir == "" {
		return errors.New("paths.source_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Paths.TempDir == "" {
		return errors.New("paths.temp_dir must be set")
	}
	if c.Paths.SourceDir == c.Paths.OutputDir {
		return errors.New("paths.source_dir and paths.output_dir must differ")
	}
	return nil
}

func (c *Config) validateSpace() error {
	if c.Space.MaxTotalGiB <= 0 {
		return errors.New("space.max_total_gib must be positive")
	}
	if c.Space.ReservedGiB < 0 {
		return errors.New("space.reserved_gib must not be negative")
	}
	if c.Space.ReservedGiB >= c.Space.MaxTotalGiB {
		return errors.New("space.reserved_gib must be smaller than space.max_total_gib")
	}
	return nil
}

func (c *Config) validateIntervals() error {
	return ensurePositiveMap(map[string]int{
		"space.refresh_interval":        c.Space.RefreshInterval,
		"converter.timeout":             c.Converter.TimeoutSecs,
		"stream.ping_interval":          c.Stream.PingInterval,
		"stream.pong_timeout":           c.Stream.PongTimeout,
		"workflow.poll_interval":        c.Workflow.PollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	if c.Stream.PongTimeout <= c.Stream.PingInterval {
		return errors.New("stream.pong_timeout must exceed stream.ping_interval")
	}
	return nil
}

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
