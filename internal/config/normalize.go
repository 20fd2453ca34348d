package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeConverter()
	c.normalizeStream()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.SourceDir) == "" {
		c.Paths.SourceDir = defaultSourceDir
	}
	if c.Paths.SourceDir, err = expandPath(c.Paths.SourceDir); err != nil {
		return fmt.Errorf("paths.source_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = defaultTempDir
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = defaultSocketPath
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeConverter() {
	c.Converter.Command = strings.TrimSpace(c.Converter.Command)
	if c.Converter.Command == "" {
		c.Converter.Command = defaultConverterCommand
	}
	if c.Converter.MaxConcurrent <= 0 {
		c.Converter.MaxConcurrent = defaultConverterConcurrent
	}
	if c.Converter.MaxRetries < 0 {
		c.Converter.MaxRetries = 0
	}
}

func (c *Config) normalizeStream() {
	if c.Stream.PingInterval <= 0 {
		c.Stream.PingInterval = defaultStreamPingInterval
	}
	if c.Stream.PongTimeout <= 0 {
		c.Stream.PongTimeout = defaultStreamPongTimeout
	}
	if c.Stream.SendBuffer <= 0 {
		c.Stream.SendBuffer = defaultStreamSendBuffer
	}
	if c.Stream.ReconnectInterval <= 0 {
		c.Stream.ReconnectInterval = defaultStreamReconnectInterval
	}
	if c.Stream.ReconnectMaxInterval <= 0 {
		c.Stream.ReconnectMaxInterval = defaultStreamReconnectMaxInterval
	}
	if c.Stream.ReconnectMaxAttempts <= 0 {
		c.Stream.ReconnectMaxAttempts = defaultStreamReconnectMaxAttempts
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
