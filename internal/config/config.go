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

// Paths contains directory and bind address configuration.
type Paths struct {
	SourceDir  string `toml:"source_dir"`
	OutputDir  string `toml:"output_dir"`
	TempDir    string `toml:"temp_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	SocketPath string `toml:"socket_path"`
}

// Space contains the disk budget used by the admission controller.
type Space struct {
	Enabled         bool  `toml:"enabled"`
	MaxTotalGiB     int64 `toml:"max_total_gib"`
	ReservedGiB     int64 `toml:"reserved_gib"`
	RefreshInterval int   `toml:"refresh_interval"`
}

// Converter contains settings for the external conversion command.
type Converter struct {
	Command       string `toml:"command"`
	TimeoutSecs   int    `toml:"timeout"`
	MaxConcurrent int    `toml:"max_concurrent"`
	MaxRetries    int    `toml:"max_retries"`
}

// Stream contains websocket transport timing configuration.
type Stream struct {
	PingInterval         int `toml:"ping_interval"`
	PongTimeout          int `toml:"pong_timeout"`
	SendBuffer           int `toml:"send_buffer"`
	ReconnectInterval    int `toml:"reconnect_interval"`
	ReconnectMaxInterval int `toml:"reconnect_max_interval"`
	ReconnectMaxAttempts int `toml:"reconnect_max_attempts"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completion     bool   `toml:"completion"`
	Errors         bool   `toml:"errors"`
	Space          bool   `toml:"space"`
}

// Workflow contains daemon timing and polling intervals.
type Workflow struct {
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for morph.
//
// Configuration sections by subsystem:
//   - Paths: storage roots, API bind address, and control socket
//   - Space: disk budget consulted before admitting new conversions
//   - Converter: external conversion command and concurrency
//   - Stream: websocket heartbeat and reconnect timing
//   - Notifications: ntfy push notification settings
//   - Workflow: daemon polling intervals
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Space         Space         `toml:"space"`
	Converter     Converter     `toml:"converter"`
	Stream        Stream        `toml:"stream"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/morph/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. When no file exists at the
// resolved path, defaults are used and exists is false.
func Load(path string) (cfg *Config, resolvedPath string, exists bool, err error) {
	value := Default()

	resolvedPath, exists, err = resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, openErr := os.Open(resolvedPath)
		if openErr != nil {
			return nil, "", false, fmt.Errorf("open config: %w", openErr)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if decodeErr := decoder.Decode(&value); decodeErr != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", decodeErr)
		}
	}

	if err = value.normalize(); err != nil {
		return nil, "", false, err
	}
	if err = value.Validate(); err != nil {
		return nil, "", false, err
	}

	return &value, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err = os.Stat(expanded); err != nil {
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
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates all configured directories when missing.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.SourceDir,
		c.Paths.OutputDir,
		c.Paths.TempDir,
		c.Paths.LogDir,
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// MaxTotalBytes returns the configured budget ceiling in bytes.
func (c *Config) MaxTotalBytes() int64 {
	return c.Space.MaxTotalGiB * 1024 * 1024 * 1024
}

// ReservedBytes returns the configured untouchable capacity in bytes.
func (c *Config) ReservedBytes() int64 {
	return c.Space.ReservedGiB * 1024 * 1024 * 1024
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", trimmed, err)
	}
	return abs, nil
}
