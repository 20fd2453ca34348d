package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"morph/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.SourceDir = filepath.Join(base, "source")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.TempDir = filepath.Join(base, "tmp")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != path {
		t.Fatalf("unexpected resolved path: %s", resolved)
	}
	if cfg.Space.MaxTotalGiB != 100 {
		t.Fatalf("expected default budget, got %d", cfg.Space.MaxTotalGiB)
	}
	if cfg.Converter.Command != "ffmpeg" {
		t.Fatalf("expected default converter command, got %q", cfg.Converter.Command)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := `
[paths]
source_dir = "` + filepath.Join(base, "in") + `"
output_dir = "` + filepath.Join(base, "out") + `"

[space]
max_total_gib = 10
reserved_gib = 1

[logging]
format = "json"
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Space.MaxTotalGiB != 10 || cfg.Space.ReservedGiB != 1 {
		t.Fatalf("space overrides not applied: %+v", cfg.Space)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging overrides not applied: %+v", cfg.Logging)
	}
	if cfg.Workflow.PollInterval != 5 {
		t.Fatalf("expected default poll interval, got %d", cfg.Workflow.PollInterval)
	}
}

func TestValidateRejectsBadSpaceBudget(t *testing.T) {
	cfg := config.Default()
	cfg.Space.ReservedGiB = cfg.Space.MaxTotalGiB

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "reserved_gib") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsSharedSourceOutput(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.SourceDir = "/data/media"
	cfg.Paths.OutputDir = "/data/media"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for shared source/output dir")
	}
}

func TestMaxTotalBytes(t *testing.T) {
	cfg := config.Default()
	cfg.Space.MaxTotalGiB = 2
	if got := cfg.MaxTotalBytes(); got != 2*1024*1024*1024 {
		t.Fatalf("unexpected byte conversion: %d", got)
	}
}
