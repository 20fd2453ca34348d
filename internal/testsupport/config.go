package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"morph/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.SourceDir = filepath.Join(base, "source")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.TempDir = filepath.Join(base, "tmp")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Paths.SocketPath = filepath.Join(base, "morphd.sock")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSpaceBudget overrides the disk budget on the test config.
func WithSpaceBudget(maxTotalGiB, reservedGiB int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Space.MaxTotalGiB = maxTotalGiB
		b.cfg.Space.ReservedGiB = reservedGiB
	}
}

// WithSpaceDisabled turns off space accounting on the test config.
func WithSpaceDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Space.Enabled = false
	}
}

// WithConverterCommand overrides the external conversion command.
func WithConverterCommand(command string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Converter.Command = command
	}
}

// WithStubbedConverter writes a stub converter executable that exits
// successfully and points the config at it.
func WithStubbedConverter() ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "convert-stub")
		script := []byte("#!/bin/sh\nexit 0\n")
		if err := os.WriteFile(target, script, 0o755); err != nil {
			b.t.Fatalf("write stub converter: %v", err)
		}
		b.cfg.Converter.Command = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.SourceDir)
}
