package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

var commandContext = exec.CommandContext

// ProgressUpdate captures converter progress events.
type ProgressUpdate struct {
	Percent float64
	Speed   string
	ETA     string
}

// ConvertRequest describes one conversion invocation.
type ConvertRequest struct {
	SourcePath string
	OutputDir  string
	Format     string
	Codec      string
	Quality    string
}

// Converter defines external conversion behaviour.
type Converter interface {
	Convert(ctx context.Context, req ConvertRequest, progress func(ProgressUpdate)) (string, error)
}

// CLI wraps the configured command-line converter. The command is expected
// to emit one JSON object per line on stdout with percent/speed/eta fields;
// lines that do not parse are ignored.
type CLI struct {
	binary string
}

// NewCLI constructs a CLI converter around the given binary.
func NewCLI(binary string) *CLI {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &CLI{binary: binary}
}

// Convert launches the converter and returns the output path.
func (c *CLI) Convert(ctx context.Context, req ConvertRequest, progress func(ProgressUpdate)) (string, error) {
	if req.SourcePath == "" {
		return "", errors.New("source path required")
	}
	outputDir := strings.TrimSpace(req.OutputDir)
	if outputDir == "" {
		return "", errors.New("output directory required")
	}

	base := filepath.Base(req.SourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	if req.Format != "" {
		ext = req.Format
	}
	if ext == "" {
		ext = "mkv"
	}
	outputPath := filepath.Join(outputDir, stem+"."+ext)

	args := []string{"--input", req.SourcePath, "--output", outputPath, "--progress-json"}
	if req.Codec != "" {
		args = append(args, "--codec", req.Codec)
	}
	if req.Quality != "" {
		args = append(args, "--quality", req.Quality)
	}

	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start converter: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		var payload struct {
			Percent float64 `json:"percent"`
			Speed   string  `json:"speed"`
			ETA     string  `json:"eta"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &payload); err != nil {
			continue
		}
		if progress != nil {
			progress(ProgressUpdate{Percent: payload.Percent, Speed: payload.Speed, ETA: payload.ETA})
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return "", fmt.Errorf("read converter output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("converter failed: %w", err)
	}
	return outputPath, nil
}

var _ Converter = (*CLI)(nil)
