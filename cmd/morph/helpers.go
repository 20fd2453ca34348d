package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var statusTitler = cases.Title(language.English)

// statusLabel renders an engine status value for table output.
func statusLabel(status string) string {
	return statusTitler.String(strings.ReplaceAll(status, "_", " "))
}

func humanBytes(v int64) string {
	const unit = 1024
	if v < unit {
		return fmt.Sprintf("%d B", v)
	}
	div := int64(unit)
	exp := 0
	for n := v / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	value := float64(v) / float64(div)
	return fmt.Sprintf("%.1f %ciB", value, "KMGTPEZY"[exp])
}

// parseBytes accepts a plain byte count or a value with a binary or decimal
// suffix, e.g. "1048576", "500MiB", "2GB".
func parseBytes(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("byte size is required")
	}

	multipliers := []struct {
		suffix string
		factor int64
	}{
		{"TiB", 1 << 40}, {"GiB", 1 << 30}, {"MiB", 1 << 20}, {"KiB", 1 << 10},
		{"TB", 1e12}, {"GB", 1e9}, {"MB", 1e6}, {"KB", 1e3},
		{"B", 1},
	}
	factor := int64(1)
	for _, m := range multipliers {
		if strings.HasSuffix(strings.ToLower(s), strings.ToLower(m.suffix)) {
			s = strings.TrimSpace(s[:len(s)-len(m.suffix)])
			factor = m.factor
			break
		}
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("byte size must not be negative")
	}
	return int64(value * float64(factor)), nil
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
