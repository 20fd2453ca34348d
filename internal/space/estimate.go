package space

import "strings"

// Reservation sizing is an estimate, not a guarantee. Ratios come from
// observed output sizes across common codec/format pairs; unknown values use
// conservative defaults.
const (
	defaultCompressionRatio = 0.8
	defaultFormatMultiplier = 1.0
	tempOverheadRatio       = 0.1
)

var compressionRatios = map[string]float64{
	"h264": 0.85,
	"avc":  0.85,
	"hevc": 0.55,
	"h265": 0.55,
	"av1":  0.45,
	"vp9":  0.60,
	"vp8":  0.75,
	"copy": 1.0,
}

var formatMultipliers = map[string]float64{
	"mp4":  1.0,
	"mkv":  1.02,
	"webm": 0.98,
	"mov":  1.05,
	"avi":  1.10,
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// EstimateOutputSize predicts the converted file size for a source of the
// given size.
func EstimateOutputSize(sourceSize int64, codec, format string) int64 {
	if sourceSize <= 0 {
		return 0
	}
	ratio, ok := compressionRatios[normalizeKey(codec)]
	if !ok {
		ratio = defaultCompressionRatio
	}
	multiplier, ok := formatMultipliers[normalizeKey(format)]
	if !ok {
		multiplier = defaultFormatMultiplier
	}
	return int64(float64(sourceSize) * ratio * multiplier)
}

// EstimateTempOverhead predicts scratch space consumed while converting.
func EstimateTempOverhead(sourceSize int64) int64 {
	if sourceSize <= 0 {
		return 0
	}
	return int64(float64(sourceSize) * tempOverheadRatio)
}

// EstimateRequiredBytes sizes the admission reservation for a conversion:
// predicted output plus temporary overhead. The source file is already on
// disk and counted by the usage snapshot.
func EstimateRequiredBytes(sourceSize int64, codec, format string) int64 {
	return EstimateOutputSize(sourceSize, codec, format) + EstimateTempOverhead(sourceSize)
}
