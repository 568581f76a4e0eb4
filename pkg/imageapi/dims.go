package imageapi

import (
	"math"
	"strconv"
	"strings"
)

// targetPixels is the approximate pixel budget (2^20) the dimension
// formula solves for.
const targetPixels = 1 << 20

// fallbackDim is used whenever ratio is malformed or degenerate.
const fallbackDim = 1024

// Dimensions derives (width, height) from a "W:H" ratio string:
// x = sqrt(2^20 / (W*H)); each output dimension is W*x or H*x rounded to
// the nearest multiple of 8. A malformed ratio falls back to 1024x1024.
func Dimensions(ratio string) (int, int) {
	w, h, ok := parseRatio(ratio)
	if !ok || w <= 0 || h <= 0 {
		return fallbackDim, fallbackDim
	}
	x := math.Sqrt(float64(targetPixels) / (w * h))
	return roundToMultipleOf8(w * x), roundToMultipleOf8(h * x)
}

func parseRatio(ratio string) (w, h float64, ok bool) {
	parts := strings.SplitN(ratio, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	wv, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	hv, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	return wv, hv, true
}

func roundToMultipleOf8(v float64) int {
	return int(math.Round(v/8)) * 8
}
