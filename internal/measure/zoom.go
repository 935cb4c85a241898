package measure

import "math"

const (
	MinZoom = 1.0
	MaxZoom = 15.0
)

// levelBands keeps zoom proportionate to administrative depth.
var levelBands = [][2]float64{
	{1, 4},
	{3, 8},
	{6, 12},
	{8, 14},
	{10, 15},
}

// Zoom is log2(360 / max(lngSpan, latSpan)) - 1 clamped to [MinZoom, MaxZoom].
// A degenerate box zooms all the way in.
func Zoom(b BBox) float64 {
	r := math.Max(b.LngSpan(), b.LatSpan())
	if math.IsInf(r, 1) {
		return MinZoom
	}
	if !(r > 0) {
		return MaxZoom
	}
	return clamp(math.Log2(360/r)-1, MinZoom, MaxZoom)
}

// LevelZoomBand returns the recommended zoom range for a drill level.
func LevelZoomBand(level int) (lo, hi float64) {
	if level < 0 {
		level = 0
	}
	if level >= len(levelBands) {
		level = len(levelBands) - 1
	}
	return levelBands[level][0], levelBands[level][1]
}

// ZoomForLevel clamps Zoom(b) into the band for level.
func ZoomForLevel(b BBox, level int) float64 {
	lo, hi := LevelZoomBand(level)
	return clamp(Zoom(b), lo, hi)
}
