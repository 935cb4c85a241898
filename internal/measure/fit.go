package measure

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Window is the longitude range whose bbox centers count as "mainland" when a
// collection straddles the seam. The defaults were tuned by hand against the
// USA, Russia and Fiji boundary sets and are configuration, not geodesy.
type Window struct {
	West float64
	East float64
}

var DefaultWindow = Window{West: -130, East: 170}

type fitOptions struct {
	window Window
}

type FitOption func(*fitOptions)

func WithWindow(w Window) FitOption {
	return func(o *fitOptions) { o.window = w }
}

// FitBounds computes padded, clamped corners for fitting a view to fc.
// When the raw span exceeds 180°, features that straddle the seam or whose
// center lies outside the window are ignored, provided something remains.
// A padding <= 0 uses DefaultPadding.
func FitBounds(fc *geojson.FeatureCollection, padding float64, opts ...FitOption) (FitBox, error) {
	if fc == nil {
		return FitBox{}, ErrMeasurementFailure
	}
	o := fitOptions{window: DefaultWindow}
	for _, fn := range opts {
		fn(&o)
	}
	raw, ok := collectionBound(fc.Features)
	if !ok {
		return FitBox{}, ErrMeasurementFailure
	}
	if raw.Max[0]-raw.Min[0] > 180 {
		if b, ok := collectionBound(mainland(fc.Features, o.window)); ok {
			raw = b
		}
	}
	return pad(fromBound(raw), padding)
}

// FitFeature is FitBounds for a single feature.
func FitFeature(f *geojson.Feature, padding float64) (FitBox, error) {
	b, ok := featureBound(f)
	if !ok {
		return FitBox{}, ErrMeasurementFailure
	}
	return pad(fromBound(b), padding)
}

func mainland(fs []*geojson.Feature, w Window) []*geojson.Feature {
	var out []*geojson.Feature
	for _, f := range fs {
		b, ok := featureBound(f)
		if !ok {
			continue
		}
		if b.Max[0]-b.Min[0] > 180 {
			continue
		}
		c := (b.Min[0] + b.Max[0]) / 2
		if c < w.West || c > w.East {
			continue
		}
		out = append(out, f)
	}
	return out
}

func pad(b BBox, padding float64) (FitBox, error) {
	if padding <= 0 {
		padding = DefaultPadding
	}
	if !b.Finite() {
		return FitBox{}, ErrMeasurementFailure
	}
	dx := b.LngSpan() * padding
	dy := b.LatSpan() * padding
	out := FitBox{
		{clamp(b[0]-dx, -180, 180), clamp(b[1]-dy, -MaxMercatorLat, MaxMercatorLat)},
		{clamp(b[2]+dx, -180, 180), clamp(b[3]+dy, -MaxMercatorLat, MaxMercatorLat)},
	}
	if !out.BBox().Finite() {
		return FitBox{}, ErrMeasurementFailure
	}
	return out, nil
}

// Center is the midpoint of the box.
func Center(b BBox) orb.Point {
	return orb.Point{(b[0] + b[2]) / 2, (b[1] + b[3]) / 2}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
