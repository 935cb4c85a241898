// Package measure computes bounding boxes, fit boxes, centers and zoom levels
// for features and feature collections. Measurement is advisory: failures
// fall back to whole-world values or are reported so the caller can keep the
// current view.
package measure

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// BBox is [minLng, minLat, maxLng, maxLat].
type BBox [4]float64

// FitBox is [[minLng, minLat], [maxLng, maxLat]].
type FitBox [2][2]float64

const (
	// MaxMercatorLat is the Web-Mercator-safe latitude limit.
	MaxMercatorLat = 85.0511
	DefaultPadding = 0.05
)

var (
	WorldBBox = BBox{-180, -90, 180, 90}

	ErrMeasurementFailure = errors.New("measure: degenerate or empty geometry")
)

func (b BBox) LngSpan() float64 { return b[2] - b[0] }
func (b BBox) LatSpan() float64 { return b[3] - b[1] }

func (b BBox) Finite() bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (f FitBox) BBox() BBox { return BBox{f[0][0], f[0][1], f[1][0], f[1][1]} }

func fromBound(b orb.Bound) BBox { return BBox{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} }

// Bounds measures a *geojson.Feature, *geojson.FeatureCollection or
// orb.Geometry. Any failure yields WorldBBox.
func Bounds(v any) (out BBox) {
	defer func() {
		if recover() != nil {
			out = WorldBBox
		}
	}()
	var (
		b  orb.Bound
		ok bool
	)
	switch x := v.(type) {
	case *geojson.FeatureCollection:
		if x != nil {
			b, ok = collectionBound(x.Features)
		}
	case *geojson.Feature:
		b, ok = featureBound(x)
	case orb.Geometry:
		b, ok = geometryBound(x)
	}
	if !ok {
		return WorldBBox
	}
	out = fromBound(b)
	if !out.Finite() {
		return WorldBBox
	}
	return out
}

func featureBound(f *geojson.Feature) (orb.Bound, bool) {
	if f == nil {
		return orb.Bound{}, false
	}
	return geometryBound(f.Geometry)
}

func geometryBound(g orb.Geometry) (orb.Bound, bool) {
	if g == nil || empty(g) {
		return orb.Bound{}, false
	}
	b := g.Bound()
	if !fromBound(b).Finite() {
		return orb.Bound{}, false
	}
	return b, true
}

func collectionBound(fs []*geojson.Feature) (orb.Bound, bool) {
	var (
		out  orb.Bound
		seen bool
	)
	for _, f := range fs {
		b, ok := featureBound(f)
		if !ok {
			continue
		}
		if !seen {
			out, seen = b, true
			continue
		}
		out = out.Union(b)
	}
	return out, seen
}

func empty(g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.Polygon:
		for _, r := range v {
			if len(r) > 0 {
				return false
			}
		}
		return true
	case orb.MultiPolygon:
		for _, p := range v {
			if !empty(p) {
				return false
			}
		}
		return true
	case orb.Ring:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.MultiPoint:
		return len(v) == 0
	case orb.Collection:
		for _, c := range v {
			if c != nil && !empty(c) {
				return false
			}
		}
		return true
	}
	return false
}
