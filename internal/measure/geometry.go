package measure

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Centroid is the area centroid of the feature's geometry.
func Centroid(f *geojson.Feature) (orb.Point, bool) {
	if f == nil || f.Geometry == nil || empty(f.Geometry) {
		return orb.Point{}, false
	}
	c, _ := planar.CentroidArea(f.Geometry)
	if !fromBound(c.Bound()).Finite() {
		return orb.Point{}, false
	}
	return c, true
}

// HitTest returns the first feature whose polygon contains pt. Points west
// of the seam are also tried on the eastern branch so unwrapped rings match.
func HitTest(fc *geojson.FeatureCollection, pt orb.Point) *geojson.Feature {
	if fc == nil {
		return nil
	}
	candidates := []orb.Point{pt}
	if pt[0] < 0 {
		candidates = append(candidates, orb.Point{pt[0] + 360, pt[1]})
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		for _, p := range candidates {
			if contains(f.Geometry, p) {
				return f
			}
		}
	}
	return nil
}

func contains(g orb.Geometry, pt orb.Point) bool {
	switch v := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(v, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(v, pt)
	}
	return false
}
