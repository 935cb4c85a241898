// Package antimeridian unwraps polygon rings that cross the ±180° seam.
//
// A ring whose longitude span exceeds 180° is assumed to wrap the seam and is
// moved onto the eastern branch by adding 360 to every negative longitude.
// This is a heuristic: a genuinely wide ring that does not wrap is distorted,
// and rings crossing the seam more than once are not reconstructed exactly.
package antimeridian

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// MaxSpan is the longitude span above which a ring is treated as crossing.
const MaxSpan = 180.0

// RingSpan returns max(lng) - min(lng) over the ring, 0 for an empty ring.
func RingSpan(r orb.Ring) float64 {
	if len(r) == 0 {
		return 0
	}
	lo, hi := r[0][0], r[0][0]
	for _, p := range r[1:] {
		if p[0] < lo {
			lo = p[0]
		}
		if p[0] > hi {
			hi = p[0]
		}
	}
	return hi - lo
}

// Crosses reports whether any ring of the geometry spans more than MaxSpan.
func Crosses(g orb.Geometry) bool {
	found := false
	eachRing(g, func(r orb.Ring) {
		if RingSpan(r) > MaxSpan {
			found = true
		}
	})
	return found
}

// Repair returns a collection whose crossing rings are unwrapped. The input is
// not modified; features without a changed coordinate are shared by pointer.
func Repair(fc *geojson.FeatureCollection) *geojson.FeatureCollection {
	if fc == nil {
		return nil
	}
	out := &geojson.FeatureCollection{
		Type:         fc.Type,
		BBox:         fc.BBox,
		Features:     make([]*geojson.Feature, len(fc.Features)),
		ExtraMembers: fc.ExtraMembers,
	}
	for i, f := range fc.Features {
		out.Features[i] = repairFeature(f)
	}
	return out
}

// RepairedCount reports how many features Repair replaced.
func RepairedCount(before, after *geojson.FeatureCollection) int {
	if before == nil || after == nil || len(before.Features) != len(after.Features) {
		return 0
	}
	n := 0
	for i := range before.Features {
		if before.Features[i] != after.Features[i] {
			n++
		}
	}
	return n
}

func repairFeature(f *geojson.Feature) *geojson.Feature {
	if f == nil || f.Geometry == nil {
		return f
	}
	var geom orb.Geometry
	switch g := f.Geometry.(type) {
	case orb.Polygon:
		p, changed := repairPolygon(g)
		if !changed {
			return f
		}
		geom = p
	case orb.MultiPolygon:
		var mp orb.MultiPolygon
		for i, p := range g {
			rp, changed := repairPolygon(p)
			if !changed {
				continue
			}
			if mp == nil {
				mp = make(orb.MultiPolygon, len(g))
				copy(mp, g)
			}
			mp[i] = rp
		}
		if mp == nil {
			return f
		}
		geom = mp
	default:
		return f
	}
	cp := *f
	cp.Geometry = geom
	cp.BBox = nil
	return &cp
}

func repairPolygon(p orb.Polygon) (orb.Polygon, bool) {
	var out orb.Polygon
	for i, r := range p {
		rr, changed := repairRing(r)
		if !changed {
			continue
		}
		if out == nil {
			out = make(orb.Polygon, len(p))
			copy(out, p)
		}
		out[i] = rr
	}
	if out == nil {
		return p, false
	}
	return out, true
}

func repairRing(r orb.Ring) (orb.Ring, bool) {
	if RingSpan(r) <= MaxSpan {
		return r, false
	}
	var out orb.Ring
	for i, pt := range r {
		if pt[0] >= 0 {
			continue
		}
		if out == nil {
			out = make(orb.Ring, len(r))
			copy(out, r)
		}
		out[i] = orb.Point{pt[0] + 360, pt[1]}
	}
	if out == nil {
		return r, false
	}
	return out, true
}

func eachRing(g orb.Geometry, fn func(orb.Ring)) {
	switch v := g.(type) {
	case orb.Polygon:
		for _, r := range v {
			fn(r)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			for _, r := range p {
				fn(r)
			}
		}
	case orb.Ring:
		fn(v)
	}
}
