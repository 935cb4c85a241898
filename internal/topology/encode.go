package topology

import (
	"encoding/json"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultQuantization is the grid resolution used when none is given.
const DefaultQuantization = 1e5

// EncodeOptions controls Encode. Object defaults to "regions".
type EncodeOptions struct {
	Object       string
	Quantization float64
}

// Encode builds a quantized topology document with one arc per ring.
// Arcs are not shared between neighbouring rings; the output is valid input
// for Decode but not size-optimal.
func Encode(fc *geojson.FeatureCollection, opts EncodeOptions) *Topology {
	name := opts.Object
	if name == "" {
		name = "regions"
	}
	q := opts.Quantization
	if q < 2 {
		q = DefaultQuantization
	}
	b, ok := bounds(fc)
	tr := &Transform{Scale: [2]float64{1, 1}}
	if ok {
		tr.Translate = [2]float64{b.Min[0], b.Min[1]}
		if dx := b.Max[0] - b.Min[0]; dx > 0 {
			tr.Scale[0] = dx / (q - 1)
		}
		if dy := b.Max[1] - b.Min[1]; dy > 0 {
			tr.Scale[1] = dy / (q - 1)
		}
	}
	t := &Topology{Type: "Topology", Transform: tr}
	if ok {
		t.BBox = []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	}
	coll := Geometry{Type: "GeometryCollection"}
	for _, f := range fc.Features {
		g := Geometry{ID: f.ID, Properties: map[string]any(f.Properties)}
		switch geom := f.Geometry.(type) {
		case orb.Polygon:
			g.Type = "Polygon"
			g.Arcs = mustJSON(t.addPolygon(geom))
		case orb.MultiPolygon:
			g.Type = "MultiPolygon"
			polys := make([][][]int, 0, len(geom))
			for _, p := range geom {
				polys = append(polys, t.addPolygon(p))
			}
			g.Arcs = mustJSON(polys)
		}
		coll.Geometries = append(coll.Geometries, g)
	}
	t.Objects = []NamedObject{{Name: name, Geometry: coll}}
	return t
}

func (t *Topology) addPolygon(p orb.Polygon) [][]int {
	out := make([][]int, 0, len(p))
	for _, r := range p {
		out = append(out, []int{t.addArc(r)})
	}
	return out
}

// addArc quantizes and delta-encodes a ring; repeated grid cells are dropped.
func (t *Topology) addArc(r orb.Ring) int {
	arc := make([][]float64, 0, len(r))
	var px, py float64
	for i, pt := range r {
		x := math.Round((pt[0] - t.Transform.Translate[0]) / t.Transform.Scale[0])
		y := math.Round((pt[1] - t.Transform.Translate[1]) / t.Transform.Scale[1])
		if i > 0 && x == px && y == py {
			continue
		}
		if i == 0 {
			arc = append(arc, []float64{x, y})
		} else {
			arc = append(arc, []float64{x - px, y - py})
		}
		px, py = x, y
	}
	t.Arcs = append(t.Arcs, arc)
	return len(t.Arcs) - 1
}

func bounds(fc *geojson.FeatureCollection) (orb.Bound, bool) {
	var b orb.Bound
	seen := false
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		fb := f.Geometry.Bound()
		if !seen {
			b, seen = fb, true
			continue
		}
		b = b.Union(fb)
	}
	return b, seen
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
