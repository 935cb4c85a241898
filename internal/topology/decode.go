package topology

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type options struct {
	object string
}

type Option func(*options)

// WithObject selects the object collection to decode instead of the first one.
func WithObject(name string) Option {
	return func(o *options) { o.object = name }
}

// Decode accepts a GeoJSON FeatureCollection or a Topology document and
// returns a normalized feature collection.
func Decode(data []byte, opts ...Option) (*geojson.FeatureCollection, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		Normalize(fc)
		return fc, nil
	case "Topology":
		var t Topology
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return t.FeatureCollection(o.object)
	}
	return nil, fmt.Errorf("%w: type %q", ErrUnsupportedFormat, head.Type)
}

// FeatureCollection resolves every geometry of the selected object into a
// Polygon or MultiPolygon feature.
func (t *Topology) FeatureCollection(object string) (*geojson.FeatureCollection, error) {
	if !t.Transform.invertible() {
		return nil, fmt.Errorf("%w: transform scale %v is not invertible", ErrUnsupportedFormat, t.Transform.Scale)
	}
	obj, ok := t.Object(object)
	if !ok {
		if object == "" {
			return nil, ErrEmptyTopology
		}
		return nil, fmt.Errorf("%w: object %q not found", ErrUnsupportedFormat, object)
	}
	geoms := obj.Geometry.members()
	if len(geoms) == 0 {
		return nil, fmt.Errorf("%w: object %q", ErrEmptyTopology, obj.Name)
	}
	arcs, err := t.absoluteArcs()
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	for i, g := range geoms {
		geom, err := g.resolve(arcs)
		if err != nil {
			return nil, fmt.Errorf("object %q geometry %d: %w", obj.Name, i, err)
		}
		f := geojson.NewFeature(geom)
		f.ID = g.ID
		for k, v := range g.Properties {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	Normalize(fc)
	return fc, nil
}

// resolve returns nil for null and non-polygonal geometries.
func (g Geometry) resolve(arcs [][][2]float64) (orb.Geometry, error) {
	switch g.Type {
	case "Polygon":
		var rings [][]int
		if err := json.Unmarshal(g.Arcs, &rings); err != nil {
			return nil, fmt.Errorf("%w: polygon arcs: %v", ErrUnsupportedFormat, err)
		}
		return polygon(rings, arcs)
	case "MultiPolygon":
		var polys [][][]int
		if err := json.Unmarshal(g.Arcs, &polys); err != nil {
			return nil, fmt.Errorf("%w: multipolygon arcs: %v", ErrUnsupportedFormat, err)
		}
		mp := make(orb.MultiPolygon, 0, len(polys))
		for _, rings := range polys {
			p, err := polygon(rings, arcs)
			if err != nil {
				return nil, err
			}
			mp = append(mp, p)
		}
		return mp, nil
	}
	return nil, nil
}

func polygon(rings [][]int, arcs [][][2]float64) (orb.Polygon, error) {
	p := make(orb.Polygon, 0, len(rings))
	for _, idx := range rings {
		r, err := ring(idx, arcs)
		if err != nil {
			return nil, err
		}
		p = append(p, r)
	}
	return p, nil
}

// ring stitches arcs end to end; the first point of every arc after the
// first duplicates the previous arc's last point and is dropped.
func ring(idx []int, arcs [][][2]float64) (orb.Ring, error) {
	var r orb.Ring
	for k, i := range idx {
		j, reversed := i, false
		if j < 0 {
			j, reversed = ^j, true
		}
		if j >= len(arcs) {
			return nil, fmt.Errorf("%w: index %d, %d arcs", ErrDanglingArcReference, i, len(arcs))
		}
		pts := arcs[j]
		n := len(pts)
		for m := 0; m < n; m++ {
			if k > 0 && m == 0 {
				continue
			}
			pt := pts[m]
			if reversed {
				pt = pts[n-1-m]
			}
			r = append(r, orb.Point{pt[0], pt[1]})
		}
	}
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	return r, nil
}
