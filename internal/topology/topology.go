// Package topology converts arc-encoded topology documents into standard
// GeoJSON feature collections and back.
package topology

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat    = errors.New("topology: unsupported format")
	ErrEmptyTopology        = errors.New("topology: empty object collection")
	ErrDanglingArcReference = errors.New("topology: dangling arc reference")
)

// Transform maps the quantized integer grid back to longitude/latitude.
type Transform struct {
	Scale     [2]float64 `json:"scale"`
	Translate [2]float64 `json:"translate"`
}

func (t *Transform) invertible() bool {
	return t == nil || (t.Scale[0] != 0 && t.Scale[1] != 0)
}

// Geometry is a topology geometry whose coordinates are arc indexes.
// Arcs holds [][]int for Polygon and [][][]int for MultiPolygon.
type Geometry struct {
	Type       string          `json:"type"`
	ID         any             `json:"id,omitempty"`
	Properties map[string]any  `json:"properties,omitempty"`
	Arcs       json.RawMessage `json:"arcs,omitempty"`
	Geometries []Geometry      `json:"geometries,omitempty"`
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	type alias Geometry
	var typ any
	if g.Type != "" {
		typ = g.Type
	}
	return json.Marshal(struct {
		Type any `json:"type"`
		alias
	}{Type: typ, alias: alias(g)})
}

// members returns the geometries of a collection, or the geometry itself.
func (g Geometry) members() []Geometry {
	if g.Type == "GeometryCollection" {
		return g.Geometries
	}
	return []Geometry{g}
}

// NamedObject keeps an entry of the "objects" member together with its key.
type NamedObject struct {
	Name     string
	Geometry Geometry
}

// Topology is a decoded topology document. Objects preserve document order.
type Topology struct {
	Type      string
	Objects   []NamedObject
	Arcs      [][][]float64
	Transform *Transform
	BBox      []float64
}

func (t *Topology) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type      string          `json:"type"`
		Objects   json.RawMessage `json:"objects"`
		Arcs      [][][]float64   `json:"arcs"`
		Transform *Transform      `json:"transform"`
		BBox      []float64       `json:"bbox"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	objs, err := decodeObjects(raw.Objects)
	if err != nil {
		return err
	}
	t.Type = raw.Type
	t.Objects = objs
	t.Arcs = raw.Arcs
	t.Transform = raw.Transform
	t.BBox = raw.BBox
	return nil
}

// decodeObjects walks the token stream so the key order of "objects" survives.
func decodeObjects(data json.RawMessage) ([]NamedObject, error) {
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("objects: expected object, got %v", tok)
	}
	var out []NamedObject
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)
		var g Geometry
		if err := dec.Decode(&g); err != nil {
			return nil, fmt.Errorf("objects.%s: %w", name, err)
		}
		out = append(out, NamedObject{Name: name, Geometry: g})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t Topology) MarshalJSON() ([]byte, error) {
	var objs bytes.Buffer
	objs.WriteByte('{')
	for i, o := range t.Objects {
		if i > 0 {
			objs.WriteByte(',')
		}
		k, err := json.Marshal(o.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(o.Geometry)
		if err != nil {
			return nil, err
		}
		objs.Write(k)
		objs.WriteByte(':')
		objs.Write(v)
	}
	objs.WriteByte('}')
	arcs := t.Arcs
	if arcs == nil {
		arcs = [][][]float64{}
	}
	return json.Marshal(struct {
		Type      string          `json:"type"`
		BBox      []float64       `json:"bbox,omitempty"`
		Transform *Transform      `json:"transform,omitempty"`
		Objects   json.RawMessage `json:"objects"`
		Arcs      [][][]float64   `json:"arcs"`
	}{Type: "Topology", BBox: t.BBox, Transform: t.Transform, Objects: objs.Bytes(), Arcs: arcs})
}

// Object returns the named object, or the first object in document order
// when name is empty.
func (t *Topology) Object(name string) (NamedObject, bool) {
	if len(t.Objects) == 0 {
		return NamedObject{}, false
	}
	if name == "" {
		return t.Objects[0], true
	}
	for _, o := range t.Objects {
		if o.Name == name {
			return o, true
		}
	}
	return NamedObject{}, false
}

// absoluteArcs undoes delta encoding and the quantization transform.
func (t *Topology) absoluteArcs() ([][][2]float64, error) {
	out := make([][][2]float64, len(t.Arcs))
	for i, arc := range t.Arcs {
		pts := make([][2]float64, 0, len(arc))
		var x, y float64
		for j, p := range arc {
			if len(p) < 2 {
				return nil, fmt.Errorf("%w: arc %d position %d has %d coordinates", ErrUnsupportedFormat, i, j, len(p))
			}
			if t.Transform == nil {
				pts = append(pts, [2]float64{p[0], p[1]})
				continue
			}
			x += p[0]
			y += p[1]
			pts = append(pts, [2]float64{
				x*t.Transform.Scale[0] + t.Transform.Translate[0],
				y*t.Transform.Scale[1] + t.Transform.Translate[1],
			})
		}
		out[i] = pts
	}
	return out, nil
}
