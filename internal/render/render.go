// Package render defines what the focus machine asks of a map renderer.
// Pixel rendering and basemap tiles live on the other side of this boundary.
package render

import (
	"log/slog"
	"time"

	"geo-drill/internal/measure"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Variant selects the visual treatment of a level.
type Variant string

const (
	VariantWorld   Variant = "world"
	VariantCountry Variant = "country"
	VariantRegion  Variant = "region"
)

// Frame is one layer update. HighlightValue is matched against
// Data feature property HighlightProperty; empty means no highlight.
type Frame struct {
	Data                *geojson.FeatureCollection
	HighlightProperty   string
	HighlightValue      string
	InteractiveSourceID string
	Variant             Variant
	Level               int
}

// View is a fitted camera target.
type View struct {
	Box    measure.FitBox
	Center orb.Point
	Zoom   float64
}

// Viewport is the camera state reported back by the host.
type Viewport struct {
	Longitude float64
	Latitude  float64
	Zoom      float64
	Pitch     float64
	Bearing   float64
}

// Renderer receives layer and camera requests. Calls are made without the
// caller holding any lock and may arrive from load goroutines.
type Renderer interface {
	Render(Frame)
	FitBounds(v View, paddingPx int, d time.Duration)
	JumpTo(center orb.Point, zoom float64)
}

// LogRenderer writes every request to a slog logger.
type LogRenderer struct {
	Log *slog.Logger
}

func NewLogRenderer(l *slog.Logger) *LogRenderer { return &LogRenderer{Log: l} }

func (r *LogRenderer) Render(f Frame) {
	n := 0
	if f.Data != nil {
		n = len(f.Data.Features)
	}
	r.Log.Info("render_frame",
		"level", f.Level,
		"variant", string(f.Variant),
		"source", f.InteractiveSourceID,
		"features", n,
		"highlight_property", f.HighlightProperty,
		"highlight", f.HighlightValue,
	)
}

func (r *LogRenderer) FitBounds(v View, paddingPx int, d time.Duration) {
	r.Log.Info("render_fit_bounds",
		"min_lng", v.Box[0][0], "min_lat", v.Box[0][1],
		"max_lng", v.Box[1][0], "max_lat", v.Box[1][1],
		"zoom", v.Zoom, "padding_px", paddingPx, "duration_ms", d.Milliseconds(),
	)
}

func (r *LogRenderer) JumpTo(center orb.Point, zoom float64) {
	r.Log.Info("render_jump_to", "lng", center[0], "lat", center[1], "zoom", zoom)
}
