package focus

import (
	"context"
	"log/slog"
	"time"

	"geo-drill/internal/measure"
	"geo-drill/internal/render"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	DefaultMaxLevel    = 4
	DefaultSettleDelay = 600 * time.Millisecond
	DefaultLoadTimeout = 10 * time.Second
	DefaultPaddingPx   = 40
	DefaultFitDuration = 1200 * time.Millisecond
	DefaultWorldZoom   = 2.0
)

// DefaultWorldCenter shows every populated continent at DefaultWorldZoom.
var DefaultWorldCenter = orb.Point{0, 20}

// DataLoader returns the collection for a level given the entity focused at
// that level. A nil or empty collection means the level has no data for it.
type DataLoader func(ctx context.Context, parent string) (*geojson.FeatureCollection, error)

// LevelConfig describes one drill level below the world.
type LevelConfig struct {
	SourceKey         string
	HighlightProperty string
	Variant           render.Variant
	Load              DataLoader
}

// Config wires the machine. Levels[i] configures level i+1; levels without
// a config behave as levels without data.
type Config struct {
	World          func(ctx context.Context) (*geojson.FeatureCollection, error)
	WorldSourceKey string
	Levels         []LevelConfig
	MaxLevel       int

	Padding     float64
	Window      measure.Window
	PaddingPx   int
	FitDuration time.Duration
	LoadTimeout time.Duration
	SettleDelay time.Duration
}

type Option func(*Machine)

// WithSettleDelay overrides the lock release delay; zero releases as soon
// as the view request has been issued.
func WithSettleDelay(d time.Duration) Option {
	return func(m *Machine) { m.settle = d }
}

func WithLoadTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.loadTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

func (c Config) level(l int) LevelConfig {
	if l == 0 {
		return LevelConfig{SourceKey: c.WorldSourceKey, HighlightProperty: "name", Variant: render.VariantWorld}
	}
	if l-1 < len(c.Levels) {
		lc := c.Levels[l-1]
		if lc.HighlightProperty == "" {
			lc.HighlightProperty = "name"
		}
		return lc
	}
	return LevelConfig{HighlightProperty: "name", Variant: render.VariantRegion}
}
