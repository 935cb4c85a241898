package geodata

import (
	"context"
	"errors"
	"path"
	"strings"

	"geo-drill/internal/logger"

	"github.com/paulmach/orb/geojson"
)

// Loader resolves world and per-entity collections through a Cache.
type Loader struct {
	Cache          *Cache
	WorldLowRes    string
	WorldMediumRes string
}

func NewLoader(c *Cache, low, medium string) *Loader {
	return &Loader{Cache: c, WorldLowRes: low, WorldMediumRes: medium}
}

// World loads the low resolution map, falling back to the medium one when
// the first source is unavailable. The world map is mandatory, so the last
// error is returned when both fail.
func (l *Loader) World(ctx context.Context) (*geojson.FeatureCollection, error) {
	fc, err := l.Cache.Load(ctx, l.WorldLowRes)
	if err == nil {
		return fc, nil
	}
	if !errors.Is(err, ErrSourceUnavailable) || l.WorldMediumRes == "" || ctx.Err() != nil {
		return nil, err
	}
	logger.L().Warn("world_low_res_fallback", "low", l.WorldLowRes, "medium", l.WorldMediumRes, "err", err)
	return l.Cache.Load(ctx, l.WorldMediumRes)
}

// Entity loads the per-entity file for name below dir. A missing file is
// not an error: it yields (nil, nil).
func (l *Loader) Entity(ctx context.Context, dir, name string) (*geojson.FeatureCollection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	key := EntityKey(dir, name)
	fc, err := l.Cache.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		logger.L().Debug("entity_file_missing", "key", key, "name", name)
		return nil, nil
	}
	return fc, err
}

// EntityLoader binds Entity to dir in the shape the focus machine expects.
func (l *Loader) EntityLoader(dir string) func(context.Context, string) (*geojson.FeatureCollection, error) {
	return func(ctx context.Context, parent string) (*geojson.FeatureCollection, error) {
		return l.Entity(ctx, dir, parent)
	}
}

// EntityKey is the source key of the per-entity file for name.
func EntityKey(dir, name string) string {
	return path.Join(dir, Slug(name)+".json")
}

// Slug lowercases name, collapses every run of non-alphanumeric ASCII
// characters to one hyphen, trims hyphens and appends "-admin".
func Slug(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String() + "-admin"
}
