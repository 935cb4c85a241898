package geodata

import (
	"context"
	"sync"
	"time"

	"geo-drill/internal/logger"
	"geo-drill/internal/metrics"

	"github.com/paulmach/orb/geojson"
)

const DefaultHealthInterval = 60 * time.Second

// Resilient prefers the remote API and falls back to local files when the
// API is unhealthy, errors, or has nothing for the request.
type Resilient struct {
	API      *APIClient
	Local    *Loader
	Dir      string
	Interval time.Duration

	now     func() time.Time
	mu      sync.Mutex
	healthy bool
	checked time.Time
}

func NewResilient(api *APIClient, local *Loader, dir string, interval time.Duration) *Resilient {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &Resilient{API: api, Local: local, Dir: dir, Interval: interval, now: time.Now}
}

// Healthy returns the cached probe result, probing again once Interval
// has passed since the last probe.
func (r *Resilient) Healthy(ctx context.Context) bool {
	if r.API == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.checked.IsZero() && r.now().Sub(r.checked) < r.Interval {
		return r.healthy
	}
	return r.probeLocked(ctx)
}

// ForceRecheck probes immediately regardless of the interval.
func (r *Resilient) ForceRecheck(ctx context.Context) bool {
	if r.API == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probeLocked(ctx)
}

func (r *Resilient) probeLocked(ctx context.Context) bool {
	err := r.API.Health(ctx)
	r.healthy = err == nil
	r.checked = r.now()
	if err != nil {
		metrics.APIHealthChecksTotal.WithLabelValues("fail").Inc()
		logger.L().Warn("api_health_fail", "base", r.API.Base, "err", err)
	} else {
		metrics.APIHealthChecksTotal.WithLabelValues("ok").Inc()
		logger.L().Debug("api_health_ok", "base", r.API.Base)
	}
	return r.healthy
}

func (r *Resilient) markUnhealthy() {
	r.mu.Lock()
	r.healthy = false
	r.checked = r.now()
	r.mu.Unlock()
}

func (r *Resilient) World(ctx context.Context) (*geojson.FeatureCollection, error) {
	if r.Healthy(ctx) {
		fc, err := r.API.Entities(ctx, 0)
		if err == nil && len(fc.Features) > 0 {
			return fc, nil
		}
		logger.L().Warn("api_world_fallback", "err", err)
		if err != nil {
			r.markUnhealthy()
		}
	}
	return r.Local.World(ctx)
}

// Children loads the entities at level below parent.
func (r *Resilient) Children(ctx context.Context, parent string, level int) (*geojson.FeatureCollection, error) {
	if r.Healthy(ctx) {
		fc, err := r.API.Children(ctx, parent, level)
		if err == nil && len(fc.Features) > 0 {
			return fc, nil
		}
		logger.L().Debug("api_children_fallback", "parent", parent, "level", level, "err", err)
		if err != nil && !isNotFound(err) {
			r.markUnhealthy()
		}
	}
	return r.Local.Entity(ctx, r.Dir, parent)
}

// LevelLoader binds Children to level for the focus machine.
func (r *Resilient) LevelLoader(level int) func(context.Context, string) (*geojson.FeatureCollection, error) {
	return func(ctx context.Context, parent string) (*geojson.FeatureCollection, error) {
		return r.Children(ctx, parent, level)
	}
}
