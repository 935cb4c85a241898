package geodata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"geo-drill/internal/antimeridian"
	"geo-drill/internal/logger"
	"geo-drill/internal/metrics"
	"geo-drill/internal/topology"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/singleflight"
)

const DefaultFetchTimeout = 5 * time.Second

// Entry is a decoded, repaired collection and the time it was stored.
type Entry struct {
	Data     *geojson.FeatureCollection
	LoadedAt time.Time
}

// Cache memoizes decoded collections per source key. Concurrent loads of
// the same key share one fetch; failed loads are never stored.
type Cache struct {
	src     Source
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
	gen     uint64
	group   singleflight.Group
}

type CacheOption func(*Cache)

// WithFetchTimeout bounds every fetch; expiry surfaces as ErrSourceUnavailable.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.log = l }
}

func NewCache(src Source, opts ...CacheOption) *Cache {
	c := &Cache{
		src:     src,
		timeout: DefaultFetchTimeout,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
	for _, fn := range opts {
		fn(c)
	}
	if c.log == nil {
		c.log = logger.Component("geodata")
	}
	return c
}

// Load returns the collection for key, fetching, decoding and repairing it
// on first use. Canceling ctx abandons the wait but not the shared fetch.
func (c *Cache) Load(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		metrics.CacheHitsTotal.Inc()
		c.log.Debug("cache_load_hit", "key", key)
		return e.Data, nil
	}
	gen := c.gen
	c.mu.Unlock()
	metrics.CacheMissesTotal.Inc()
	c.log.Debug("cache_load_miss", "key", key)

	ch := c.group.DoChan(strconv.FormatUint(gen, 10)+"|"+key, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), key, gen)
	})
	select {
	case <-ctx.Done():
		return nil, unavailable(key, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*geojson.FeatureCollection), nil
	}
}

func (c *Cache) fetch(ctx context.Context, key string, gen uint64) (*geojson.FeatureCollection, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	kind := sourceName(c.src)
	raw, err := c.src.Fetch(ctx, key)
	metrics.SourceFetchDurationMs.WithLabelValues(kind).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		status := "fail"
		if errors.Is(err, ErrNotFound) {
			status = "not_found"
		}
		metrics.SourceFetchTotal.WithLabelValues(kind, status).Inc()
		c.log.Warn("cache_fetch_fail", "key", key, "source", kind, "err", err)
		if !errors.Is(err, ErrSourceUnavailable) {
			err = unavailable(key, err)
		}
		return nil, err
	}
	metrics.SourceFetchTotal.WithLabelValues(kind, "ok").Inc()

	fc, err := topology.Decode(raw)
	if err != nil {
		metrics.DecodeFailTotal.Inc()
		c.log.Error("cache_decode_fail", "key", key, "bytes", len(raw), "err", err)
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	fixed := antimeridian.Repair(fc)
	if n := antimeridian.RepairedCount(fc, fixed); n > 0 {
		metrics.RepairedFeaturesTotal.Add(float64(n))
		c.log.Debug("cache_antimeridian_repair", "key", key, "features", n)
	}

	c.mu.Lock()
	stored := c.gen == gen
	if stored {
		c.entries[key] = Entry{Data: fixed, LoadedAt: c.now()}
	}
	c.mu.Unlock()
	metrics.LoadDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	c.log.Info("cache_load_ok", "key", key, "features", len(fixed.Features), "stored", stored, "ms", time.Since(start).Milliseconds())
	return fixed, nil
}

// Clear evicts every entry. Loads in flight at the time of the call finish
// for their callers but are not stored.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.gen++
	c.mu.Unlock()
	metrics.CacheClearsTotal.Inc()
	c.log.Info("cache_clear")
}

func (c *Cache) Entry(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func sourceName(s Source) string {
	switch s.(type) {
	case *FileSource:
		return "file"
	case *HTTPSource:
		return "http"
	case *S3Source:
		return "s3"
	case *RedisSource:
		return "redis"
	}
	return "custom"
}
