package geodata

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"geo-drill/internal/logger"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
)

const twoRegions = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"name":"Texas"},"geometry":{"type":"Polygon","coordinates":[[[-106,26],[-94,26],[-94,36],[-106,36],[-106,26]]]}},
 {"type":"Feature","properties":{"NAME":"California"},"geometry":{"type":"Polygon","coordinates":[[[-124,32],[-114,32],[-114,42],[-124,42],[-124,32]]]}}
]}`

const crossing = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"name":"Fiji"},"geometry":{"type":"Polygon","coordinates":[[[177,-18],[-179,-18],[-179,-16],[177,-16],[177,-18]]]}}
]}`

func init() { logger.SetDefault(logger.Discard()) }

type memSource struct {
	mu      sync.Mutex
	docs    map[string][]byte
	calls   map[string]int
	started chan string
	gate    chan struct{}
	fail    map[string]error
}

func newMemSource(docs map[string]string) *memSource {
	s := &memSource{docs: map[string][]byte{}, calls: map[string]int{}, fail: map[string]error{}}
	for k, v := range docs {
		s.docs[k] = []byte(v)
	}
	return s
}

func (s *memSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.calls[key]++
	err := s.fail[key]
	b, ok := s.docs[key]
	started, gate := s.started, s.gate
	s.mu.Unlock()
	if started != nil {
		started <- key
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, unavailable(key, ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(key)
	}
	return b, nil
}

func (s *memSource) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func gz(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"United States of America": "united-states-of-america-admin",
		"  Côte d'Ivoire ":         "c-te-d-ivoire-admin",
		"Bosnia & Herzegovina":     "bosnia-herzegovina-admin",
		"--X--":                    "x-admin",
		"Area 51":                  "area-51-admin",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSourceErrorMatching(t *testing.T) {
	nf := notFound("a")
	if !errors.Is(nf, ErrNotFound) || !errors.Is(nf, ErrSourceUnavailable) {
		t.Fatalf("not found should match both sentinels")
	}
	un := unavailable("a", errors.New("boom"))
	if errors.Is(un, ErrNotFound) || !errors.Is(un, ErrSourceUnavailable) {
		t.Fatalf("unavailable should only match ErrSourceUnavailable")
	}
}

func TestFileSourcePrefersCompressedSibling(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "world.json"), []byte("plain"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "world.json.gz"), gz(t, "compressed"), 0o644); err != nil {
		t.Fatalf("write gz: %v", err)
	}
	b, err := NewFileSource(dir).Fetch(context.Background(), "world.json")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(b) != "compressed" {
		t.Fatalf("got %q", b)
	}
	lf, err := NewFileSource(dir).Locate("world.json")
	if err != nil || lf.Encoding != "gzip" || filepath.Base(lf.Path) != "world.json.gz" {
		t.Fatalf("locate: %+v %v", lf, err)
	}
	if lf.Info.Size() == int64(len("plain")) {
		t.Fatalf("locate reported the plain file size")
	}
}

func TestFileSourceList(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "admin-by-country")
	if err := os.MkdirAll(filepath.Join(sub, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, n := range []string{"b-admin.json", "b-admin.json.gz", "a-admin.json.zst"} {
		if err := os.WriteFile(filepath.Join(sub, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	src := NewFileSource(dir)
	keys, err := src.List(context.Background(), "admin-by-country")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 || keys[0] != "admin-by-country/a-admin.json" || keys[1] != "admin-by-country/b-admin.json" {
		t.Fatalf("keys: %v", keys)
	}
	if keys, err := src.List(context.Background(), "missing"); err != nil || len(keys) != 0 {
		t.Fatalf("missing dir: %v %v", keys, err)
	}

	var l Lister = NewRedisSource(src, nil, time.Minute)
	if keys, err := l.List(context.Background(), "admin-by-country"); err != nil || len(keys) != 2 {
		t.Fatalf("redis delegate: %v %v", keys, err)
	}
	l = NewRedisSource(newMemSource(nil), nil, time.Minute)
	if _, err := l.List(context.Background(), "admin-by-country"); !errors.Is(err, ErrListUnsupported) {
		t.Fatalf("unsupported: %v", err)
	}
}

func TestFileSourceMissingAndTraversal(t *testing.T) {
	src := NewFileSource(t.TempDir())
	if _, err := src.Fetch(context.Background(), "nope.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: got %v", err)
	}
	_, err := src.Fetch(context.Background(), "../etc/passwd")
	if err == nil || errors.Is(err, ErrNotFound) || !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("traversal: got %v", err)
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/geo/ok.json":
			w.Write(gz(t, twoRegions))
		case "/geo/broken.json":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	src := NewHTTPSource(srv.URL + "/geo/")

	b, err := src.Fetch(context.Background(), "ok.json")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(b) != twoRegions {
		t.Fatalf("body not inflated")
	}
	if _, err := src.Fetch(context.Background(), "missing.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("404: got %v", err)
	}
	_, err = src.Fetch(context.Background(), "broken.json")
	var se *SourceError
	if !errors.As(err, &se) || se.Status != http.StatusBadGateway || se.NotFound {
		t.Fatalf("502: got %v", err)
	}
}

func TestCacheDecodesAndRepairs(t *testing.T) {
	c := NewCache(newMemSource(map[string]string{"fiji.json": crossing}))
	fc, err := c.Load(context.Background(), "fiji.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ring := fc.Features[0].Geometry.(orb.Polygon)[0]
	for _, p := range ring {
		if p[0] < 0 {
			t.Fatalf("ring not repaired: %v", ring)
		}
	}
	e, ok := c.Entry("fiji.json")
	if !ok || e.Data != fc || e.LoadedAt.IsZero() {
		t.Fatalf("entry not stored")
	}
}

func TestCacheSingleFlight(t *testing.T) {
	src := newMemSource(map[string]string{"us.json": twoRegions})
	src.started = make(chan string, 8)
	src.gate = make(chan struct{})
	c := NewCache(src)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if fc, err := c.Load(context.Background(), "us.json"); err == nil && len(fc.Features) == 2 {
				ok.Add(1)
			}
		}()
	}
	<-src.started
	// Let the remaining callers join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	if ok.Load() != 8 {
		t.Fatalf("expected 8 successful loads, got %d", ok.Load())
	}
	if n := src.count("us.json"); n != 1 {
		t.Fatalf("expected one fetch, got %d", n)
	}
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	src := newMemSource(map[string]string{"us.json": twoRegions})
	src.fail["us.json"] = errors.New("flaky")
	c := NewCache(src)
	if _, err := c.Load(context.Background(), "us.json"); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("first load: got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("failure cached")
	}
	src.mu.Lock()
	delete(src.fail, "us.json")
	src.mu.Unlock()
	if _, err := c.Load(context.Background(), "us.json"); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if n := src.count("us.json"); n != 2 {
		t.Fatalf("expected refetch, got %d calls", n)
	}
}

func TestCacheDecodeErrorNotCached(t *testing.T) {
	c := NewCache(newMemSource(map[string]string{"bad.json": `{"type":"Feature"}`}))
	if _, err := c.Load(context.Background(), "bad.json"); err == nil {
		t.Fatalf("expected decode error")
	}
	if c.Len() != 0 {
		t.Fatalf("decode failure cached")
	}
}

func TestCacheClearDuringLoad(t *testing.T) {
	src := newMemSource(map[string]string{"us.json": twoRegions})
	src.started = make(chan string, 1)
	src.gate = make(chan struct{})
	c := NewCache(src)

	done := make(chan error, 1)
	go func() {
		_, err := c.Load(context.Background(), "us.json")
		done <- err
	}()
	<-src.started
	c.Clear()
	close(src.gate)
	if err := <-done; err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("stale load stored after clear")
	}
}

func TestCacheFetchTimeout(t *testing.T) {
	src := newMemSource(map[string]string{"slow.json": twoRegions})
	src.gate = make(chan struct{})
	defer close(src.gate)
	c := NewCache(src, WithFetchTimeout(20*time.Millisecond))
	_, err := c.Load(context.Background(), "slow.json")
	if !errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestLoaderWorldFallsBackToMediumRes(t *testing.T) {
	src := newMemSource(map[string]string{"world-50m.json": twoRegions})
	l := NewLoader(NewCache(src), "world-110m.json", "world-50m.json")
	fc, err := l.World(context.Background())
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features: %d", len(fc.Features))
	}
}

func TestLoaderWorldFailsWhenBothMissing(t *testing.T) {
	l := NewLoader(NewCache(newMemSource(nil)), "a.json", "b.json")
	if _, err := l.World(context.Background()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("got %v", err)
	}
}

func TestLoaderEntity(t *testing.T) {
	src := newMemSource(map[string]string{"admin/united-states-of-america-admin.json": twoRegions})
	l := NewLoader(NewCache(src), "w.json", "")
	load := l.EntityLoader("admin")
	fc, err := load(context.Background(), "United States of America")
	if err != nil || fc == nil || len(fc.Features) != 2 {
		t.Fatalf("entity: %v %v", fc, err)
	}
	fc, err = load(context.Background(), "Texas")
	if err != nil || fc != nil {
		t.Fatalf("missing entity should be (nil, nil), got %v %v", fc, err)
	}
}

func TestEntitiesToCollection(t *testing.T) {
	fc, err := EntitiesToCollection([]Entity{
		{ID: "1", Name: "Texas\x00", ISOCode: "US-TX", AdminLevel: 1, ParentCode: "US",
			Geometry: []byte(`{"type":"Polygon","coordinates":[[[-106,26],[-94,26],[-94,36],[-106,26]]]}`)},
		{ID: "2", Name: "Nowhere"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features: %d", len(fc.Features))
	}
	if got := fc.Features[0].Properties["name"]; got != "Texas" {
		t.Fatalf("name: %v", got)
	}
	if fc.Features[1].Geometry != nil {
		t.Fatalf("expected nil geometry")
	}
}

func newAPIServer(t *testing.T, healthy *atomic.Bool, probes *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /geo/entities", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("parentCode") == "US" {
			w.Write([]byte(`{"entities":[{"id":"tx","name":"Texas","adminLevel":1,"parentCode":"US",
				"geometry":{"type":"Polygon","coordinates":[[[-106,26],[-94,26],[-94,36],[-106,26]]]}}]}`))
			return
		}
		w.Write([]byte(`{"entities":[]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResilientPrefersAPIAndFallsBack(t *testing.T) {
	var healthy atomic.Bool
	var probes atomic.Int32
	healthy.Store(true)
	srv := newAPIServer(t, &healthy, &probes)

	local := NewLoader(NewCache(newMemSource(map[string]string{
		"world.json":              twoRegions,
		"admin/mexico-admin.json": twoRegions,
	})), "world.json", "")
	r := NewResilient(NewAPIClient(srv.URL), local, "admin", time.Hour)

	fc, err := r.Children(context.Background(), "US", 1)
	if err != nil || len(fc.Features) != 1 {
		t.Fatalf("api children: %v %v", fc, err)
	}
	// Empty API answer falls back to the local file.
	fc, err = r.Children(context.Background(), "Mexico", 1)
	if err != nil || len(fc.Features) != 2 {
		t.Fatalf("local children: %v %v", fc, err)
	}
	fc, err = r.World(context.Background())
	if err != nil || len(fc.Features) != 2 {
		t.Fatalf("world fallback: %v %v", fc, err)
	}
	if n := probes.Load(); n != 1 {
		t.Fatalf("expected a single cached probe, got %d", n)
	}
}

func TestResilientRecheck(t *testing.T) {
	var healthy atomic.Bool
	var probes atomic.Int32
	srv := newAPIServer(t, &healthy, &probes)
	r := NewResilient(NewAPIClient(srv.URL), nil, "admin", time.Hour)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	if r.Healthy(context.Background()) {
		t.Fatalf("expected unhealthy")
	}
	healthy.Store(true)
	if r.Healthy(context.Background()) {
		t.Fatalf("probe should be cached within the interval")
	}
	if !r.ForceRecheck(context.Background()) {
		t.Fatalf("forced recheck should see the healthy API")
	}
	healthy.Store(false)
	now = now.Add(2 * time.Hour)
	if r.Healthy(context.Background()) {
		t.Fatalf("expected reprobe after the interval")
	}
	if n := probes.Load(); n != 3 {
		t.Fatalf("probes: %d", n)
	}
}
