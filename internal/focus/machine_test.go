package focus

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"geo-drill/internal/logger"
	"geo-drill/internal/render"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func init() { logger.SetDefault(logger.Discard()) }

type fit struct {
	view      render.View
	paddingPx int
}

type jump struct {
	center orb.Point
	zoom   float64
}

type fakeRenderer struct {
	mu     sync.Mutex
	frames []render.Frame
	fits   []fit
	jumps  []jump
}

func (r *fakeRenderer) Render(f render.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *fakeRenderer) FitBounds(v render.View, paddingPx int, _ time.Duration) {
	r.mu.Lock()
	r.fits = append(r.fits, fit{view: v, paddingPx: paddingPx})
	r.mu.Unlock()
}

func (r *fakeRenderer) JumpTo(center orb.Point, zoom float64) {
	r.mu.Lock()
	r.jumps = append(r.jumps, jump{center: center, zoom: zoom})
	r.mu.Unlock()
}

func (r *fakeRenderer) lastFrame(t *testing.T) render.Frame {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		t.Fatalf("no frame rendered")
	}
	return r.frames[len(r.frames)-1]
}

func (r *fakeRenderer) lastFit(t *testing.T) fit {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fits) == 0 {
		t.Fatalf("no fit issued")
	}
	return r.fits[len(r.fits)-1]
}

func (r *fakeRenderer) counts() (frames, fits, jumps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames), len(r.fits), len(r.jumps)
}

func box(name string, minLng, minLat, maxLng, maxLat float64) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{orb.Ring{
		{minLng, minLat}, {maxLng, minLat}, {maxLng, maxLat}, {minLng, maxLat}, {minLng, minLat},
	}})
	f.Properties["name"] = name
	return f
}

func collection(fs ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range fs {
		fc.Append(f)
	}
	return fc
}

func world() *geojson.FeatureCollection {
	return collection(
		box("United States of America", -125, 25, -67, 49),
		box("Mexico", -117, 15, -87, 32),
		box("France", -5, 42, 8, 51),
	)
}

// usStates returns 49 contiguous tiles plus Alaska (already unwrapped east
// of the seam) and Hawaii: 51 features.
func usStates() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	names := []string{"Texas", "California"}
	for i := 0; i < 49; i++ {
		col, row := i%7, i/7
		minLng := -124 + float64(col)*8
		minLat := 25 + float64(row)*3.4
		name := fmt.Sprintf("State %d", i)
		if i < len(names) {
			name = names[i]
		}
		fc.Append(box(name, minLng, minLat, minLng+8, minLat+3.4))
	}
	fc.Append(box("Alaska", 172, 51, 230, 71))
	fc.Append(box("Hawaii", -160, 18, -154, 22))
	return fc
}

type loaderCall struct {
	level  int
	parent string
}

type harness struct {
	m     *Machine
	r     *fakeRenderer
	mu    sync.Mutex
	calls []loaderCall
}

func newHarness(t *testing.T, levels map[int]map[string]*geojson.FeatureCollection, opts ...Option) *harness {
	t.Helper()
	h := &harness{r: &fakeRenderer{}}
	cfg := Config{
		World:          func(context.Context) (*geojson.FeatureCollection, error) { return world(), nil },
		WorldSourceKey: "world",
	}
	for l := 1; l <= DefaultMaxLevel; l++ {
		level := l
		cfg.Levels = append(cfg.Levels, LevelConfig{
			SourceKey: fmt.Sprintf("level-%d", level),
			Variant:   render.VariantRegion,
			Load: func(ctx context.Context, parent string) (*geojson.FeatureCollection, error) {
				h.mu.Lock()
				h.calls = append(h.calls, loaderCall{level: level, parent: parent})
				h.mu.Unlock()
				return levels[level][parent], nil
			},
		})
	}
	h.m = New(cfg, h.r, append([]Option{WithSettleDelay(0)}, opts...)...)
	if err := h.m.Mount(context.Background()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	return h
}

func assertStack(t *testing.T, s State) {
	t.Helper()
	if len(s.Stack) != s.Level {
		t.Fatalf("stack length %d != level %d", len(s.Stack), s.Level)
	}
	for i, e := range s.Stack {
		if e.Level != i+1 {
			t.Fatalf("stack[%d].Level = %d", i, e.Level)
		}
	}
}

func TestMountRendersWorld(t *testing.T) {
	h := newHarness(t, nil)
	f := h.r.lastFrame(t)
	if f.Level != 0 || len(f.Data.Features) != 3 || f.InteractiveSourceID != "world" {
		t.Fatalf("unexpected world frame: %+v", f)
	}
	if _, _, jumps := h.r.counts(); jumps != 1 {
		t.Fatalf("expected a jump to the world view, got %d", jumps)
	}
	s := h.m.State()
	if s.Level != 0 || s.Loading || s.Transitioning {
		t.Fatalf("state after mount: %+v", s)
	}
}

func TestMountFailsWithoutWorld(t *testing.T) {
	boom := errors.New("boom")
	m := New(Config{World: func(context.Context) (*geojson.FeatureCollection, error) { return nil, boom }}, &fakeRenderer{})
	if err := m.Mount(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	// Navigation before a successful mount is ignored.
	if err := m.Focus(context.Background(), "France"); err != nil {
		t.Fatalf("focus: %v", err)
	}
	if s := m.State(); s.Level != 0 {
		t.Fatalf("level %d", s.Level)
	}
}

func TestEndToEndDrill(t *testing.T) {
	h := newHarness(t, map[int]map[string]*geojson.FeatureCollection{
		1: {"United States of America": usStates()},
	})
	ctx := context.Background()
	usa := h.r.lastFrame(t).Data.Features[0]

	if err := h.m.Click(ctx, usa, 0); err != nil {
		t.Fatalf("click usa: %v", err)
	}
	s := h.m.State()
	if s.Level != 1 || s.DataLevel != 1 || s.Fallback {
		t.Fatalf("state after usa: %+v", s)
	}
	frame := h.r.lastFrame(t)
	if len(frame.Data.Features) != 51 || frame.InteractiveSourceID != "level-1" {
		t.Fatalf("frame after usa: %d features, source %q", len(frame.Data.Features), frame.InteractiveSourceID)
	}
	v := h.r.lastFit(t).view
	if v.Box[0][0] < -130 || v.Box[1][0] > -60 {
		t.Fatalf("outliers leaked into US fit: %v", v.Box)
	}

	var texas *geojson.Feature
	for _, f := range frame.Data.Features {
		if f.Properties["name"] == "Texas" {
			texas = f
		}
	}
	if err := h.m.Click(ctx, texas, 1); err != nil {
		t.Fatalf("click texas: %v", err)
	}
	s = h.m.State()
	assertStack(t, s)
	if s.Level != 2 || s.DataLevel != 1 || !s.Fallback {
		t.Fatalf("state after texas: %+v", s)
	}
	frame = h.r.lastFrame(t)
	if len(frame.Data.Features) != 51 || frame.HighlightValue != "Texas" || frame.HighlightProperty != "name" {
		t.Fatalf("fallback frame: %d features, highlight %q", len(frame.Data.Features), frame.HighlightValue)
	}
	v = h.r.lastFit(t).view
	if v.Box[0][0] < -125 || v.Box[1][0] > -114 {
		t.Fatalf("fit should cover Texas alone: %v", v.Box)
	}
	if got := h.calls; len(got) != 2 || got[0] != (loaderCall{1, "United States of America"}) || got[1] != (loaderCall{2, "Texas"}) {
		t.Fatalf("loader calls: %+v", got)
	}
}

func TestFallbackSiblingReselection(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.m.FocusAt(ctx, "Atlantis", 1); err != nil {
		t.Fatalf("focus: %v", err)
	}
	if s := h.m.State(); !s.Fallback || s.DataLevel != 0 {
		t.Fatalf("expected fallback to world: %+v", s)
	}
	for _, name := range []string{"Texas", "California"} {
		if err := h.m.Focus(ctx, name); err != nil {
			t.Fatalf("focus %s: %v", name, err)
		}
	}
	s := h.m.State()
	assertStack(t, s)
	if len(s.Stack) != 1 || s.Stack[0].Name != "California" {
		t.Fatalf("expected sibling reselection, got %+v", s.Stack)
	}
}

func TestExitFocusResets(t *testing.T) {
	h := newHarness(t, map[int]map[string]*geojson.FeatureCollection{
		1: {"United States of America": usStates()},
	})
	ctx := context.Background()
	h.m.FocusAt(ctx, "United States of America", 1)
	h.m.Focus(ctx, "Texas")
	h.m.Hover(box("California", 0, 0, 1, 1))
	_, fitsBefore, jumpsBefore := h.r.counts()

	h.m.ExitFocus()
	s := h.m.State()
	if s.Level != 0 || len(s.Stack) != 0 || s.Hovered != "" || s.Fallback {
		t.Fatalf("exit state: %+v", s)
	}
	_, fits, jumps := h.r.counts()
	if jumps != jumpsBefore+1 || fits != fitsBefore {
		t.Fatalf("exit should jump without fitting: fits %d->%d jumps %d->%d", fitsBefore, fits, jumpsBefore, jumps)
	}
	h.r.mu.Lock()
	j := h.r.jumps[len(h.r.jumps)-1]
	h.r.mu.Unlock()
	if j.center != DefaultWorldCenter || j.zoom != DefaultWorldZoom {
		t.Fatalf("jump target: %+v", j)
	}
	if f := h.r.lastFrame(t); f.Level != 0 || len(f.Data.Features) != 3 {
		t.Fatalf("exit frame: %+v", f)
	}
}

func TestGoBack(t *testing.T) {
	h := newHarness(t, map[int]map[string]*geojson.FeatureCollection{
		1: {"United States of America": usStates()},
	})
	ctx := context.Background()
	h.m.FocusAt(ctx, "United States of America", 1)
	h.m.Focus(ctx, "Texas")
	h.m.Hover(box("Texas", 0, 0, 1, 1))

	h.m.GoBack()
	s := h.m.State()
	assertStack(t, s)
	if s.Level != 1 || s.DataLevel != 1 || s.Hovered != "" || s.Stack[0].Name != "United States of America" {
		t.Fatalf("after back: %+v", s)
	}
	if v := h.r.lastFit(t).view; v.Box[0][0] < -130 {
		t.Fatalf("back should refit to the US mainland: %v", v.Box)
	}

	h.m.GoBack()
	if s := h.m.State(); s.Level != 0 || len(s.Stack) != 0 {
		t.Fatalf("after second back: %+v", s)
	}
	frames, _, _ := h.r.counts()
	h.m.GoBack()
	if f, _, _ := h.r.counts(); f != frames {
		t.Fatalf("back at level 0 should be a no-op")
	}
}

func TestNavigationIgnoredWhileLocked(t *testing.T) {
	h := newHarness(t, nil, WithSettleDelay(time.Hour))
	ctx := context.Background()
	h.m.FocusAt(ctx, "France", 1)
	s := h.m.State()
	if !s.Transitioning || !s.Loading {
		t.Fatalf("expected lock during settle: %+v", s)
	}
	h.m.FocusAt(ctx, "Mexico", 1)
	h.m.GoBack()
	if s := h.m.State(); s.Level != 1 || s.Stack[0].Name != "France" {
		t.Fatalf("locked navigation leaked: %+v", s)
	}
	h.m.ExitFocus()
	s = h.m.State()
	if s.Level != 0 || s.Transitioning || s.Loading {
		t.Fatalf("exit should clear the lock: %+v", s)
	}
}

func TestSettleDelayReleasesLock(t *testing.T) {
	h := newHarness(t, nil, WithSettleDelay(10*time.Millisecond))
	released := make(chan struct{}, 1)
	unsub := h.m.Subscribe(func(s State) {
		if s.Level == 1 && !s.Transitioning && !s.Loading {
			select {
			case released <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()
	h.m.FocusAt(context.Background(), "France", 1)
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatalf("lock never released")
	}
}

func TestOutOfRangeLevelsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, level := range []int{0, -1, 2, DefaultMaxLevel + 1} {
		if err := h.m.FocusAt(ctx, "France", level); err != nil {
			t.Fatalf("level %d: %v", level, err)
		}
		if s := h.m.State(); s.Level != 0 {
			t.Fatalf("level %d accepted: %+v", level, s)
		}
	}
}

func TestLoadFailureReleasesFlags(t *testing.T) {
	boom := errors.New("backend down")
	r := &fakeRenderer{}
	m := New(Config{
		World: func(context.Context) (*geojson.FeatureCollection, error) { return world(), nil },
		Levels: []LevelConfig{{Load: func(context.Context, string) (*geojson.FeatureCollection, error) {
			return nil, boom
		}}},
	}, r, WithSettleDelay(0))
	if err := m.Mount(context.Background()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	err := m.FocusAt(context.Background(), "France", 1)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	s := m.State()
	assertStack(t, s)
	if s.Level != 1 || s.Loading || s.Transitioning || !errors.Is(s.Err, boom) || !s.Fallback {
		t.Fatalf("state after failure: %+v", s)
	}
	if f := r.lastFrame(t); f.HighlightValue != "France" || f.Level != 0 {
		t.Fatalf("failure should render the ancestor with the entity highlighted: %+v", f)
	}
	// The clicked-feature fallback still fits France.
	if v := r.lastFit(t).view; v.Box[0][0] > -5 || v.Box[1][0] < 8 || v.Box[1][0] > 9 {
		t.Fatalf("fit: %v", v.Box)
	}
}

func TestHungLoaderTimesOut(t *testing.T) {
	hang := make(chan struct{})
	defer close(hang)
	m := New(Config{
		World: func(context.Context) (*geojson.FeatureCollection, error) { return world(), nil },
		Levels: []LevelConfig{{Load: func(context.Context, string) (*geojson.FeatureCollection, error) {
			<-hang
			return nil, nil
		}}},
	}, &fakeRenderer{}, WithSettleDelay(0), WithLoadTimeout(20*time.Millisecond))
	if err := m.Mount(context.Background()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := m.FocusAt(context.Background(), "France", 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}
	if s := m.State(); s.Loading || s.Transitioning {
		t.Fatalf("flags not released: %+v", s)
	}
}

func TestExitSupersedesInFlightLoad(t *testing.T) {
	started := make(chan struct{})
	m := New(Config{
		World: func(context.Context) (*geojson.FeatureCollection, error) { return world(), nil },
		Levels: []LevelConfig{{Load: func(ctx context.Context, _ string) (*geojson.FeatureCollection, error) {
			close(started)
			<-ctx.Done()
			return usStates(), nil
		}}},
	}, &fakeRenderer{}, WithSettleDelay(0))
	if err := m.Mount(context.Background()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- m.FocusAt(context.Background(), "United States of America", 1) }()
	<-started
	m.ExitFocus()
	if err := <-done; err != nil {
		t.Fatalf("superseded load should not report an error: %v", err)
	}
	s := m.State()
	if s.Level != 0 || len(s.Stack) != 0 || s.Loading || s.Err != nil {
		t.Fatalf("stale load wrote state: %+v", s)
	}
}

func TestHover(t *testing.T) {
	h := newHarness(t, nil)
	var seen []string
	unsub := h.m.Subscribe(func(s State) { seen = append(seen, s.Hovered) })

	h.m.HoverAt(2, 45)
	if s := h.m.State(); s.Hovered != "France" {
		t.Fatalf("hover at: %+v", s)
	}
	if f := h.r.lastFrame(t); f.HighlightValue != "France" {
		t.Fatalf("hover frame: %+v", f)
	}
	h.m.HoverAt(100, -40)
	if s := h.m.State(); s.Hovered != "" {
		t.Fatalf("miss should clear hover: %+v", s)
	}
	h.m.Hover(h.r.lastFrame(t).Data.Features[1])
	h.m.ClearHover()
	unsub()
	h.m.Hover(h.r.lastFrame(t).Data.Features[0])

	want := []string{"France", "", "Mexico", ""}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("notifications: %q, want %q", seen, want)
	}
	if len(h.calls) != 0 {
		t.Fatalf("hover triggered a load")
	}
}

func TestStackInvariantUnderRandomNavigation(t *testing.T) {
	h := newHarness(t, map[int]map[string]*geojson.FeatureCollection{
		1: {"United States of America": usStates()},
	})
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	names := []string{"United States of America", "Texas", "California", "France", "Nowhere"}
	for i := 0; i < 500; i++ {
		switch rng.Intn(5) {
		case 0, 1:
			h.m.Focus(ctx, names[rng.Intn(len(names))])
		case 2:
			h.m.FocusAt(ctx, names[rng.Intn(len(names))], rng.Intn(DefaultMaxLevel+2))
		case 3:
			h.m.GoBack()
		case 4:
			if rng.Intn(4) == 0 {
				h.m.ExitFocus()
			}
		}
		s := h.m.State()
		assertStack(t, s)
		if s.Level < 0 || s.Level > DefaultMaxLevel || s.DataLevel > s.Level {
			t.Fatalf("step %d: %+v", i, s)
		}
	}
}

func TestViewportChangedIsRecorded(t *testing.T) {
	h := newHarness(t, nil)
	v := render.Viewport{Longitude: -98, Latitude: 39, Zoom: 3.5}
	h.m.ViewportChanged(v)
	if got := h.m.Viewport(); got != v {
		t.Fatalf("viewport: %+v", got)
	}
}
