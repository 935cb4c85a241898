// Package focus implements the drill-down navigation state machine: a stack
// of focused entities, one per level below the world, with per-level data
// loads and a fallback to the nearest ancestor's data when a level has none.
package focus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"geo-drill/internal/logger"
	"geo-drill/internal/measure"
	"geo-drill/internal/metrics"
	"geo-drill/internal/render"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Entity is a focused entity; Level is its 1-based depth.
type Entity struct {
	Name  string
	Level int
}

// State is a snapshot of the machine. len(Stack) == Level and
// Stack[i].Level == i+1 always hold. DataLevel is the deepest level at or
// above Level whose data is on screen; Fallback reports DataLevel < Level.
type State struct {
	Level         int
	Stack         []Entity
	Hovered       string
	Loading       bool
	Transitioning bool
	DataLevel     int
	Fallback      bool
	Err           error
}

// Machine serializes navigation with a transition lock. Calls made while
// the lock is held, or with an out-of-range level, are silently dropped.
type Machine struct {
	cfg         Config
	r           render.Renderer
	log         *slog.Logger
	settle      time.Duration
	loadTimeout time.Duration

	mu            sync.Mutex
	mounted       bool
	level         int
	stack         []Entity
	hovered       string
	loading       bool
	transitioning bool
	data          map[int]*geojson.FeatureCollection
	focused       *geojson.Feature
	err           error
	epoch         uint64
	cancel        context.CancelFunc
	viewport      render.Viewport

	subMu  sync.Mutex
	subs   map[int]func(State)
	nextID int
}

func New(cfg Config, r render.Renderer, opts ...Option) *Machine {
	if cfg.MaxLevel <= 0 {
		cfg.MaxLevel = DefaultMaxLevel
	}
	if cfg.Window == (measure.Window{}) {
		cfg.Window = measure.DefaultWindow
	}
	if cfg.PaddingPx <= 0 {
		cfg.PaddingPx = DefaultPaddingPx
	}
	if cfg.FitDuration <= 0 {
		cfg.FitDuration = DefaultFitDuration
	}
	m := &Machine{
		cfg:         cfg,
		r:           r,
		settle:      DefaultSettleDelay,
		loadTimeout: DefaultLoadTimeout,
		data:        make(map[int]*geojson.FeatureCollection),
		subs:        make(map[int]func(State)),
	}
	if cfg.SettleDelay > 0 {
		m.settle = cfg.SettleDelay
	}
	if cfg.LoadTimeout > 0 {
		m.loadTimeout = cfg.LoadTimeout
	}
	for _, fn := range opts {
		fn(m)
	}
	if m.log == nil {
		m.log = logger.Component("focus")
	}
	return m
}

// Mount loads the world map, renders it and jumps to the default world
// view. A world load failure is returned and leaves the machine unmounted.
func (m *Machine) Mount(ctx context.Context) error {
	if m.cfg.World == nil {
		return fmt.Errorf("focus: no world loader configured")
	}
	ctx, cancel := context.WithTimeout(ctx, m.loadTimeout)
	defer cancel()
	fc, err := m.cfg.World(ctx)
	if err == nil && (fc == nil || len(fc.Features) == 0) {
		err = fmt.Errorf("focus: world map is empty")
	}
	if err != nil {
		m.log.Error("focus_mount_fail", "err", err)
		metrics.FocusTransitionsTotal.WithLabelValues("mount", "error").Inc()
		return err
	}
	m.mu.Lock()
	m.epoch++
	m.mounted = true
	m.level, m.stack, m.hovered, m.focused, m.err = 0, nil, "", nil, nil
	m.loading, m.transitioning = false, false
	m.data = map[int]*geojson.FeatureCollection{0: fc}
	frame := m.frameLocked()
	m.mu.Unlock()

	m.log.Info("focus_mount", "features", len(fc.Features))
	metrics.FocusTransitionsTotal.WithLabelValues("mount", "ok").Inc()
	m.r.Render(frame)
	m.r.JumpTo(DefaultWorldCenter, DefaultWorldZoom)
	m.notify()
	return nil
}

// Focus drills into name one level below the data currently on screen.
// While in fallback this reselects a sibling at the current level.
func (m *Machine) Focus(ctx context.Context, name string) error {
	m.mu.Lock()
	target := m.dataLevelLocked() + 1
	m.mu.Unlock()
	return m.focusAt(ctx, name, target, nil)
}

// FocusAt focuses name at level, truncating deeper stack entries.
func (m *Machine) FocusAt(ctx context.Context, name string, level int) error {
	return m.focusAt(ctx, name, level, nil)
}

// Click handles a click on f within the layer rendered for level. The
// clicked feature is kept for fitting when the next level has no data.
func (m *Machine) Click(ctx context.Context, f *geojson.Feature, level int) error {
	if f == nil {
		return nil
	}
	return m.focusAt(ctx, featureName(f), level+1, f)
}

type loadResult struct {
	fc  *geojson.FeatureCollection
	err error
}

func (m *Machine) focusAt(ctx context.Context, name string, level int, f *geojson.Feature) error {
	m.mu.Lock()
	if !m.mounted || m.transitioning || m.loading || name == "" ||
		level < 1 || level > m.cfg.MaxLevel || level-1 > len(m.stack) {
		m.mu.Unlock()
		m.log.Debug("focus_ignored", "name", name, "level", level)
		metrics.FocusTransitionsTotal.WithLabelValues("focus", "ignored").Inc()
		return nil
	}
	stack := make([]Entity, level-1, level)
	copy(stack, m.stack[:level-1])
	m.stack = append(stack, Entity{Name: name, Level: level})
	for l := range m.data {
		if l >= level {
			delete(m.data, l)
		}
	}
	if f == nil {
		f = findByName(m.data[m.dataLevelLocked()], name)
	}
	m.level = level
	m.focused = f
	m.hovered = ""
	m.err = nil
	m.loading, m.transitioning = true, true
	m.epoch++
	ep := m.epoch
	lc := m.cfg.level(level)
	lctx, cancel := context.WithTimeout(ctx, m.loadTimeout)
	m.cancel = cancel
	m.mu.Unlock()
	m.notify()
	m.log.Info("focus_begin", "name", name, "level", level)

	start := time.Now()
	res := m.runLoad(lctx, lc.Load, name)
	cancel()

	m.mu.Lock()
	if m.epoch != ep {
		m.mu.Unlock()
		m.log.Debug("focus_load_stale", "name", name, "level", level)
		metrics.FocusTransitionsTotal.WithLabelValues("focus", "stale").Inc()
		return nil
	}
	m.cancel = nil
	outcome := "ok"
	var box measure.FitBox
	var ferr error
	switch {
	case res.err != nil:
		outcome = "error"
		m.err = fmt.Errorf("focus %q at level %d: %w", name, level, res.err)
		delete(m.data, level)
		box, ferr = measure.FitFeature(m.focused, m.cfg.Padding)
	case res.fc == nil || len(res.fc.Features) == 0:
		outcome = "empty"
		box, ferr = measure.FitFeature(m.focused, m.cfg.Padding)
	default:
		m.data[level] = res.fc
		box, ferr = measure.FitBounds(res.fc, m.cfg.Padding, measure.WithWindow(m.cfg.Window))
	}
	frame := m.frameLocked()
	err := m.err
	m.mu.Unlock()

	switch outcome {
	case "error":
		m.log.Error("focus_load_fail", "name", name, "level", level, "err", res.err)
	case "empty":
		m.log.Info("focus_load_empty", "name", name, "level", level, "data_level", frame.Level)
	default:
		m.log.Info("focus_load_ok", "name", name, "level", level, "features", len(res.fc.Features), "ms", time.Since(start).Milliseconds())
	}
	metrics.FocusTransitionsTotal.WithLabelValues("focus", outcome).Inc()

	m.r.Render(frame)
	m.fit(box, ferr, level)
	m.settleAfter(ep)
	m.notify()
	return err
}

// runLoad returns when the loader does or when ctx expires, whichever is
// first, so a loader that ignores ctx cannot wedge navigation.
func (m *Machine) runLoad(ctx context.Context, load DataLoader, parent string) loadResult {
	if load == nil {
		return loadResult{}
	}
	ch := make(chan loadResult, 1)
	go func() {
		fc, err := load(ctx, parent)
		ch <- loadResult{fc: fc, err: err}
	}()
	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		return loadResult{err: ctx.Err()}
	}
}

// GoBack pops one level and refits to the nearest ancestor with data.
func (m *Machine) GoBack() {
	m.mu.Lock()
	if !m.mounted || m.transitioning || m.loading || m.level == 0 {
		m.mu.Unlock()
		metrics.FocusTransitionsTotal.WithLabelValues("back", "ignored").Inc()
		return
	}
	newLevel := m.level - 1
	m.stack = append([]Entity(nil), m.stack[:newLevel]...)
	for l := range m.data {
		if l > newLevel {
			delete(m.data, l)
		}
	}
	m.level = newLevel
	m.hovered = ""
	m.focused = nil
	m.err = nil
	m.transitioning = true
	m.epoch++
	ep := m.epoch
	ancestor := m.dataLevelLocked()
	box, ferr := measure.FitBounds(m.data[ancestor], m.cfg.Padding, measure.WithWindow(m.cfg.Window))
	frame := m.frameLocked()
	m.mu.Unlock()

	m.log.Info("focus_back", "level", newLevel, "data_level", ancestor)
	metrics.FocusTransitionsTotal.WithLabelValues("back", "ok").Inc()
	m.r.Render(frame)
	m.fit(box, ferr, ancestor)
	m.settleAfter(ep)
	m.notify()
}

// ExitFocus returns to the world view. It is always accepted and
// supersedes any load in flight.
func (m *Machine) ExitFocus() {
	m.mu.Lock()
	m.epoch++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.level, m.stack, m.hovered, m.focused, m.err = 0, nil, "", nil, nil
	m.loading, m.transitioning = false, false
	for l := range m.data {
		if l > 0 {
			delete(m.data, l)
		}
	}
	mounted := m.mounted
	frame := m.frameLocked()
	m.mu.Unlock()

	metrics.FocusTransitionsTotal.WithLabelValues("exit", "ok").Inc()
	if mounted {
		m.log.Info("focus_exit")
		m.r.Render(frame)
		m.r.JumpTo(DefaultWorldCenter, DefaultWorldZoom)
	}
	m.notify()
}

func (m *Machine) fit(box measure.FitBox, err error, level int) {
	if err != nil {
		m.log.Debug("focus_fit_skipped", "level", level, "err", err)
		return
	}
	b := box.BBox()
	m.r.FitBounds(render.View{
		Box:    box,
		Center: measure.Center(b),
		Zoom:   measure.ZoomForLevel(b, level),
	}, m.cfg.PaddingPx, m.cfg.FitDuration)
}

func (m *Machine) settleAfter(ep uint64) {
	release := func() {
		m.mu.Lock()
		if m.epoch != ep {
			m.mu.Unlock()
			return
		}
		m.loading, m.transitioning = false, false
		m.mu.Unlock()
		m.notify()
	}
	if m.settle <= 0 {
		release()
		return
	}
	time.AfterFunc(m.settle, release)
}

// Hover records the hovered feature's name; nil clears it. It never loads.
func (m *Machine) Hover(f *geojson.Feature) {
	name := ""
	if f != nil {
		name = featureName(f)
	}
	m.setHover(name)
}

// HoverAt hit-tests the rendered collection at lon/lat.
func (m *Machine) HoverAt(lon, lat float64) {
	m.mu.Lock()
	data := m.data[m.dataLevelLocked()]
	m.mu.Unlock()
	m.Hover(measure.HitTest(data, orb.Point{lon, lat}))
}

func (m *Machine) ClearHover() { m.setHover("") }

func (m *Machine) setHover(name string) {
	m.mu.Lock()
	if !m.mounted || m.hovered == name {
		m.mu.Unlock()
		return
	}
	m.hovered = name
	fallback := m.dataLevelLocked() < m.level
	frame := m.frameLocked()
	m.mu.Unlock()
	if !fallback {
		m.r.Render(frame)
	}
	m.notify()
}

// ViewportChanged records the camera reported by the host.
func (m *Machine) ViewportChanged(v render.Viewport) {
	m.mu.Lock()
	m.viewport = v
	m.mu.Unlock()
	m.log.Debug("focus_viewport", "lng", v.Longitude, "lat", v.Latitude, "zoom", v.Zoom)
}

func (m *Machine) Viewport() render.Viewport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Subscribe registers fn for state changes and returns its cancel func.
func (m *Machine) Subscribe(fn func(State)) func() {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Machine) notify() {
	s := m.State()
	m.subMu.Lock()
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (m *Machine) stateLocked() State {
	dl := m.dataLevelLocked()
	return State{
		Level:         m.level,
		Stack:         append([]Entity(nil), m.stack...),
		Hovered:       m.hovered,
		Loading:       m.loading,
		Transitioning: m.transitioning,
		DataLevel:     dl,
		Fallback:      dl < m.level,
		Err:           m.err,
	}
}

func (m *Machine) dataLevelLocked() int {
	for l := m.level; l > 0; l-- {
		if m.data[l] != nil {
			return l
		}
	}
	return 0
}

// frameLocked describes the visible layer. In fallback the focused entity
// is highlighted within the ancestor's data instead of the hovered region.
func (m *Machine) frameLocked() render.Frame {
	dl := m.dataLevelLocked()
	lc := m.cfg.level(dl)
	highlight := m.hovered
	if dl < m.level && len(m.stack) > 0 {
		highlight = m.stack[len(m.stack)-1].Name
	}
	return render.Frame{
		Data:                m.data[dl],
		HighlightProperty:   lc.HighlightProperty,
		HighlightValue:      highlight,
		InteractiveSourceID: lc.SourceKey,
		Variant:             lc.Variant,
		Level:               dl,
	}
}

func featureName(f *geojson.Feature) string {
	if f == nil || f.Properties == nil {
		return ""
	}
	s, _ := f.Properties["name"].(string)
	return s
}

func findByName(fc *geojson.FeatureCollection, name string) *geojson.Feature {
	if fc == nil {
		return nil
	}
	for _, f := range fc.Features {
		if featureName(f) == name {
			return f
		}
	}
	return nil
}
