// Package hooks runs observers: render functions that keep positional state
// across repeated invocations and register per-tick callbacks.
//
// An observer is mounted once and rendered immediately. Every call to
// Runtime.Tick first runs the frame callbacks registered by live observers, in
// mount order, and then re-renders each observer whose state was changed since
// its last render. Hook calls are matched to their state by call order, so an
// observer must call the same hooks in the same order on every render.
package hooks

import (
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"
)

// FrameEvent describes the tick a frame callback runs in.
type FrameEvent struct {
	Frame     uint64
	DeltaTime float64
}

// RenderFunc builds an observer's hooks.
type RenderFunc func(h *H)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used for observer lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// Runtime owns a set of mounted observers. Mount, Tick and Unmount must be
// called from a single goroutine; state setters may be called from any.
type Runtime struct {
	observers []*Observer
	frame     uint64
	ticking   bool
	logger    *slog.Logger
}

// NewRuntime creates an empty runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Frame returns the number of completed ticks.
func (r *Runtime) Frame() uint64 {
	return r.frame
}

// Len returns the number of live observers.
func (r *Runtime) Len() int {
	return len(r.observers)
}

// Mount registers an observer and renders it once before returning.
func (r *Runtime) Mount(name string, render RenderFunc) *Observer {
	o := &Observer{
		runtime: r,
		name:    name,
		render:  render,
		root:    newNode(name),
		stats:   observerStatsInternal{minFrameDuration: time.Duration(1<<63 - 1)},
	}
	r.observers = append(r.observers, o)
	r.logger.Debug("observer mounted", "observer", name)
	o.rerender()
	return o
}

// Tick advances the runtime by one frame. It panics if called from inside a
// render or a frame callback.
func (r *Runtime) Tick(dt float64) {
	if r.ticking {
		panic("hooks: Tick called re-entrantly")
	}
	r.ticking = true
	defer func() { r.ticking = false }()

	r.frame++
	ev := FrameEvent{Frame: r.frame, DeltaTime: dt}

	observers := slices.Clone(r.observers)
	for _, o := range observers {
		if o.torn.Load() {
			continue
		}
		start := time.Now()
		o.root.runFrames(o, ev)
		o.stats.recordFrame(time.Since(start))
	}
	for _, o := range observers {
		if o.torn.Load() || !o.dirty.Swap(false) {
			continue
		}
		o.rerender()
	}
}

func (r *Runtime) remove(o *Observer) {
	r.observers = slices.DeleteFunc(r.observers, func(other *Observer) bool {
		return other == o
	})
}

// Observer is a mounted render function together with its hook state.
type Observer struct {
	runtime *Runtime
	name    string
	render  RenderFunc
	root    *node
	torn    atomic.Bool
	dirty   atomic.Bool
	stats   observerStatsInternal
}

// Name returns the name the observer was mounted under.
func (o *Observer) Name() string {
	return o.name
}

// Mounted reports whether the observer is still live.
func (o *Observer) Mounted() bool {
	return !o.torn.Load()
}

// Invalidate schedules a re-render on the next tick.
func (o *Observer) Invalidate() {
	if o.torn.Load() {
		return
	}
	o.dirty.Store(true)
}

// Unmount tears the observer down. Its frame callbacks stop running and its
// state setters become no-ops. Unmounting twice is harmless.
func (o *Observer) Unmount() {
	if o.torn.Swap(true) {
		return
	}
	o.root.teardown()
	o.runtime.remove(o)
	o.runtime.logger.Debug("observer unmounted", "observer", o.name, "renders", o.stats.renders)
}

func (o *Observer) rerender() {
	start := time.Now()
	o.root.renderWith(o, o.render)
	o.stats.renders++
	o.stats.lastRenderDuration = time.Since(start)
}

// H is the handle hooks are called through during a render.
type H struct {
	observer *Observer
	node     *node
	cursor   int
	visited  map[string]bool
}

// Observer returns the observer being rendered.
func (h *H) Observer() *Observer {
	return h.observer
}

// Frame returns the runtime's current frame number.
func (h *H) Frame() uint64 {
	return h.observer.runtime.frame
}

// Child renders a keyed child within the current render. A child keeps its
// state for as long as its parent keeps rendering it under the same key;
// children skipped by a render are torn down.
func (h *H) Child(key string, render RenderFunc) {
	if h.visited == nil {
		h.visited = make(map[string]bool)
	}
	if h.visited[key] {
		panic(fmt.Sprintf("hooks: duplicate child key %q in %s", key, h.node.path))
	}
	h.visited[key] = true

	child, ok := h.node.children[key]
	if !ok {
		child = newNode(h.node.path + "/" + key)
		h.node.children[key] = child
		h.node.childOrder = append(h.node.childOrder, key)
	}
	child.renderWith(h.observer, render)
}

// slot returns the state slot at the cursor, creating it with init when the
// slot is new. kind distinguishes hooks that would otherwise share a Go type.
func (h *H) slot(kind string, init func() any) any {
	n := h.node
	idx := h.cursor
	h.cursor++
	if idx < len(n.slots) {
		s := n.slots[idx]
		if s.kind != kind {
			panic(fmt.Sprintf("hooks: hook %d in %s changed from %s to %s between renders", idx, n.path, s.kind, kind))
		}
		return s.value
	}
	if n.rendered {
		panic(fmt.Sprintf("hooks: %s called more hooks than on its first render", n.path))
	}
	v := init()
	n.slots = append(n.slots, slot{kind: kind, value: v})
	return v
}
